package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sergiopesch/virtualpodcaststudio/internal/audio"
	"github.com/sergiopesch/virtualpodcaststudio/internal/bridge"
	"github.com/sergiopesch/virtualpodcaststudio/internal/config"
	"github.com/sergiopesch/virtualpodcaststudio/internal/observability"
	"github.com/sergiopesch/virtualpodcaststudio/internal/protocol"
	"github.com/sergiopesch/virtualpodcaststudio/internal/reliability"
)

type Server struct {
	cfg      config.Config
	registry *bridge.Registry
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func New(cfg config.Config, registry *bridge.Registry, metrics *observability.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		registry: registry,
		metrics:  metrics,
		logger:   logger.With(zap.String("component", "httpapi")),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/v1/sessions/{id}", func(r chi.Router) {
		r.Post("/audio", s.handleAppendAudio)
		r.Post("/commit", s.handleCommit)
		r.Post("/text", s.handleText)
		r.Post("/context", s.handleContext)
		r.Get("/", s.handleStatus)
		r.Delete("/", s.handleStop)
		r.Get("/turn.wav", s.handleTurnWAV)
		r.Get("/streams/audio", s.streamHandler("audio", protocol.KindAudio))
		r.Get("/streams/transcript", s.streamHandler("transcript", protocol.KindTranscript, protocol.KindAssistantDone))
		r.Get("/streams/user", s.streamHandler("user", protocol.KindUserTranscript, protocol.KindUserTranscriptDelta))
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"sessions": s.registry.Count(),
	})
}

// handleAppendAudio buffers one PCM16 chunk for the in-progress user turn.
// Sending audio to an unknown session creates and starts it.
func (s *Server) handleAppendAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req protocol.AppendAudioRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	pcm, err := req.DecodePCM()
	if err != nil {
		if errors.Is(err, protocol.ErrEmptyAudio) {
			respondError(w, http.StatusBadRequest, "empty_audio", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_audio", err.Error())
		return
	}

	sess := s.registry.Get(id)
	if err := sess.Start(r.Context()); err != nil {
		respondBridgeError(w, err)
		return
	}
	if err := sess.AppendAudio(r.Context(), pcm); err != nil {
		respondBridgeError(w, err)
		return
	}
	status := sess.Status()
	respondJSON(w, http.StatusOK, protocol.AppendAudioResponse{
		SessionID:      id,
		BufferedBytes:  status.BufferedBytes,
		BufferedChunks: status.BufferedChunks,
	})
}

// handleCommit ends the current user turn. Committing an empty buffer is a
// no-op and reports committed=false.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess := s.registry.Get(id)
	if err := sess.Start(r.Context()); err != nil {
		respondBridgeError(w, err)
		return
	}
	committed, err := sess.Commit(r.Context())
	if err != nil {
		respondBridgeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, protocol.CommitResponse{SessionID: id, Committed: committed})
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req protocol.TextRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "empty_text", "text is required")
		return
	}

	sess := s.registry.Get(id)
	if err := sess.Start(r.Context()); err != nil {
		respondBridgeError(w, err)
		return
	}
	if err := sess.SendText(r.Context(), req.Text); err != nil {
		respondBridgeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "accepted": true})
}

// handleContext attaches side-channel context to a live session. Unlike the
// audio paths it never creates a session, and failure is reported in the
// body rather than as an error status.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.registry.Lookup(id)
	if !ok {
		respondError(w, http.StatusNotFound, "session_not_found", "no such session")
		return
	}
	var req protocol.ContextRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Context) == "" {
		respondError(w, http.StatusBadRequest, "empty_context", "context is required")
		return
	}
	ok = sess.InjectContext(r.Context(), req.Context)
	respondJSON(w, http.StatusOK, protocol.ContextResponse{SessionID: id, OK: ok})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.registry.Lookup(id)
	if !ok {
		respondError(w, http.StatusNotFound, "session_not_found", "no such session")
		return
	}
	respondJSON(w, http.StatusOK, sess.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.Stop(id); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "stopped": true})
}

// handleTurnWAV exports the uncommitted turn buffer as a playable WAV file
// for debugging capture issues.
func (s *Server) handleTurnWAV(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.registry.Lookup(id)
	if !ok {
		respondError(w, http.StatusNotFound, "session_not_found", "no such session")
		return
	}
	pcm := sess.TurnSnapshot()
	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	if err := audio.WriteWAVPCM16LETo(w, pcm, audio.DefaultSampleRate); err != nil {
		s.logger.Debug("wav export write failed", zap.Error(err))
	}
}

func respondBridgeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bridge.ErrReadyTimeout):
		respondError(w, http.StatusServiceUnavailable, "not_ready", "session is still starting; retry shortly")
	case errors.Is(err, bridge.ErrSessionClosed):
		respondError(w, http.StatusGone, "session_closed", err.Error())
	case errors.Is(err, protocol.ErrEmptyAudio):
		respondError(w, http.StatusBadRequest, "empty_audio", err.Error())
	case errors.Is(err, bridge.ErrEmptyText):
		respondError(w, http.StatusBadRequest, "empty_text", err.Error())
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusRequestTimeout, "request_cancelled", err.Error())
	default:
		respondError(w, http.StatusBadGateway, "upstream_error", err.Error())
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{
		Error:     message,
		Code:      code,
		Retryable: reliability.IsRetryableHTTPStatus(status),
	})
}
