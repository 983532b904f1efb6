package openairt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sergiopesch/virtualpodcaststudio/internal/bridge"
	"github.com/sergiopesch/virtualpodcaststudio/internal/observability"
	"github.com/sergiopesch/virtualpodcaststudio/internal/protocol"
	"github.com/sergiopesch/virtualpodcaststudio/internal/reliability"
)

type Config struct {
	APIKey               string
	BaseURL              string
	Model                string
	Voice                string
	TranscriptionModel   string
	Temperature          float64
	VADThreshold         float64
	VADPrefixPaddingMS   int
	VADSilenceDurationMS int
}

// Client dials realtime speech sessions over websocket.
type Client struct {
	cfg     Config
	metrics *observability.Metrics
	logger  *zap.Logger
}

func NewClient(cfg Config, metrics *observability.Metrics, logger *zap.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "wss://api.openai.com/v1/realtime"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o-realtime-preview-2024-10-01"
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		cfg.Voice = "alloy"
	}
	if strings.TrimSpace(cfg.TranscriptionModel) == "" {
		cfg.TranscriptionModel = "whisper-1"
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.8
	}
	if cfg.VADThreshold <= 0 {
		cfg.VADThreshold = 0.5
	}
	if cfg.VADPrefixPaddingMS <= 0 {
		cfg.VADPrefixPaddingMS = 300
	}
	if cfg.VADSilenceDurationMS <= 0 {
		cfg.VADSilenceDurationMS = 500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, metrics: metrics, logger: logger}
}

func (c *Client) Dial(ctx context.Context, upCfg bridge.UpstreamConfig) (bridge.UpstreamConn, <-chan protocol.Event, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	q.Set("model", c.cfg.Model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, nil, fmt.Errorf("dial realtime websocket: %w", err)
	}

	conn := &realtimeConn{
		ws:     ws,
		client: c,
		events: make(chan protocol.Event, 256),
		logger: c.logger.With(zap.String("session_id", upCfg.SessionID)),
	}
	if err := conn.writeJSON(c.sessionPayload(upCfg.Instructions)); err != nil {
		_ = ws.Close()
		return nil, nil, fmt.Errorf("push session config: %w", err)
	}
	go conn.readLoop()
	return conn, conn.events, nil
}

func (c *Client) sessionPayload(instructions string) map[string]any {
	return map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"text", "audio"},
			"instructions":        instructions,
			"voice":               c.cfg.Voice,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"input_audio_transcription": map[string]any{
				"model": c.cfg.TranscriptionModel,
			},
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"threshold":           c.cfg.VADThreshold,
				"prefix_padding_ms":   c.cfg.VADPrefixPaddingMS,
				"silence_duration_ms": c.cfg.VADSilenceDurationMS,
			},
			"temperature": c.cfg.Temperature,
		},
	}
}

type realtimeConn struct {
	ws        *websocket.Conn
	client    *Client
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan protocol.Event
	logger    *zap.Logger
}

func (r *realtimeConn) AppendAudio(_ context.Context, pcm []byte) error {
	return r.writeJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	})
}

func (r *realtimeConn) Commit(_ context.Context) error {
	return r.writeJSON(map[string]any{"type": "input_audio_buffer.commit"})
}

func (r *realtimeConn) CreateResponse(_ context.Context) error {
	return r.writeJSON(map[string]any{"type": "response.create"})
}

func (r *realtimeConn) SendText(_ context.Context, text string) error {
	err := r.writeJSON(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	})
	if err != nil {
		return err
	}
	return r.writeJSON(map[string]any{"type": "response.create"})
}

func (r *realtimeConn) UpdateInstructions(_ context.Context, instructions string) error {
	return r.writeJSON(r.client.sessionPayload(instructions))
}

func (r *realtimeConn) Close() error {
	var retErr error
	r.closeOnce.Do(func() {
		retErr = r.ws.Close()
	})
	return retErr
}

func (r *realtimeConn) writeJSON(payload map[string]any) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.ws.WriteJSON(payload)
}

// readLoop owns the events channel: it is the only closer, so writers never
// race a close. Every wire event is resolved through the mapping table;
// unknown types are diagnostic, never fatal.
func (r *realtimeConn) readLoop() {
	defer close(r.events)
	for {
		_, data, err := r.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.events <- protocol.Event{Kind: protocol.KindClose, TSMs: time.Now().UnixMilli()}
			}
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			r.events <- protocol.Event{
				Kind: protocol.KindError,
				Err: &protocol.EventError{
					Code:   "event_decode_failed",
					Detail: err.Error(),
				},
				TSMs: time.Now().UnixMilli(),
			}
			continue
		}
		wireType := asString(raw["type"])
		kind, disposition := Classify(wireType)
		switch disposition {
		case DispositionIgnored:
			continue
		case DispositionUnknown:
			r.client.metrics.UnknownUpstreamEvents.Inc()
			r.logger.Debug("unmapped upstream event", zap.String("type", wireType))
			continue
		}
		if evt, ok := r.buildEvent(kind, raw); ok {
			r.events <- evt
		}
	}
}

func (r *realtimeConn) buildEvent(kind protocol.Kind, raw map[string]any) (protocol.Event, bool) {
	now := time.Now().UnixMilli()
	switch kind {
	case protocol.KindAudio:
		pcm, err := base64.StdEncoding.DecodeString(asString(raw["delta"]))
		if err != nil {
			return protocol.Event{
				Kind: protocol.KindError,
				Err: &protocol.EventError{
					Code:   "audio_decode_failed",
					Detail: err.Error(),
				},
				TSMs: now,
			}, true
		}
		return protocol.Event{Kind: kind, Audio: pcm, TSMs: now}, true

	case protocol.KindTranscript, protocol.KindUserTranscriptDelta:
		return protocol.Event{Kind: kind, Text: asString(raw["delta"]), TSMs: now}, true

	case protocol.KindUserTranscript:
		return protocol.Event{Kind: kind, Text: asString(raw["transcript"]), TSMs: now}, true

	case protocol.KindError:
		code, detail := errorFields(raw)
		r.client.metrics.UpstreamErrors.WithLabelValues(code).Inc()
		return protocol.Event{
			Kind: kind,
			Err: &protocol.EventError{
				Code:      code,
				Detail:    detail,
				Retryable: reliability.IsRetryableRealtimeError(code),
				Fatal:     reliability.IsFatalRealtimeError(code),
			},
			TSMs: now,
		}, true

	default:
		return protocol.Event{Kind: kind, TSMs: now}, true
	}
}

func errorFields(raw map[string]any) (code, detail string) {
	errMap, _ := raw["error"].(map[string]any)
	if errMap != nil {
		code = asString(errMap["code"])
		if code == "" {
			code = asString(errMap["type"])
		}
		detail = asString(errMap["message"])
	}
	if code == "" {
		code = "upstream_error"
	}
	return code, detail
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
