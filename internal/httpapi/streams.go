package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sergiopesch/virtualpodcaststudio/internal/protocol"
)

const streamBufferSize = 64

// streamHandler serves one SSE push stream for the given event kinds. Every
// stream also carries error and close frames so a subscriber never has to
// poll for session death.
func (s *Server) streamHandler(channel string, kinds ...protocol.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sess, ok := s.registry.Lookup(id)
		if !ok {
			respondError(w, http.StatusNotFound, "session_not_found", "no such session")
			return
		}
		if err := sess.WaitUntilReady(r.Context(), s.cfg.ReadyTimeout); err != nil {
			respondBridgeError(w, err)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		frames := make(chan protocol.StreamFrame, streamBufferSize)
		stop := make(chan struct{})
		var stopOnce sync.Once
		halt := func() { stopOnce.Do(func() { close(stop) }) }

		listener := func(evt protocol.Event) {
			select {
			case frames <- protocol.FrameFromEvent(id, evt):
			default:
				s.metrics.StreamDrops.WithLabelValues(channel).Inc()
			}
			if evt.Kind == protocol.KindClose {
				halt()
			}
		}

		subscribed := make([]protocol.Kind, 0, len(kinds)+2)
		subscribed = append(subscribed, kinds...)
		subscribed = append(subscribed, protocol.KindError, protocol.KindClose)

		bus := sess.Bus()
		subIDs := make(map[protocol.Kind]int64, len(subscribed))
		for _, kind := range subscribed {
			subIDs[kind] = bus.Subscribe(kind, listener)
		}
		defer func() {
			for kind, subID := range subIDs {
				bus.Unsubscribe(kind, subID)
			}
		}()

		s.metrics.StreamSubscribers.WithLabelValues(channel).Inc()
		defer s.metrics.StreamSubscribers.WithLabelValues(channel).Dec()
		s.logger.Debug("stream attached", zap.String("session_id", id), zap.String("channel", channel))

		ticker := time.NewTicker(s.cfg.KeepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-sess.Done():
				drainFrames(w, flusher, frames)
				return
			case <-stop:
				drainFrames(w, flusher, frames)
				return
			case frame := <-frames:
				if err := writeFrame(w, frame); err != nil {
					return
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// drainFrames flushes frames already queued at teardown so the close frame
// itself is delivered before the stream ends.
func drainFrames(w http.ResponseWriter, flusher http.Flusher, frames <-chan protocol.StreamFrame) {
	for {
		select {
		case frame := <-frames:
			if err := writeFrame(w, frame); err != nil {
				return
			}
			flusher.Flush()
		default:
			return
		}
	}
}

func writeFrame(w http.ResponseWriter, frame protocol.StreamFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Type, payload)
	return err
}
