package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sergiopesch/virtualpodcaststudio/internal/archive"
	"github.com/sergiopesch/virtualpodcaststudio/internal/observability"
	"github.com/sergiopesch/virtualpodcaststudio/internal/protocol"
)

// State is the externally visible session lifecycle.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateClosing  State = "closing"
	StateClosed   State = "closed"
	StateError    State = "error"
)

var (
	// ErrReadyTimeout is returned when a caller's readiness wait elapses
	// while the session is still starting. Callers may retry.
	ErrReadyTimeout = errors.New("session not ready before timeout")
	// ErrSessionClosed is returned for operations on a terminal session.
	ErrSessionClosed = errors.New("session closed")
	// ErrEmptyText rejects blank text turns.
	ErrEmptyText = errors.New("empty text")
)

const archiveSaveTimeout = 2 * time.Second

// Config tunes per-session behavior.
type Config struct {
	Instructions string
	// ReadyTimeout bounds how long operations arriving during startup wait
	// for the upstream handshake.
	ReadyTimeout time.Duration
	// CommitSettleDelay is the pause between the upstream commit and the
	// response-generation request. Upstream commit processing is async
	// relative to the commit acknowledgment; requesting a response too early
	// risks generating against a partial buffer. Tunable, not a hard
	// invariant.
	CommitSettleDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 10 * time.Second
	}
	if c.CommitSettleDelay <= 0 {
		c.CommitSettleDelay = 500 * time.Millisecond
	}
}

// Session bridges one conversation to one upstream connection. It owns the
// turn buffer, the event bus, and the lifecycle state machine; all callers
// go through its methods.
type Session struct {
	ID string

	cfg     Config
	dialer  Dialer
	bus     *Bus
	buffer  *TurnBuffer
	store   archive.Store
	metrics *observability.Metrics
	logger  *zap.Logger

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once

	mu             sync.Mutex
	state          State
	conn           UpstreamConn
	instructions   string
	pendingPush    bool
	responding     bool
	assistantText  strings.Builder
	createdAt      time.Time
	lastActivityAt time.Time
	lastCommitAt   time.Time
	awaitingAudio  bool
}

func NewSession(id string, cfg Config, dialer Dialer, store archive.Store, metrics *observability.Metrics, logger *zap.Logger) *Session {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now().UTC()
	return &Session{
		ID:             id,
		cfg:            cfg,
		dialer:         dialer,
		bus:            NewBus(),
		buffer:         NewTurnBuffer(),
		store:          store,
		metrics:        metrics,
		logger:         logger.With(zap.String("session_id", id)),
		ready:          make(chan struct{}),
		done:           make(chan struct{}),
		state:          StateIdle,
		instructions:   cfg.Instructions,
		createdAt:      now,
		lastActivityAt: now,
	}
}

// Bus exposes the session's event bus to stream adapters.
func (s *Session) Bus() *Bus { return s.bus }

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

// Status returns the read-only projection served by the API.
func (s *Session) Status() protocol.SessionStatus {
	s.mu.Lock()
	state := s.state
	createdAt := s.createdAt
	lastActivity := s.lastActivityAt
	s.mu.Unlock()
	return protocol.SessionStatus{
		SessionID:      s.ID,
		State:          string(state),
		CreatedAt:      createdAt,
		LastActivityAt: lastActivity,
		BufferedBytes:  s.buffer.Len(),
		BufferedChunks: s.buffer.ChunkCount(),
	}
}

// TurnSnapshot returns the current uncommitted turn audio.
func (s *Session) TurnSnapshot() []byte { return s.buffer.Snapshot() }

// Start opens the upstream connection. It is idempotent: calling it while
// already starting or active returns immediately without dialing a second
// connection.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateStarting, StateActive:
		s.mu.Unlock()
		return nil
	case StateClosing, StateClosed, StateError:
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.state = StateStarting
	instructions := s.instructions
	s.mu.Unlock()

	s.metrics.SessionEvents.WithLabelValues("start").Inc()
	conn, events, err := s.dialer.Dial(ctx, UpstreamConfig{
		SessionID:    s.ID,
		Instructions: instructions,
	})
	if err != nil {
		s.logger.Warn("upstream dial failed", zap.Error(err))
		s.terminate(&protocol.EventError{
			Code:   "upstream_dial_failed",
			Detail: err.Error(),
			Fatal:  true,
		})
		return err
	}

	s.mu.Lock()
	if s.state != StateStarting {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrSessionClosed
	}
	s.conn = conn
	s.mu.Unlock()

	go s.pump(events)
	return nil
}

// WaitUntilReady blocks until the session is active, its terminal state is
// reached, or the bound elapses. It returns immediately when already active.
func (s *Session) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	switch s.state {
	case StateActive:
		s.mu.Unlock()
		return nil
	case StateClosing, StateClosed, StateError:
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	if timeout <= 0 {
		timeout = s.cfg.ReadyTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrReadyTimeout
	case <-s.ready:
		if s.State() != StateActive {
			return ErrSessionClosed
		}
		return nil
	}
}

// AppendAudio buffers one PCM16 chunk and forwards it upstream. Calls that
// arrive during startup block until the session is active or the ready
// timeout elapses.
func (s *Session) AppendAudio(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return protocol.ErrEmptyAudio
	}
	if err := s.WaitUntilReady(ctx, s.cfg.ReadyTimeout); err != nil {
		return err
	}
	conn := s.currentConn()
	if conn == nil {
		return ErrSessionClosed
	}
	s.touch()
	s.buffer.Append(pcm)
	if err := conn.AppendAudio(ctx, pcm); err != nil {
		return err
	}
	return nil
}

// Commit ends the current user turn. An empty buffer is a no-op: nothing is
// sent upstream and Commit reports false. Otherwise the buffer is cleared
// atomically, the commit is forwarded, and a response request follows after
// the settle delay.
func (s *Session) Commit(ctx context.Context) (bool, error) {
	if err := s.WaitUntilReady(ctx, s.cfg.ReadyTimeout); err != nil {
		return false, err
	}
	bytes, chunks := s.buffer.Drain()
	if bytes == 0 {
		s.metrics.SessionEvents.WithLabelValues("commit_empty").Inc()
		return false, nil
	}
	conn := s.currentConn()
	if conn == nil {
		return false, ErrSessionClosed
	}
	s.touch()
	if err := conn.Commit(ctx); err != nil {
		return false, err
	}

	s.mu.Lock()
	s.lastCommitAt = time.Now()
	s.awaitingAudio = true
	s.mu.Unlock()

	s.metrics.SessionEvents.WithLabelValues("commit").Inc()
	s.metrics.CommittedTurnBytes.Observe(float64(bytes))
	s.logger.Debug("turn committed", zap.Int("bytes", bytes), zap.Int("chunks", chunks))

	go s.requestResponseAfterSettle()
	return true, nil
}

func (s *Session) requestResponseAfterSettle() {
	timer := time.NewTimer(s.cfg.CommitSettleDelay)
	defer timer.Stop()
	select {
	case <-s.done:
		return
	case <-timer.C:
	}
	conn := s.currentConn()
	if conn == nil {
		return
	}
	if err := conn.CreateResponse(context.Background()); err != nil {
		s.bus.Publish(protocol.Event{
			Kind: protocol.KindError,
			Err: &protocol.EventError{
				Code:      "response_request_failed",
				Detail:    err.Error(),
				Retryable: true,
			},
			TSMs: time.Now().UnixMilli(),
		})
	}
}

// SendText submits a text user turn.
func (s *Session) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	if err := s.WaitUntilReady(ctx, s.cfg.ReadyTimeout); err != nil {
		return err
	}
	conn := s.currentConn()
	if conn == nil {
		return ErrSessionClosed
	}
	s.touch()
	if err := conn.SendText(ctx, text); err != nil {
		return err
	}
	s.saveTurnBestEffort("user", text)
	return nil
}

// InjectContext merges extra context into the live instructions and
// re-pushes the session configuration. It reports success as a boolean so a
// side-channel feature failing to attach context never breaks the
// conversation. The push is deferred while a response is in flight.
func (s *Session) InjectContext(ctx context.Context, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	s.mu.Lock()
	switch s.state {
	case StateClosing, StateClosed, StateError:
		s.mu.Unlock()
		return false
	}
	s.instructions = mergeInstructions(s.instructions, text)
	s.lastActivityAt = time.Now().UTC()
	if s.state != StateActive || s.responding {
		s.pendingPush = true
		s.mu.Unlock()
		s.metrics.SessionEvents.WithLabelValues("context_deferred").Inc()
		return true
	}
	instructions := s.instructions
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return false
	}
	if err := conn.UpdateInstructions(ctx, instructions); err != nil {
		s.logger.Warn("context push failed", zap.Error(err))
		return false
	}
	s.metrics.SessionEvents.WithLabelValues("context_injected").Inc()
	return true
}

// Close tears the session down. It is safe to call at any point, including
// twice.
func (s *Session) Close() error {
	s.terminate(nil)
	return nil
}

func (s *Session) currentConn() UpstreamConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivityAt = time.Now().UTC()
	s.mu.Unlock()
}

// pump forwards normalized upstream events to the bus, driving lifecycle
// transitions and the VAD-triggered commit path. Events are delivered in
// upstream emission order.
func (s *Session) pump(events <-chan protocol.Event) {
	for evt := range events {
		switch evt.Kind {
		case protocol.KindReady:
			s.mu.Lock()
			if s.state == StateStarting {
				s.state = StateActive
			}
			s.mu.Unlock()
			s.readyOnce.Do(func() { close(s.ready) })
			s.metrics.SessionEvents.WithLabelValues("ready").Inc()
			s.pushPendingInstructions()

		case protocol.KindSpeechStopped:
			// Upstream VAD end-of-turn shares the explicit commit path, so the
			// empty-buffer no-op applies to both.
			go func() {
				if _, err := s.Commit(context.Background()); err != nil && !errors.Is(err, ErrSessionClosed) {
					s.logger.Warn("vad commit failed", zap.Error(err))
				}
			}()

		case protocol.KindBufferCleared:
			s.buffer.Clear()

		case protocol.KindAudio:
			s.touch()
			s.observeFirstAudio()
			s.mu.Lock()
			s.responding = true
			s.mu.Unlock()
			s.metrics.UpstreamEvents.WithLabelValues(string(evt.Kind)).Inc()
			s.bus.Publish(evt)

		case protocol.KindTranscript:
			s.touch()
			s.mu.Lock()
			s.responding = true
			s.assistantText.WriteString(evt.Text)
			s.mu.Unlock()
			s.metrics.UpstreamEvents.WithLabelValues(string(evt.Kind)).Inc()
			s.bus.Publish(evt)

		case protocol.KindUserTranscript:
			s.touch()
			s.saveTurnBestEffort("user", evt.Text)
			s.metrics.UpstreamEvents.WithLabelValues(string(evt.Kind)).Inc()
			s.bus.Publish(evt)

		case protocol.KindUserTranscriptDelta:
			s.touch()
			s.metrics.UpstreamEvents.WithLabelValues(string(evt.Kind)).Inc()
			s.bus.Publish(evt)

		case protocol.KindAssistantDone:
			s.touch()
			s.mu.Lock()
			s.responding = false
			turnText := s.assistantText.String()
			s.assistantText.Reset()
			s.mu.Unlock()
			s.saveTurnBestEffort("assistant", turnText)
			s.metrics.UpstreamEvents.WithLabelValues(string(evt.Kind)).Inc()
			s.bus.Publish(evt)
			s.pushPendingInstructions()

		case protocol.KindError:
			if evt.Err != nil && evt.Err.Fatal {
				s.terminate(evt.Err)
				continue
			}
			s.metrics.UpstreamEvents.WithLabelValues(string(evt.Kind)).Inc()
			s.bus.Publish(evt)

		case protocol.KindClose:
			s.terminate(evt.Err)
		}
	}

	// The upstream event stream ended. If that was not the result of an
	// orderly close, surface it as a structural failure.
	s.terminate(&protocol.EventError{
		Code:   "upstream_disconnected",
		Detail: "upstream event stream ended",
		Fatal:  true,
	})
}

func (s *Session) observeFirstAudio() {
	s.mu.Lock()
	pending := s.awaitingAudio
	commitAt := s.lastCommitAt
	s.awaitingAudio = false
	s.mu.Unlock()
	if pending && !commitAt.IsZero() {
		s.metrics.ObserveFirstAudioLatency(time.Since(commitAt))
	}
}

func (s *Session) pushPendingInstructions() {
	s.mu.Lock()
	if !s.pendingPush || s.state != StateActive || s.responding {
		s.mu.Unlock()
		return
	}
	s.pendingPush = false
	instructions := s.instructions
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.UpdateInstructions(context.Background(), instructions); err != nil {
		s.logger.Warn("deferred context push failed", zap.Error(err))
	} else {
		s.metrics.SessionEvents.WithLabelValues("context_injected").Inc()
	}
}

// terminate drives the session to its terminal state exactly once and
// broadcasts close so every stream adapter unwinds.
func (s *Session) terminate(evtErr *protocol.EventError) {
	s.mu.Lock()
	switch s.state {
	case StateClosing, StateClosed, StateError:
		s.mu.Unlock()
		return
	}
	if evtErr != nil {
		s.state = StateError
	} else {
		s.state = StateClosing
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })

	// Broadcast before closing done: stream adapters select on Done() and
	// must still be subscribed when the close frame is published.
	now := time.Now().UnixMilli()
	if evtErr != nil {
		s.metrics.SessionEvents.WithLabelValues("error").Inc()
		s.bus.Publish(protocol.Event{Kind: protocol.KindError, Err: evtErr, TSMs: now})
	} else {
		s.metrics.SessionEvents.WithLabelValues("closed").Inc()
	}
	s.bus.Publish(protocol.Event{Kind: protocol.KindClose, Err: evtErr, TSMs: now})

	if conn != nil {
		_ = conn.Close()
	}
	s.buffer.Clear()

	if evtErr == nil {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
	} else {
		s.logger.Warn("session terminated",
			zap.String("code", evtErr.Code),
			zap.String("detail", evtErr.Detail))
	}

	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) saveTurnBestEffort(role, content string) {
	if s.store == nil || strings.TrimSpace(content) == "" {
		return
	}
	record := archive.TurnRecord{
		SessionID: s.ID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveSaveTimeout)
		defer cancel()
		if err := s.store.SaveTurn(ctx, record); err != nil {
			s.logger.Debug("transcript archive save failed", zap.Error(err))
		}
	}()
}

func mergeInstructions(base, extra string) string {
	base = strings.TrimSpace(base)
	extra = strings.TrimSpace(extra)
	if base == "" {
		return extra
	}
	return base + "\n\n" + extra
}
