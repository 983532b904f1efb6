package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sergiopesch/virtualpodcaststudio/internal/observability"
	"github.com/sergiopesch/virtualpodcaststudio/internal/protocol"
)

func newTestMetrics() *observability.Metrics {
	return observability.NewMetrics(fmt.Sprintf("studio_test_%d", time.Now().UnixNano()))
}

type fakeConn struct {
	mu           sync.Mutex
	appended     [][]byte
	commits      int
	responses    int
	texts        []string
	instructions []string
	closed       bool
	events       chan protocol.Event
}

func (c *fakeConn) AppendAudio(_ context.Context, pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appended = append(c.appended, append([]byte(nil), pcm...))
	return nil
}

func (c *fakeConn) Commit(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits++
	return nil
}

func (c *fakeConn) CreateResponse(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses++
	return nil
}

func (c *fakeConn) SendText(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return nil
}

func (c *fakeConn) UpdateInstructions(_ context.Context, instructions string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instructions = append(c.instructions, instructions)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) emit(evt protocol.Event) { c.events <- evt }

func (c *fakeConn) snapshot() (commits, responses int, instructions []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commits, c.responses, append([]string(nil), c.instructions...)
}

type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	dialErr error
}

func (d *fakeDialer) Dial(context.Context, UpstreamConfig) (UpstreamConn, <-chan protocol.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, nil, d.dialErr
	}
	c := &fakeConn{events: make(chan protocol.Event, 64)}
	d.conns = append(d.conns, c)
	return c, c.events, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(t *testing.T) *fakeConn {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		t.Fatalf("no upstream connection dialed")
	}
	return d.conns[0]
}

func newTestSession(t *testing.T, cfg Config) (*Session, *fakeDialer) {
	t.Helper()
	dialer := &fakeDialer{}
	s := NewSession("sess-1", cfg, dialer, nil, newTestMetrics(), nil)
	t.Cleanup(func() { _ = s.Close() })
	return s, dialer
}

func startReadySession(t *testing.T, cfg Config) (*Session, *fakeConn) {
	t.Helper()
	s, dialer := newTestSession(t, cfg)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	conn := dialer.conn(t)
	conn.emit(protocol.Event{Kind: protocol.KindReady})
	if err := s.WaitUntilReady(context.Background(), time.Second); err != nil {
		t.Fatalf("WaitUntilReady() error = %v", err)
	}
	return s, conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionStartIsIdempotent(t *testing.T) {
	s, dialer := newTestSession(t, Config{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if n := dialer.dialCount(); n != 1 {
		t.Fatalf("dial count = %d, want 1", n)
	}
	if got := s.State(); got != StateStarting {
		t.Fatalf("State() = %q, want %q", got, StateStarting)
	}
}

func TestSessionWaitUntilReadyTimesOut(t *testing.T) {
	s, _ := newTestSession(t, Config{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	err := s.WaitUntilReady(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrReadyTimeout) {
		t.Fatalf("WaitUntilReady() error = %v, want ErrReadyTimeout", err)
	}
}

func TestSessionBecomesActiveOnReady(t *testing.T) {
	s, _ := startReadySession(t, Config{})
	if got := s.State(); got != StateActive {
		t.Fatalf("State() = %q, want %q", got, StateActive)
	}
}

func TestSessionAppendBlocksUntilReady(t *testing.T) {
	s, dialer := newTestSession(t, Config{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	conn := dialer.conn(t)

	result := make(chan error, 1)
	go func() {
		result <- s.AppendAudio(context.Background(), make([]byte, 320))
	}()

	select {
	case err := <-result:
		t.Fatalf("AppendAudio() returned %v while session was still starting", err)
	case <-time.After(50 * time.Millisecond):
	}

	conn.emit(protocol.Event{Kind: protocol.KindReady})

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("AppendAudio() error = %v after ready", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("AppendAudio() still blocked after session became active")
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.appended) != 1 || len(conn.appended[0]) != 320 {
		t.Fatalf("forwarded chunks = %d, want one 320-byte chunk", len(conn.appended))
	}
}

func TestSessionAppendRejectsEmptyAudio(t *testing.T) {
	s, _ := startReadySession(t, Config{})
	if err := s.AppendAudio(context.Background(), nil); !errors.Is(err, protocol.ErrEmptyAudio) {
		t.Fatalf("AppendAudio(nil) error = %v, want ErrEmptyAudio", err)
	}
}

func TestSessionCommitEmptyBufferIsNoOp(t *testing.T) {
	s, conn := startReadySession(t, Config{CommitSettleDelay: time.Millisecond})
	committed, err := s.Commit(context.Background())
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if committed {
		t.Fatalf("Commit() on empty buffer reported committed")
	}
	time.Sleep(30 * time.Millisecond)
	commits, responses, _ := conn.snapshot()
	if commits != 0 || responses != 0 {
		t.Fatalf("empty commit reached upstream: commits=%d responses=%d", commits, responses)
	}
}

func TestSessionCommitForwardsThenRequestsResponse(t *testing.T) {
	s, conn := startReadySession(t, Config{CommitSettleDelay: 10 * time.Millisecond})
	if err := s.AppendAudio(context.Background(), make([]byte, 320)); err != nil {
		t.Fatalf("AppendAudio() error = %v", err)
	}
	committed, err := s.Commit(context.Background())
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if !committed {
		t.Fatalf("Commit() reported not committed")
	}
	if got := s.Status().BufferedBytes; got != 0 {
		t.Fatalf("buffered bytes after commit = %d, want 0", got)
	}
	waitFor(t, "response request", func() bool {
		commits, responses, _ := conn.snapshot()
		return commits == 1 && responses == 1
	})
}

func TestSessionVADStopSharesCommitPath(t *testing.T) {
	s, conn := startReadySession(t, Config{CommitSettleDelay: time.Millisecond})

	// Empty buffer: upstream VAD stop must not produce a commit.
	conn.emit(protocol.Event{Kind: protocol.KindSpeechStopped})
	time.Sleep(30 * time.Millisecond)
	if commits, _, _ := conn.snapshot(); commits != 0 {
		t.Fatalf("empty VAD stop committed upstream")
	}

	if err := s.AppendAudio(context.Background(), make([]byte, 320)); err != nil {
		t.Fatalf("AppendAudio() error = %v", err)
	}
	conn.emit(protocol.Event{Kind: protocol.KindSpeechStopped})
	waitFor(t, "vad commit", func() bool {
		commits, _, _ := conn.snapshot()
		return commits == 1
	})
}

func TestSessionSendTextRejectsBlank(t *testing.T) {
	s, _ := startReadySession(t, Config{})
	if err := s.SendText(context.Background(), "   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("SendText(blank) error = %v, want ErrEmptyText", err)
	}
}

func TestSessionInjectContextDeferredWhileResponding(t *testing.T) {
	s, conn := startReadySession(t, Config{Instructions: "base persona"})

	conn.emit(protocol.Event{Kind: protocol.KindTranscript, Text: "thinking"})
	waitFor(t, "responding flag", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.responding
	})

	if ok := s.InjectContext(context.Background(), "guest update"); !ok {
		t.Fatalf("InjectContext() = false, want true")
	}
	if _, _, instructions := conn.snapshot(); len(instructions) != 0 {
		t.Fatalf("context pushed while response in flight: %v", instructions)
	}

	conn.emit(protocol.Event{Kind: protocol.KindAssistantDone})
	waitFor(t, "deferred context push", func() bool {
		_, _, instructions := conn.snapshot()
		return len(instructions) == 1
	})
	_, _, instructions := conn.snapshot()
	if !strings.Contains(instructions[0], "base persona") || !strings.Contains(instructions[0], "guest update") {
		t.Fatalf("pushed instructions = %q, want merged base and context", instructions[0])
	}
}

func TestSessionInjectContextImmediateWhenIdle(t *testing.T) {
	s, conn := startReadySession(t, Config{Instructions: "base persona"})
	if ok := s.InjectContext(context.Background(), "guest update"); !ok {
		t.Fatalf("InjectContext() = false, want true")
	}
	_, _, instructions := conn.snapshot()
	if len(instructions) != 1 {
		t.Fatalf("instructions pushes = %d, want 1", len(instructions))
	}
}

func TestSessionInjectContextOnClosedSession(t *testing.T) {
	s, _ := startReadySession(t, Config{})
	_ = s.Close()
	if ok := s.InjectContext(context.Background(), "late"); ok {
		t.Fatalf("InjectContext() on closed session = true, want false")
	}
}

func TestSessionFatalErrorTerminates(t *testing.T) {
	s, conn := startReadySession(t, Config{})

	var gotClose, gotErr bool
	var mu sync.Mutex
	s.Bus().Subscribe(protocol.KindError, func(evt protocol.Event) {
		mu.Lock()
		gotErr = true
		mu.Unlock()
	})
	s.Bus().Subscribe(protocol.KindClose, func(evt protocol.Event) {
		mu.Lock()
		gotClose = true
		mu.Unlock()
	})

	conn.emit(protocol.Event{
		Kind: protocol.KindError,
		Err:  &protocol.EventError{Code: "invalid_api_key", Fatal: true},
	})

	waitFor(t, "terminal state", func() bool { return s.State() == StateError })
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("Done() not closed after fatal error")
	}
	mu.Lock()
	defer mu.Unlock()
	if !gotErr || !gotClose {
		t.Fatalf("error=%v close=%v events published, want both", gotErr, gotClose)
	}
	if err := s.AppendAudio(context.Background(), []byte{1}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("AppendAudio() after fatal error = %v, want ErrSessionClosed", err)
	}
}

func TestSessionNonFatalErrorKeepsSessionAlive(t *testing.T) {
	s, conn := startReadySession(t, Config{})
	var got []protocol.Event
	var mu sync.Mutex
	s.Bus().Subscribe(protocol.KindError, func(evt protocol.Event) {
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
	})

	conn.emit(protocol.Event{
		Kind: protocol.KindError,
		Err:  &protocol.EventError{Code: "audio_decode_failed"},
	})

	waitFor(t, "error event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	if s.State() != StateActive {
		t.Fatalf("State() = %q after non-fatal error, want %q", s.State(), StateActive)
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s, conn := startReadySession(t, Config{})
	closes := 0
	var mu sync.Mutex
	s.Bus().Subscribe(protocol.KindClose, func(protocol.Event) {
		mu.Lock()
		closes++
		mu.Unlock()
	})

	_ = s.Close()
	_ = s.Close()

	if got := s.State(); got != StateClosed {
		t.Fatalf("State() = %q, want %q", got, StateClosed)
	}
	mu.Lock()
	defer mu.Unlock()
	if closes != 1 {
		t.Fatalf("close published %d times, want 1", closes)
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if !conn.closed {
		t.Fatalf("upstream connection not closed")
	}
}

func TestSessionBroadcastsCloseBeforeDone(t *testing.T) {
	s, _ := startReadySession(t, Config{})
	doneAtDelivery := make(chan bool, 1)
	s.Bus().Subscribe(protocol.KindClose, func(protocol.Event) {
		select {
		case <-s.Done():
			doneAtDelivery <- true
		default:
			doneAtDelivery <- false
		}
	})

	_ = s.Close()

	select {
	case closed := <-doneAtDelivery:
		if closed {
			t.Fatalf("Done() closed before close broadcast; subscribers keyed on Done() can miss the frame")
		}
	case <-time.After(time.Second):
		t.Fatalf("close event not delivered")
	}
}

func TestSessionBroadcastsErrorBeforeDoneOnFatalFailure(t *testing.T) {
	s, conn := startReadySession(t, Config{})
	doneAtDelivery := make(chan bool, 2)
	observe := func(protocol.Event) {
		select {
		case <-s.Done():
			doneAtDelivery <- true
		default:
			doneAtDelivery <- false
		}
	}
	s.Bus().Subscribe(protocol.KindError, observe)
	s.Bus().Subscribe(protocol.KindClose, observe)

	conn.emit(protocol.Event{
		Kind: protocol.KindError,
		Err:  &protocol.EventError{Code: "invalid_api_key", Fatal: true},
	})

	for i := 0; i < 2; i++ {
		select {
		case closed := <-doneAtDelivery:
			if closed {
				t.Fatalf("Done() closed before terminal broadcast completed")
			}
		case <-time.After(time.Second):
			t.Fatalf("terminal events not delivered")
		}
	}
}

func TestSessionDialFailureIsTerminal(t *testing.T) {
	dialer := &fakeDialer{dialErr: errors.New("upstream unreachable")}
	s := NewSession("sess-dial", Config{}, dialer, nil, newTestMetrics(), nil)
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("Start() error = nil, want dial failure")
	}
	if got := s.State(); got != StateError {
		t.Fatalf("State() = %q, want %q", got, StateError)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("restart after dial failure = %v, want ErrSessionClosed", err)
	}
}

func TestSessionUpstreamDisconnectIsFatal(t *testing.T) {
	s, conn := startReadySession(t, Config{})
	close(conn.events)
	waitFor(t, "terminal state", func() bool { return s.State() == StateError })
}
