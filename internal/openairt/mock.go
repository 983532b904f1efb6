package openairt

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sergiopesch/virtualpodcaststudio/internal/bridge"
	"github.com/sergiopesch/virtualpodcaststudio/internal/protocol"
)

// MockDialer is a local fallback used when no realtime API key is
// configured. It completes the handshake immediately and answers every
// committed turn with a short canned response.
type MockDialer struct{}

func NewMockDialer() *MockDialer { return &MockDialer{} }

func (d *MockDialer) Dial(_ context.Context, _ bridge.UpstreamConfig) (bridge.UpstreamConn, <-chan protocol.Event, error) {
	events := make(chan protocol.Event, 64)
	c := &mockConn{events: events}
	c.emit(protocol.Event{Kind: protocol.KindReady})
	return c, events, nil
}

type mockConn struct {
	mu       sync.Mutex
	events   chan protocol.Event
	closed   bool
	buffered int
}

func (c *mockConn) emit(evt protocol.Event) {
	if evt.TSMs == 0 {
		evt.TSMs = time.Now().UnixMilli()
	}
	c.events <- evt
}

func (c *mockConn) AppendAudio(_ context.Context, pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.buffered += len(pcm)
	return nil
}

func (c *mockConn) Commit(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.buffered = 0
	c.emit(protocol.Event{Kind: protocol.KindUserTranscript, Text: "simulated voice input"})
	return nil
}

func (c *mockConn) CreateResponse(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.respondLocked("Let's keep the conversation going.")
	return nil
}

func (c *mockConn) SendText(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	c.respondLocked("You said: " + text)
	return nil
}

func (c *mockConn) respondLocked(text string) {
	c.emit(protocol.Event{Kind: protocol.KindTranscript, Text: text})
	c.emit(protocol.Event{Kind: protocol.KindAudio, Audio: []byte(text)})
	c.emit(protocol.Event{Kind: protocol.KindAssistantDone})
}

func (c *mockConn) UpdateInstructions(_ context.Context, _ string) error {
	return nil
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.events)
	return nil
}
