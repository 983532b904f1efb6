package bridge

import (
	"context"

	"github.com/sergiopesch/virtualpodcaststudio/internal/protocol"
)

// UpstreamConfig describes the session an upstream connection is opened for.
type UpstreamConfig struct {
	SessionID    string
	Instructions string
}

// UpstreamConn is one duplex connection to the realtime speech service. A
// connection is exclusively owned by its session; no other component writes
// to it.
type UpstreamConn interface {
	// AppendAudio forwards one raw PCM16 chunk to the upstream input buffer.
	AppendAudio(ctx context.Context, pcm []byte) error
	// Commit marks the accumulated upstream input buffer as one user turn.
	Commit(ctx context.Context) error
	// CreateResponse asks the upstream to generate the assistant turn.
	CreateResponse(ctx context.Context) error
	// SendText submits a text user turn and requests a response.
	SendText(ctx context.Context, text string) error
	// UpdateInstructions re-pushes the session configuration with new
	// instructions without tearing down the connection.
	UpdateInstructions(ctx context.Context, instructions string) error
	Close() error
}

// Dialer opens upstream connections. The returned channel carries normalized
// events in upstream emission order and is closed when the connection ends.
type Dialer interface {
	Dial(ctx context.Context, cfg UpstreamConfig) (UpstreamConn, <-chan protocol.Event, error)
}
