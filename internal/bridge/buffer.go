package bridge

import "sync"

// TurnBuffer accumulates raw PCM16 chunks for the current, uncommitted user
// turn. It mirrors the upstream input buffer so an empty commit can be
// rejected locally without a round trip, and so the current turn can be
// inspected for diagnostics.
type TurnBuffer struct {
	mu     sync.Mutex
	chunks [][]byte
	bytes  int
}

func NewTurnBuffer() *TurnBuffer {
	return &TurnBuffer{}
}

// Append adds one chunk to the in-progress turn. The chunk is copied so the
// caller may reuse its slice.
func (b *TurnBuffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	dup := make([]byte, len(chunk))
	copy(dup, chunk)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = append(b.chunks, dup)
	b.bytes += len(dup)
}

// Drain atomically clears the buffer and reports what it held.
func (b *TurnBuffer) Drain() (bytes, chunks int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bytes, chunks = b.bytes, len(b.chunks)
	b.chunks = nil
	b.bytes = 0
	return bytes, chunks
}

// Clear discards the buffered turn, e.g. when the upstream reports its own
// input buffer was reset.
func (b *TurnBuffer) Clear() {
	_, _ = b.Drain()
}

// Len reports the total buffered byte count.
func (b *TurnBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes
}

// ChunkCount reports the number of buffered chunks.
func (b *TurnBuffer) ChunkCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Snapshot returns the buffered turn as one contiguous copy.
func (b *TurnBuffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, 0, b.bytes)
	for _, chunk := range b.chunks {
		out = append(out, chunk...)
	}
	return out
}
