package protocol

// Kind identifies a normalized bridge event.
type Kind string

const (
	KindAudio               Kind = "audio"
	KindTranscript          Kind = "transcript"
	KindUserTranscript      Kind = "user_transcript"
	KindUserTranscriptDelta Kind = "user_transcript_delta"
	KindAssistantDone       Kind = "assistant_done"
	KindError               Kind = "error"
	KindClose               Kind = "close"

	// Lifecycle signals emitted by the upstream adapter. The session bridge
	// consumes these internally; they are never published to client streams.
	KindReady         Kind = "ready"
	KindSpeechStopped Kind = "speech_stopped"
	KindBufferCleared Kind = "buffer_cleared"
)

// Event is an immutable normalized message flowing from the upstream adapter
// through the event bus to stream adapters.
type Event struct {
	Kind  Kind
	Audio []byte
	Text  string
	Err   *EventError
	TSMs  int64
}

// EventError carries structured detail for KindError and KindClose events.
type EventError struct {
	Code      string
	Detail    string
	Retryable bool
	// Fatal marks structural failures that tear down the session. Per-payload
	// failures (decode errors, unknown event shapes) are never fatal.
	Fatal bool
}
