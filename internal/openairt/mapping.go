package openairt

import "github.com/sergiopesch/virtualpodcaststudio/internal/protocol"

// Disposition says what the read loop should do with one wire event type.
type Disposition int

const (
	// DispositionMapped events carry a payload the bridge forwards.
	DispositionMapped Disposition = iota
	// DispositionIgnored events are protocol chatter with no bridge meaning.
	DispositionIgnored
	// DispositionUnknown events are logged and counted, never fatal.
	DispositionUnknown
)

// mappedTypes pins each known wire type to a normalized kind. The realtime
// API has renamed several event types across preview releases; every name
// variant maps to the same kind so a model upgrade does not silently drop a
// channel.
var mappedTypes = map[string]protocol.Kind{
	"session.created": protocol.KindReady,

	"response.audio.delta":        protocol.KindAudio,
	"response.output_audio.delta": protocol.KindAudio,

	"response.audio_transcript.delta":        protocol.KindTranscript,
	"response.output_audio_transcript.delta": protocol.KindTranscript,
	"response.text.delta":                    protocol.KindTranscript,
	"response.output_text.delta":             protocol.KindTranscript,

	"conversation.item.input_audio_transcription.delta":     protocol.KindUserTranscriptDelta,
	"conversation.item.input_audio_transcription.completed": protocol.KindUserTranscript,

	"response.done":      protocol.KindAssistantDone,
	"response.completed": protocol.KindAssistantDone,
	"response.finished":  protocol.KindAssistantDone,

	"input_audio_buffer.speech_stopped": protocol.KindSpeechStopped,
	"input_audio_buffer.cleared":        protocol.KindBufferCleared,

	"error": protocol.KindError,
}

// ignoredTypes are acknowledged wire chatter.
var ignoredTypes = map[string]struct{}{
	"session.updated":                   {},
	"response.created":                  {},
	"response.output_item.added":        {},
	"response.output_item.done":         {},
	"response.content_part.added":       {},
	"response.content_part.done":        {},
	"conversation.item.created":         {},
	"rate_limits.updated":               {},
	"input_audio_buffer.speech_started": {},
	"input_audio_buffer.committed":      {},
	"response.audio.done":               {},
	"response.audio_transcript.done":    {},
	"response.text.done":                {},
}

// Classify resolves a wire event type to its normalized kind.
func Classify(wireType string) (protocol.Kind, Disposition) {
	if kind, ok := mappedTypes[wireType]; ok {
		return kind, DispositionMapped
	}
	if _, ok := ignoredTypes[wireType]; ok {
		return "", DispositionIgnored
	}
	return "", DispositionUnknown
}
