package protocol

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

var ErrEmptyAudio = errors.New("empty audio payload")

// AppendAudioRequest carries one PCM16 chunk for the in-progress user turn.
type AppendAudioRequest struct {
	PCM16Base64 string `json:"pcm16_base64"`
	SampleRate  int    `json:"sample_rate,omitempty"`
}

// DecodePCM validates and decodes the audio payload.
func (r AppendAudioRequest) DecodePCM() ([]byte, error) {
	raw := strings.TrimSpace(r.PCM16Base64)
	if raw == "" {
		return nil, ErrEmptyAudio
	}
	pcm, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}
	return pcm, nil
}

type AppendAudioResponse struct {
	SessionID      string `json:"session_id"`
	BufferedBytes  int    `json:"buffered_bytes"`
	BufferedChunks int    `json:"buffered_chunks"`
}

type CommitResponse struct {
	SessionID string `json:"session_id"`
	Committed bool   `json:"committed"`
}

type TextRequest struct {
	Text string `json:"text"`
}

type ContextRequest struct {
	Context string `json:"context"`
}

type ContextResponse struct {
	SessionID string `json:"session_id"`
	OK        bool   `json:"ok"`
}

// SessionStatus is the read-only session projection returned by the API.
type SessionStatus struct {
	SessionID      string    `json:"session_id"`
	State          string    `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	BufferedBytes  int       `json:"buffered_bytes"`
	BufferedChunks int       `json:"buffered_chunks"`
}

// StreamFrame is one line-delimited event on an outbound push stream.
type StreamFrame struct {
	Type        Kind   `json:"type"`
	SessionID   string `json:"session_id"`
	AudioBase64 string `json:"audio_base64,omitempty"`
	Text        string `json:"text,omitempty"`
	Code        string `json:"code,omitempty"`
	Detail      string `json:"detail,omitempty"`
	Retryable   bool   `json:"retryable,omitempty"`
	TSMs        int64  `json:"ts_ms,omitempty"`
}

// FrameFromEvent converts a normalized event into its stream wire shape.
func FrameFromEvent(sessionID string, evt Event) StreamFrame {
	frame := StreamFrame{
		Type:      evt.Kind,
		SessionID: sessionID,
		Text:      evt.Text,
		TSMs:      evt.TSMs,
	}
	if len(evt.Audio) > 0 {
		frame.AudioBase64 = base64.StdEncoding.EncodeToString(evt.Audio)
	}
	if evt.Err != nil {
		frame.Code = evt.Err.Code
		frame.Detail = evt.Err.Detail
		frame.Retryable = evt.Err.Retryable
	}
	return frame
}
