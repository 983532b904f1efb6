package protocol

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestDecodePCM(t *testing.T) {
	req := AppendAudioRequest{PCM16Base64: base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})}
	pcm, err := req.DecodePCM()
	if err != nil {
		t.Fatalf("DecodePCM() error = %v", err)
	}
	if len(pcm) != 4 {
		t.Fatalf("DecodePCM() length = %d, want 4", len(pcm))
	}
}

func TestDecodePCMRejectsEmpty(t *testing.T) {
	for _, payload := range []string{"", "   "} {
		req := AppendAudioRequest{PCM16Base64: payload}
		if _, err := req.DecodePCM(); !errors.Is(err, ErrEmptyAudio) {
			t.Fatalf("DecodePCM(%q) error = %v, want ErrEmptyAudio", payload, err)
		}
	}
}

func TestDecodePCMRejectsBadBase64(t *testing.T) {
	req := AppendAudioRequest{PCM16Base64: "not base64!"}
	if _, err := req.DecodePCM(); err == nil {
		t.Fatalf("DecodePCM() accepted invalid base64")
	}
}

func TestFrameFromEvent(t *testing.T) {
	frame := FrameFromEvent("s1", Event{
		Kind:  KindAudio,
		Audio: []byte{1, 2, 3},
		TSMs:  42,
	})
	if frame.Type != KindAudio || frame.SessionID != "s1" || frame.TSMs != 42 {
		t.Fatalf("frame = %+v", frame)
	}
	decoded, err := base64.StdEncoding.DecodeString(frame.AudioBase64)
	if err != nil || len(decoded) != 3 {
		t.Fatalf("audio payload = %q, err = %v", frame.AudioBase64, err)
	}
}

func TestFrameFromEventCarriesError(t *testing.T) {
	frame := FrameFromEvent("s1", Event{
		Kind: KindError,
		Err:  &EventError{Code: "rate_limit_exceeded", Detail: "slow down", Retryable: true},
	})
	if frame.Code != "rate_limit_exceeded" || frame.Detail != "slow down" || !frame.Retryable {
		t.Fatalf("frame = %+v", frame)
	}
}
