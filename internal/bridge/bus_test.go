package bridge

import (
	"testing"

	"github.com/sergiopesch/virtualpodcaststudio/internal/protocol"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus()
	var got []string
	bus.Subscribe(protocol.KindTranscript, func(evt protocol.Event) {
		got = append(got, evt.Text)
	})

	for _, text := range []string{"a", "b", "c"} {
		bus.Publish(protocol.Event{Kind: protocol.KindTranscript, Text: text})
	}

	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("delivered = %v, want [a b c]", got)
	}
}

func TestBusDeliversToEachListenerOnce(t *testing.T) {
	bus := NewBus()
	counts := make([]int, 3)
	for i := range counts {
		i := i
		bus.Subscribe(protocol.KindAudio, func(protocol.Event) { counts[i]++ })
	}

	bus.Publish(protocol.Event{Kind: protocol.KindAudio})

	for i, n := range counts {
		if n != 1 {
			t.Fatalf("listener %d invoked %d times, want 1", i, n)
		}
	}
}

func TestBusUnsubscribeIsIdempotent(t *testing.T) {
	bus := NewBus()
	calls := 0
	id := bus.Subscribe(protocol.KindAudio, func(protocol.Event) { calls++ })

	bus.Unsubscribe(protocol.KindAudio, id)
	bus.Unsubscribe(protocol.KindAudio, id)
	bus.Unsubscribe(protocol.KindAudio, 9999)

	bus.Publish(protocol.Event{Kind: protocol.KindAudio})
	if calls != 0 {
		t.Fatalf("unsubscribed listener invoked %d times", calls)
	}
	if n := bus.ListenerCount(protocol.KindAudio); n != 0 {
		t.Fatalf("ListenerCount = %d, want 0", n)
	}
}

func TestBusPublishDoesNotSeeMidPublishSubscribes(t *testing.T) {
	bus := NewBus()
	lateCalls := 0
	bus.Subscribe(protocol.KindAudio, func(protocol.Event) {
		bus.Subscribe(protocol.KindAudio, func(protocol.Event) { lateCalls++ })
	})

	bus.Publish(protocol.Event{Kind: protocol.KindAudio})
	if lateCalls != 0 {
		t.Fatalf("listener added during publish was invoked %d times", lateCalls)
	}

	bus.Publish(protocol.Event{Kind: protocol.KindAudio})
	if lateCalls != 1 {
		t.Fatalf("late listener invoked %d times after second publish, want 1", lateCalls)
	}
}

func TestBusSubscribeRestoresCountAfterUnsubscribe(t *testing.T) {
	bus := NewBus()
	keep := bus.Subscribe(protocol.KindTranscript, func(protocol.Event) {})
	drop := bus.Subscribe(protocol.KindTranscript, func(protocol.Event) {})

	bus.Unsubscribe(protocol.KindTranscript, drop)
	if n := bus.ListenerCount(protocol.KindTranscript); n != 1 {
		t.Fatalf("ListenerCount = %d, want 1", n)
	}
	bus.Unsubscribe(protocol.KindTranscript, keep)
	if n := bus.ListenerCount(protocol.KindTranscript); n != 0 {
		t.Fatalf("ListenerCount = %d, want 0", n)
	}
}
