package bus

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jkaberg/leafspy-hass/internal/device"
)

func TestPublish_OrderAndTopicIsolation(t *testing.T) {
	b := New()
	var calls []string

	b.Subscribe(TopicUpdateDevice, "first", func(ctx context.Context, ev Event) error {
		calls = append(calls, "first:"+ev.Device.ID)
		return nil
	})
	b.Subscribe(TopicUpdateDevice, "second", func(ctx context.Context, ev Event) error {
		calls = append(calls, "second:"+ev.Device.ID)
		return nil
	})
	b.Subscribe(TopicNewDevice, "other", func(ctx context.Context, ev Event) error {
		calls = append(calls, "other")
		return nil
	})

	ev := Event{Device: device.Info{ID: "leaf_x"}}
	if err := b.Publish(context.Background(), TopicUpdateDevice, ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"first:leaf_x", "second:leaf_x"}
	if strings.Join(calls, ",") != strings.Join(expected, ",") {
		t.Errorf("expected calls %v, got %v", expected, calls)
	}
	if n := b.Subscribers(TopicNewDevice); n != 1 {
		t.Errorf("expected 1 new-device subscriber, got %d", n)
	}
}

func TestPublish_ErrorsJoinedAndDeliveryContinues(t *testing.T) {
	b := New()
	errBoom := errors.New("boom")
	reached := false

	b.Subscribe(TopicNewDevice, "failing", func(ctx context.Context, ev Event) error { return errBoom })
	b.Subscribe(TopicNewDevice, "panicking", func(ctx context.Context, ev Event) error { panic("bad") })
	b.Subscribe(TopicNewDevice, "last", func(ctx context.Context, ev Event) error {
		reached = true
		return nil
	})

	err := b.Publish(context.Background(), TopicNewDevice, Event{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("expected joined error to wrap boom, got %v", err)
	}
	if !strings.Contains(err.Error(), "panicking") {
		t.Errorf("expected panic to be reported, got %v", err)
	}
	if !reached {
		t.Error("expected delivery to continue after failing handlers")
	}
}

func TestPublish_NoSubscribers(t *testing.T) {
	if err := New().Publish(context.Background(), TopicUpdateDevice, Event{}); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestPublish_CancelledContext(t *testing.T) {
	b := New()
	called := false
	b.Subscribe(TopicUpdateDevice, "h", func(ctx context.Context, ev Event) error {
		called = true
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Publish(ctx, TopicUpdateDevice, Event{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("expected no delivery on cancelled context")
	}
}
