package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jkaberg/leafspy-hass/internal/device"
	"github.com/jkaberg/leafspy-hass/internal/leafspy"
)

// Topic names a notification channel.
type Topic string

const (
	// TopicNewDevice fires for a message whose device has no entities yet.
	TopicNewDevice Topic = "leafspy_new_device"
	// TopicUpdateDevice fires for every later message of a known device.
	TopicUpdateDevice Topic = "leafspy_update_device"
)

// Event is the payload delivered to subscribers.
type Event struct {
	Device  device.Info
	Message *leafspy.Message
}

// Handler consumes one event. A returned error does not stop delivery to the
// remaining subscribers.
type Handler func(ctx context.Context, ev Event) error

type subscription struct {
	name    string
	handler Handler
}

// Bus provides synchronous fan-out for device events. Handlers run on the
// publisher's goroutine in subscription order, so Publish returns only after
// every subscriber has seen the event. The implementation is safe for
// concurrent publishers and subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Topic][]subscription
}

// New creates a ready-to-use Bus.
func New() *Bus { return &Bus{subscribers: make(map[Topic][]subscription)} }

// Subscribe registers handler for topic. name identifies the subscriber in
// errors.
func (b *Bus) Subscribe(topic Topic, name string, handler Handler) {
	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], subscription{name: name, handler: handler})
	b.mu.Unlock()
}

// Subscribers returns how many handlers are registered for topic.
func (b *Bus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Publish delivers ev to every subscriber of topic and returns their errors
// joined. A panicking handler is reported as an error.
func (b *Bus) Publish(ctx context.Context, topic Topic, ev Event) error {
	b.mu.RLock()
	subs := make([]subscription, len(b.subscribers[topic]))
	copy(subs, b.subscribers[topic])
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := deliver(ctx, s, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %s: %w", topic, s.name, err))
		}
	}
	return errors.Join(errs...)
}

func deliver(ctx context.Context, s subscription, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler(ctx, ev)
}
