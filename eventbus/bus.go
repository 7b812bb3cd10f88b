package eventbus

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Handler receives every message published on a subscribed topic
type Handler func(topic string, msg interface{})

// Filter drops messages it returns false for
type Filter func(msg interface{}) bool

type Subscription struct {
	id      uint64
	topic   string
	handler Handler
	filter  Filter
}

func (s *Subscription) Topic() string {
	return s.topic
}

// Bus is an in-process topic based publish/subscribe hub.
// Handlers run synchronously on the publishing goroutine, in subscription order.
type Bus struct {
	mu     sync.RWMutex
	next   uint64
	topics map[string][]*Subscription
	lg     *zap.Logger
}

func New(lg *zap.Logger) *Bus {
	if lg == nil {
		lg = zap.NewNop()
	}

	return &Bus{
		topics: make(map[string][]*Subscription),
		lg:     lg,
	}
}

type SubscribeOption func(s *Subscription)

func WithFilter(f Filter) SubscribeOption {
	return func(s *Subscription) {
		s.filter = f
	}
}

func (b *Bus) Subscribe(topic string, h Handler, opts ...SubscribeOption) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	sub := &Subscription{id: b.next, topic: topic, handler: h}
	for _, opt := range opts {
		opt(sub)
	}

	b.topics[topic] = append(b.topics[topic], sub)
	return sub
}

// Unsubscribe is a no-op for an already removed subscription
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[sub.topic]
	for i := range subs {
		if subs[i].id == sub.id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}

	if len(subs) == 0 {
		delete(b.topics, sub.topic)
		return
	}

	b.topics[sub.topic] = subs
}

// Publish delivers msg and returns the number of handlers that received it
func (b *Bus) Publish(topic string, msg interface{}) int {
	b.mu.RLock()
	subs := make([]*Subscription, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.RUnlock()

	delivered := 0
	for _, s := range subs {
		if s.filter != nil && !s.filter(msg) {
			continue
		}

		s.handler(topic, msg)
		delivered++
	}

	if delivered == 0 {
		b.lg.Debug("no subscribers", zap.String("topic", topic))
	}

	return delivered
}

func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.topics[topic])
}

// RxTopic is the topic OMCI responses of a message type are published on
func RxTopic(deviceID, msgType string) string {
	return fmt.Sprintf("omci-rx:%s:%s", deviceID, msgType)
}

// AgentTopic is the topic agent lifecycle events are published on
func AgentTopic(event string) string {
	return "omci-agent:" + event
}
