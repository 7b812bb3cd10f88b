package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const defaultQueueSize = 256

type Handler func(ctx context.Context, msg *Message)

// Proxy is the transport between the adapter and the core
type Proxy interface {
	Send(ctx context.Context, topic string, msg *Message) error
	Request(ctx context.Context, toTopic, rpc string, args ...Arg) (*Response, error)
	Subscribe(topic string, h Handler) (func(), error)
}

type Stats struct {
	Sent      int64
	Delivered int64
	Dropped   int64
	Requests  int64
	Responses int64
	Timeouts  int64
}

type counters struct {
	sent, delivered, dropped, requests, responses, timeouts atomic.Int64
}

type topic struct {
	name   string
	queue  chan []byte
	stopCh chan struct{}

	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]Handler
}

// Bus is an in-process Proxy. Every topic is served by its own goroutine,
// messages travel JSON encoded like they would on a broker.
type Bus struct {
	listeningTopic string
	lg             *zap.Logger
	queueSize      int
	ctx            context.Context
	cancel         context.CancelFunc
	stats          counters

	mu      sync.Mutex
	closed  bool
	topics  map[string]*topic
	pending map[string]chan []byte
	wg      sync.WaitGroup
}

var _ Proxy = (*Bus)(nil)

// NewBus creates a bus whose requests expect replies on listeningTopic
func NewBus(listeningTopic string, lg *zap.Logger) *Bus {
	if lg == nil {
		lg = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		listeningTopic: listeningTopic,
		lg:             lg.With(zap.String("component", "messaging-bus")),
		queueSize:      defaultQueueSize,
		ctx:            ctx,
		cancel:         cancel,
		topics:         make(map[string]*topic),
		pending:        make(map[string]chan []byte),
	}
}

func (b *Bus) ListeningTopic() string { return b.listeningTopic }

func (b *Bus) Stats() Stats {
	return Stats{
		Sent:      b.stats.sent.Load(),
		Delivered: b.stats.delivered.Load(),
		Dropped:   b.stats.dropped.Load(),
		Requests:  b.stats.requests.Load(),
		Responses: b.stats.responses.Load(),
		Timeouts:  b.stats.timeouts.Load(),
	}
}

// Subscribe registers h on the topic, the returned function removes it
func (b *Bus) Subscribe(name string, h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	t, ok := b.topics[name]
	if !ok {
		t = &topic{
			name:     name,
			queue:    make(chan []byte, b.queueSize),
			stopCh:   make(chan struct{}),
			handlers: make(map[uint64]Handler),
		}
		b.topics[name] = t

		b.wg.Add(1)
		go b.serve(t)
	}

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.handlers[id] = h
	t.mu.Unlock()

	b.lg.Debug("subscribed", zap.String("topic", name))

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.handlers, id)
			t.mu.Unlock()
			b.lg.Debug("unsubscribed", zap.String("topic", name))
		})
	}, nil
}

// Send encodes msg and routes it. A response to a pending request goes to
// the waiting caller, anything else to the topic subscribers.
func (b *Bus) Send(ctx context.Context, name string, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "could not encode message")
	}

	return b.route(ctx, name, data)
}

func (b *Bus) route(ctx context.Context, name string, data []byte) error {
	peek := gjson.GetManyBytes(data, "header.type", "header.id")
	typ, id := MessageType(peek[0].String()), peek[1].String()
	if typ == "" || id == "" {
		return errors.Wrap(ErrInvalidHeader, "message without type or id")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}

	if typ == ResponseType {
		if ch, ok := b.pending[id]; ok {
			delete(b.pending, id)
			b.mu.Unlock()

			b.stats.sent.Add(1)
			b.stats.responses.Add(1)
			ch <- data
			return nil
		}
	}

	t, ok := b.topics[name]
	b.mu.Unlock()

	b.stats.sent.Add(1)
	if !ok {
		b.stats.dropped.Add(1)
		b.lg.Debug("no subscriber for topic", zap.String("topic", name), zap.String("type", string(typ)))
		return nil
	}

	select {
	case t.queue <- data:
		return nil
	case <-t.stopCh:
		return ErrClosed
	case <-ctx.Done():
		b.stats.dropped.Add(1)
		return ctx.Err()
	}
}

// Request sends an RPC to toTopic and waits for the answer until the context
// ends
func (b *Bus) Request(ctx context.Context, toTopic, rpc string, args ...Arg) (*Response, error) {
	msg, err := NewRequest(b.listeningTopic, toTopic, rpc, args...)
	if err != nil {
		return nil, err
	}

	ch := make(chan []byte, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.pending[msg.Header.ID] = ch
	b.mu.Unlock()

	b.stats.requests.Add(1)

	if err := b.Send(ctx, toTopic, msg); err != nil {
		b.forget(msg.Header.ID)
		return nil, err
	}

	select {
	case data := <-ch:
		var reply Message
		if err := json.Unmarshal(data, &reply); err != nil {
			return nil, errors.Wrapf(err, "could not decode %s response", rpc)
		}

		var resp Response
		if err := json.Unmarshal(reply.Body, &resp); err != nil {
			return nil, errors.Wrapf(err, "could not decode %s response body", rpc)
		}
		return &resp, nil
	case <-ctx.Done():
		b.forget(msg.Header.ID)
		b.stats.timeouts.Add(1)
		return nil, errors.Wrapf(ErrTimeout, "%s to %s: %v", rpc, toTopic, ctx.Err())
	case <-b.ctx.Done():
		return nil, ErrClosed
	}
}

func (b *Bus) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

func (b *Bus) serve(t *topic) {
	defer b.wg.Done()

	for {
		select {
		case <-t.stopCh:
			return
		case data := <-t.queue:
			b.deliver(t, data)
		}
	}
}

func (b *Bus) deliver(t *topic, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		b.stats.dropped.Add(1)
		b.lg.Error("could not decode message", zap.String("topic", t.name), zap.Error(err))
		return
	}

	t.mu.RLock()
	handlers := make([]Handler, 0, len(t.handlers))
	for _, h := range t.handlers {
		handlers = append(handlers, h)
	}
	t.mu.RUnlock()

	if len(handlers) == 0 {
		b.stats.dropped.Add(1)
		return
	}

	for _, h := range handlers {
		m := msg
		h(b.ctx, &m)
	}
	b.stats.delivered.Add(1)
}

// Close stops every topic goroutine and fails pending requests
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	b.closed = true
	for _, t := range b.topics {
		close(t.stopCh)
	}
	b.pending = make(map[string]chan []byte)
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	b.lg.Debug("closed", zap.Int64("sent", b.stats.sent.Load()))
}
