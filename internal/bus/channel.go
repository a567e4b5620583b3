// Package bus provides event bus implementations for Kestrel.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

var (
	errNoTopic   = errors.New("topic is required")
	errNoHandler = errors.New("handler is required")
)

const defaultChannelBuffer = 1000

// ChannelBus is the single-process EventBus. Each subscriber owns a bounded
// queue drained by its own goroutine; Publish never blocks, and a message
// that finds a full queue is counted as dropped.
type ChannelBus struct {
	mu     sync.RWMutex
	buffer int
	topics map[string]map[*channelSubscription]struct{}
	closed bool

	published atomic.Int64
	dropped   atomic.Int64
}

type channelSubscription struct {
	topic   string
	handler domain.MessageHandler
	queue   chan *domain.Message
	ctx     context.Context
	stop    context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus creates a bus whose subscriber queues hold buffer messages.
func NewChannelBus(buffer int) *ChannelBus {
	if buffer <= 0 {
		buffer = defaultChannelBuffer
	}
	return &ChannelBus{
		buffer: buffer,
		topics: make(map[string]map[*channelSubscription]struct{}),
	}
}

func newMessage(topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  map[string]string{},
		Timestamp: time.Now().UnixNano(),
	}
}

func (b *ChannelBus) Publish(_ context.Context, topic string, payload []byte) error {
	if topic == "" {
		return errNoTopic
	}
	return b.fanout(newMessage(topic, payload))
}

// fanout offers msg to every subscriber of msg.Topic.
func (b *ChannelBus) fanout(msg *domain.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	b.published.Add(1)
	for sub := range b.topics[msg.Topic] {
		select {
		case sub.queue <- msg:
		default:
			b.dropped.Add(1)
			slog.Warn("subscriber queue full, dropping message",
				"topic", msg.Topic,
				"message_id", msg.ID,
			)
		}
	}
	return nil
}

// Subscribe starts a goroutine that feeds handler until the subscription is
// cancelled, ctx ends or the bus closes.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if topic == "" {
		return nil, errNoTopic
	}
	if handler == nil {
		return nil, errNoHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &channelSubscription{
		topic:   topic,
		handler: handler,
		queue:   make(chan *domain.Message, b.buffer),
		bus:     b,
	}
	sub.ctx, sub.stop = context.WithCancel(ctx)

	set, ok := b.topics[topic]
	if !ok {
		set = make(map[*channelSubscription]struct{})
		b.topics[topic] = set
	}
	set[sub] = struct{}{}

	go sub.loop()
	return sub, nil
}

func (s *channelSubscription) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.queue:
			s.handle(msg)
		}
	}
}

// handle isolates the subscription from handler panics.
func (s *channelSubscription) handle(msg *domain.Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("message handler panicked", "topic", s.topic, "message_id", msg.ID, "panic", fmt.Sprint(r))
		}
	}()
	if err := s.handler(s.ctx, msg); err != nil {
		slog.Error("handler error", "topic", s.topic, "message_id", msg.ID, "error", err)
	}
}

// Request publishes on topic with a private reply topic in the
// MetadataReplyTo key and returns the first payload published there.
func (b *ChannelBus) Request(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestWait)
		defer cancel()
	}

	inbox := make(chan []byte, 1)
	replyTopic := topic + ".reply." + uuid.NewString()
	sub, err := b.Subscribe(ctx, replyTopic, func(_ context.Context, msg *domain.Message) error {
		select {
		case inbox <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	msg := newMessage(topic, payload)
	msg.Metadata[MetadataReplyTo] = replyTopic
	if err := b.fanout(msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-inbox:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *ChannelBus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close cancels every subscription. Closing twice is a no-op.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, set := range b.topics {
		for sub := range set {
			sub.stop()
		}
	}
	clear(b.topics)
	return nil
}

// Stats returns the number of published and dropped messages.
func (b *ChannelBus) Stats() (published, dropped int64) {
	return b.published.Load(), b.dropped.Load()
}

func (s *channelSubscription) Unsubscribe() error {
	s.stop()
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if set, ok := s.bus.topics[s.topic]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.bus.topics, s.topic)
		}
	}
	return nil
}

func (s *channelSubscription) Topic() string { return s.topic }
