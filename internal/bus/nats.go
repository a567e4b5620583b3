package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var errNotConnected = errors.New("NATS not connected")

const (
	defaultNATSAttempts = 10
	defaultNATSWait     = 5 * time.Second
	defaultRequestWait  = 30 * time.Second
)

// NATSBus is the cross-replica EventBus. Each topic is used verbatim as the
// NATS subject and payloads travel inside a JSON domain.Message envelope.
type NATSBus struct {
	conn  *nats.Conn
	queue string

	mu   sync.Mutex
	subs map[*nats.Subscription]struct{}
}

type natsSubscription struct {
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

// NewNATSBus dials cfg.NATSUrl. The initial dial is retried with the same
// limit and interval the client uses for reconnects.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	attempts := cfg.NATSMaxReconnects
	if attempts <= 0 {
		attempts = defaultNATSAttempts
	}
	wait := defaultNATSWait
	if cfg.NATSReconnectWait > 0 {
		wait = time.Duration(cfg.NATSReconnectWait) * time.Second
	}

	opts := natsOptions(attempts, wait)
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	conn, err := dial(url, attempts, wait, opts)
	if err != nil {
		return nil, err
	}
	slog.Info("NATS connected",
		"url", conn.ConnectedUrl(),
		"server_id", conn.ConnectedServerId(),
		"queue_group", cfg.NATSQueueGroup,
	)

	return &NATSBus{
		conn:  conn,
		queue: cfg.NATSQueueGroup,
		subs:  make(map[*nats.Subscription]struct{}),
	}, nil
}

func natsOptions(attempts int, wait time.Duration) []nats.Option {
	return []nats.Option{
		nats.Name("kestrel"),
		nats.MaxReconnects(attempts),
		nats.ReconnectWait(wait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			var subject string
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS async error", "subject", subject, "error", err)
		}),
	}
}

func dial(url string, attempts int, wait time.Duration, opts []nats.Option) (*nats.Conn, error) {
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := nats.Connect(url, opts...)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		slog.Warn("NATS dial failed", "attempt", i, "of", attempts, "error", err)
		if i < attempts {
			time.Sleep(wait)
		}
	}
	return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, lastErr)
}

// Publish wraps payload in an envelope and publishes it on topic.
func (b *NATSBus) Publish(_ context.Context, topic string, payload []byte) error {
	data, err := json.Marshal(newMessage(topic, payload))
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return b.conn.Publish(topic, data)
}

// Subscribe attaches handler to topic, joining the configured queue group
// when there is one. The reply inbox of a request is exposed to handlers
// under MetadataReplyTo.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	deliver := func(m *nats.Msg) {
		msg, err := decodeEnvelope(m.Data)
		if err != nil {
			slog.Error("dropping malformed NATS message", "subject", m.Subject, "error", err)
			return
		}
		if m.Reply != "" {
			if msg.Metadata == nil {
				msg.Metadata = map[string]string{}
			}
			msg.Metadata[MetadataReplyTo] = m.Reply
		}
		if err := handler(ctx, msg); err != nil {
			slog.Error("handler error", "subject", m.Subject, "message_id", msg.ID, "error", err)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if b.queue != "" {
		sub, err = b.conn.QueueSubscribe(topic, b.queue, deliver)
	} else {
		sub, err = b.conn.Subscribe(topic, deliver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return &natsSubscription{topic: topic, sub: sub, bus: b}, nil
}

// Request publishes payload and waits for one reply, bounded by the context
// deadline or defaultRequestWait when ctx has none.
func (b *NATSBus) Request(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	data, err := json.Marshal(newMessage(topic, payload))
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestWait)
		defer cancel()
	}

	resp, err := b.conn.RequestWithContext(ctx, topic, data)
	if err != nil {
		return nil, fmt.Errorf("request on %s failed: %w", topic, err)
	}
	reply, err := decodeEnvelope(resp.Data)
	if err != nil {
		return nil, err
	}
	return reply.Payload, nil
}

func decodeEnvelope(data []byte) (*domain.Message, error) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &msg, nil
}

// Ping round-trips a flush to the server. The client refuses a flush
// without a deadline, so one is added when ctx has none.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return errNotConnected
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultNATSWait)
		defer cancel()
	}
	return b.conn.FlushWithContext(ctx)
}

// Close unsubscribes everything and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	clear(b.subs)
	b.mu.Unlock()

	b.conn.Close()
	return nil
}

// Stats exposes the client's traffic counters.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.sub)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Topic() string { return s.topic }
