package domain

import "context"

// EventBus carries pipeline events between Kestrel components. The channel
// implementation is process-local; NATS spans replicas.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe delivers every message on topic to handler until the
	// returned Subscription is cancelled.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request publishes payload and blocks for a single reply or ctx expiry.
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes one delivered message.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope every bus wraps payloads in.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is a live registration returned by Subscribe.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// Bus implementations.
const (
	BusTypeChannel = "channel"
	BusTypeNATS    = "nats"
)

// EventBusConfig selects and tunes the event bus.
type EventBusConfig struct {
	Type string `yaml:"type"`

	// ChannelBufferSize bounds each in-process subscriber queue.
	ChannelBufferSize int `yaml:"channel_buffer_size"`

	NATSUrl   string `yaml:"nats_url"`
	NATSToken string `yaml:"nats_token"`
	// NATSQueueGroup, when set, load-balances each topic across replicas
	// subscribed with the same group.
	NATSQueueGroup    string `yaml:"nats_queue_group"`
	NATSMaxReconnects int    `yaml:"nats_max_reconnects"`
	NATSReconnectWait int    `yaml:"nats_reconnect_wait"` // seconds
}

// Pipeline topics.
const (
	TopicTransactionIngested = "kestrel.transaction.ingested"
	TopicVerdict             = "kestrel.verdict"
	TopicAlert               = "kestrel.alert"
	TopicDetectRequest       = "kestrel.detect.request"
)
