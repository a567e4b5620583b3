package bus

import (
	"context"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MetadataReplyTo names the message metadata key holding the reply topic of
// a request.
const MetadataReplyTo = "reply_to"

// New builds the bus named by cfg.Type. An empty type means the in-process
// channel bus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case domain.BusTypeChannel, "":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case domain.BusTypeNATS:
		return NewNATSBus(cfg)
	}
	return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
}

// Reply answers a request message. Messages without a reply topic are
// ignored.
func Reply(ctx context.Context, b domain.EventBus, req *domain.Message, payload []byte) error {
	replyTo := req.Metadata[MetadataReplyTo]
	if replyTo == "" {
		return nil
	}
	return b.Publish(ctx, replyTo, payload)
}
