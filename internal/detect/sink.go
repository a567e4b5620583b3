package detect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// VerdictStore is the persistence a StoreSink writes to.
type VerdictStore interface {
	SaveTransaction(ctx context.Context, tx *domain.Transaction) error
	SaveVerdict(ctx context.Context, v *domain.Verdict) error
}

// Publisher is the subset of the event bus used for verdict fan-out.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// VerdictEvent is published on the verdict and alert topics.
type VerdictEvent struct {
	Transaction *domain.Transaction `json:"transaction"`
	Verdict     *domain.Verdict     `json:"verdict"`
}

// StoreSink persists verdicts and publishes them on the bus. Either side
// may be nil.
type StoreSink struct {
	store VerdictStore
	bus   Publisher
}

// NewStoreSink creates a sink.
func NewStoreSink(store VerdictStore, bus Publisher) *StoreSink {
	return &StoreSink{store: store, bus: bus}
}

// Record saves the transaction and verdict, publishes the verdict and, for
// fraud, an alert. All failures are joined into one error.
func (s *StoreSink) Record(ctx context.Context, tx *domain.Transaction, v *domain.Verdict) error {
	var errs []error

	if s.store != nil {
		if err := s.store.SaveTransaction(ctx, tx); err != nil {
			errs = append(errs, fmt.Errorf("save transaction: %w", err))
		}
		if err := s.store.SaveVerdict(ctx, v); err != nil {
			errs = append(errs, fmt.Errorf("save verdict: %w", err))
		}
	}

	if s.bus != nil {
		payload, err := json.Marshal(VerdictEvent{Transaction: tx, Verdict: v})
		if err != nil {
			return errors.Join(append(errs, fmt.Errorf("marshal verdict: %w", err))...)
		}
		if err := s.bus.Publish(ctx, domain.TopicVerdict, payload); err != nil {
			errs = append(errs, fmt.Errorf("publish verdict: %w", err))
		}
		if v.IsFraud {
			if err := s.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
				errs = append(errs, fmt.Errorf("publish alert: %w", err))
			}
		}
	}

	return errors.Join(errs...)
}
