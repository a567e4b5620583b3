// Package worker runs fraud detection for transactions arriving on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

var errStopping = errors.New("worker is stopping")

// Detector produces verdicts. *detect.Orchestrator satisfies it.
type Detector interface {
	Detect(ctx context.Context, tx *domain.Transaction) domain.Verdict
}

// Worker consumes ingested transactions and answers detection requests.
// Verdict persistence and fan-out happen in the detector's sink.
type Worker struct {
	bus      domain.EventBus
	detector Detector
	sem      chan struct{}

	mu            sync.Mutex
	subscriptions []domain.Subscription
	stopping      bool
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// Concurrency bounds in-flight detections. Defaults to 10.
	Concurrency int

	// ServeRequests also subscribes to request-reply detection.
	ServeRequests bool
}

// NewWorker creates a new async worker.
func NewWorker(b domain.EventBus, detector Detector, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      b,
		detector: detector,
		sem:      make(chan struct{}, cfg.Concurrency),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the ingestion topic and, when asked, the request topic.
func (w *Worker) Start(cfg Config) error {
	if err := w.subscribe(domain.TopicTransactionIngested, w.handleIngested); err != nil {
		return err
	}
	if cfg.ServeRequests {
		if err := w.subscribe(domain.TopicDetectRequest, w.handleRequest); err != nil {
			return err
		}
	}

	slog.Info("worker started",
		"topics", w.GetStats().Topics,
		"concurrency", cap(w.sem),
	)
	return nil
}

func (w *Worker) subscribe(topic string, handler domain.MessageHandler) error {
	sub, err := w.bus.Subscribe(w.ctx, topic, handler)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()
	return nil
}

func decodeTransaction(msg *domain.Message) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		return nil, fmt.Errorf("failed to parse transaction message %s: %w", msg.ID, err)
	}
	if tx.ID == "" {
		return nil, fmt.Errorf("transaction message %s has no transaction_id", msg.ID)
	}
	return &tx, nil
}

// track registers a unit of work Stop must wait for. It fails once Stop
// has begun.
func (w *Worker) track() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopping {
		return errStopping
	}
	w.wg.Add(1)
	return nil
}

// handleIngested hands the transaction to the pool and returns, so a slow
// detection never stalls the subscription. Accepted work runs to completion
// even when Stop is called meanwhile.
func (w *Worker) handleIngested(ctx context.Context, msg *domain.Message) error {
	tx, err := decodeTransaction(msg)
	if err != nil {
		w.failed.Add(1)
		return err
	}
	if err := w.track(); err != nil {
		return err
	}

	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		w.wg.Done()
		return w.ctx.Err()
	}

	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.process(context.WithoutCancel(w.ctx), tx, msg.ID)
	}()
	return nil
}

// handleRequest runs detection inline and replies with the verdict.
func (w *Worker) handleRequest(ctx context.Context, msg *domain.Message) error {
	tx, err := decodeTransaction(msg)
	if err != nil {
		w.failed.Add(1)
		return err
	}
	if err := w.track(); err != nil {
		return err
	}
	defer w.wg.Done()

	// Unsubscribing cancels ctx; the detection and its reply still complete.
	ctx = context.WithoutCancel(ctx)
	v := w.process(ctx, tx, msg.ID)
	payload, err := json.Marshal(v.Response())
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}
	return bus.Reply(ctx, w.bus, msg, payload)
}

func (w *Worker) process(ctx context.Context, tx *domain.Transaction, msgID string) domain.Verdict {
	start := time.Now()
	v := w.detector.Detect(ctx, tx)
	w.processed.Add(1)

	slog.Info("transaction processed",
		"tx_id", tx.ID,
		"message_id", msgID,
		"is_fraud", v.IsFraud,
		"source", v.Source,
		"score", v.Score,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return v
}

// Stop unsubscribes, waits for in-flight detections to finish and only then
// cancels the worker context.
func (w *Worker) Stop() error {
	w.mu.Lock()
	w.stopping = true
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()
	w.cancel()

	slog.Info("worker stopped", "processed", w.processed.Load(), "failed", w.failed.Load())
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscription_count"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
