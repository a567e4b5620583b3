// Package detect combines rule evaluation and anomaly scoring into verdicts.
package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/model"
)

var tracer = otel.Tracer("kestrel-detect")

// ErrMissingID is the cause reported for transactions without an id.
var ErrMissingID = errors.New("missing transaction id")

// RuleEvaluator finds the first matching rule.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, tx *domain.EnrichedTransaction) (bool, *domain.Rule, error)
}

// Assessor produces the model's opinion.
type Assessor interface {
	Assess(tx *domain.EnrichedTransaction) model.Assessment
}

// VerdictSink receives every produced verdict.
type VerdictSink interface {
	Record(ctx context.Context, tx *domain.Transaction, v *domain.Verdict) error
}

// Recorder observes orchestration outcomes.
type Recorder interface {
	ObserveVerdict(v *domain.Verdict, elapsed time.Duration)
	ObservePending(side string)
}

// Options tunes the orchestrator.
type Options struct {
	// Timeout bounds one detection. Zero relies on the caller's context.
	Timeout time.Duration

	// BatchWorkers bounds concurrent detections per batch.
	BatchWorkers int

	HeuristicThreshold  float64
	FailurePolicy       domain.FailurePolicy
	FailClosedMinAmount float64

	Features features.Options
}

// OptionsFromConfig maps detection config to orchestrator options.
func OptionsFromConfig(cfg domain.DetectionConfig) Options {
	return Options{
		Timeout:             cfg.Timeout(),
		BatchWorkers:        cfg.BatchWorkers,
		HeuristicThreshold:  cfg.HeuristicThreshold,
		FailurePolicy:       cfg.FailurePolicy,
		FailClosedMinAmount: cfg.FailClosedMinAmount,
		Features:            features.Options{HighAmountThreshold: cfg.HighAmountThreshold},
	}
}

// Orchestrator runs rule evaluation and model scoring concurrently and
// merges their results.
type Orchestrator struct {
	rules    RuleEvaluator
	model    Assessor
	sink     VerdictSink
	recorder Recorder
	opts     Options
}

// New creates an orchestrator. model may be nil, in which case the model
// side always abstains.
func New(rules RuleEvaluator, m Assessor, opts Options) *Orchestrator {
	if opts.BatchWorkers <= 0 {
		opts.BatchWorkers = 10
	}
	if opts.HeuristicThreshold <= 0 {
		opts.HeuristicThreshold = DefaultHeuristicThreshold
	}
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = domain.FailOpen
	}
	return &Orchestrator{rules: rules, model: m, opts: opts}
}

// WithSink attaches a verdict sink.
func (o *Orchestrator) WithSink(s VerdictSink) *Orchestrator {
	o.sink = s
	return o
}

// WithRecorder attaches an outcome recorder.
func (o *Orchestrator) WithRecorder(r Recorder) *Orchestrator {
	o.recorder = r
	return o
}

type ruleOutcome struct {
	matched bool
	rule    *domain.Rule
	err     error
}

// Detect produces a verdict for one transaction. It never returns an error
// and never blocks past the configured deadline.
func (o *Orchestrator) Detect(ctx context.Context, tx *domain.Transaction) (v domain.Verdict) {
	start := time.Now()
	txID := ""
	amount := 0.0
	if tx != nil {
		txID = tx.ID
		amount = tx.Amount
	}

	ctx, span := tracer.Start(ctx, "detect")
	span.SetAttributes(attribute.String("tx.id", txID))

	defer func() {
		if r := recover(); r != nil {
			slog.Error("fraud detection panicked", "tx_id", txID, "panic", fmt.Sprint(r))
			v = ErrorVerdict(txID, fmt.Errorf("panic: %v", r))
		}
		applyFailurePolicy(&v, amount, o.opts.FailurePolicy, o.opts.FailClosedMinAmount)
		v.Normalize()

		span.SetAttributes(
			attribute.Bool("verdict.is_fraud", v.IsFraud),
			attribute.String("verdict.source", string(v.Source)),
			attribute.Float64("verdict.score", v.Score),
		)
		if v.Source == domain.SourceError {
			span.SetStatus(codes.Error, v.Reason)
		}
		span.End()

		if o.recorder != nil {
			o.recorder.ObserveVerdict(&v, time.Since(start))
		}
		if o.sink != nil && tx != nil && tx.ID != "" {
			if err := o.sink.Record(context.WithoutCancel(ctx), tx, &v); err != nil {
				slog.Warn("failed to record verdict", "tx_id", txID, "error", err)
			}
		}
	}()

	if tx == nil || tx.ID == "" {
		return ErrorVerdict(txID, ErrMissingID)
	}

	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	enriched := o.opts.Features.Enrich(tx)
	risk := model.RiskScore(enriched)

	// Buffered so a late goroutine can always deliver and exit.
	ruleCh := make(chan ruleOutcome, 1)
	modelCh := make(chan model.Assessment, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ruleCh <- ruleOutcome{err: fmt.Errorf("rule evaluation panic: %v", r)}
			}
		}()
		matched, rule, err := o.rules.Evaluate(ctx, enriched)
		ruleCh <- ruleOutcome{matched: matched, rule: rule, err: err}
	}()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("model assessment panicked", "tx_id", txID, "panic", fmt.Sprint(r))
				modelCh <- model.Assessment{Abstained: true}
			}
		}()
		if o.model == nil {
			modelCh <- model.Assessment{Abstained: true}
			return
		}
		modelCh <- o.model.Assess(enriched)
	}()

	var (
		ro                  ruleOutcome
		assessment          model.Assessment
		ruleDone, modelDone bool
	)

wait:
	for !ruleDone || !modelDone {
		select {
		case ro = <-ruleCh:
			ruleDone = true
		case assessment = <-modelCh:
			modelDone = true
		case <-ctx.Done():
			break wait
		}
	}

	if !ruleDone {
		slog.Warn("rule evaluation did not finish before deadline, treating as no match", "tx_id", txID)
		o.pending("rules")
		ro = ruleOutcome{}
	}
	if !modelDone {
		slog.Warn("model assessment did not finish before deadline, abstaining", "tx_id", txID)
		o.pending("model")
		assessment = model.Assessment{Abstained: true}
	}

	if ro.err != nil {
		if ctx.Err() != nil && errors.Is(ro.err, ctx.Err()) {
			slog.Warn("rule evaluation cut short by deadline, treating as no match", "tx_id", txID)
			ro = ruleOutcome{}
		} else {
			slog.Error("rule evaluation failed", "tx_id", txID, "error", ro.err)
			return ErrorVerdict(txID, ro.err)
		}
	}

	return Merge(txID, Inputs{
		RuleMatched: ro.matched,
		Rule:        ro.rule,
		Assessment:  assessment,
		Risk:        risk,
	}, o.opts.HeuristicThreshold)
}

func (o *Orchestrator) pending(side string) {
	if o.recorder != nil {
		o.recorder.ObservePending(side)
	}
}

// DetectBatch evaluates transactions concurrently with bounded parallelism.
// Transactions without an id are skipped. When ids repeat, the verdict that
// completes last is kept.
func (o *Orchestrator) DetectBatch(ctx context.Context, txs []domain.Transaction) map[string]domain.Verdict {
	ctx, span := tracer.Start(ctx, "detect.batch")
	span.SetAttributes(attribute.Int("batch.size", len(txs)))
	defer span.End()

	results := make(map[string]domain.Verdict, len(txs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, o.opts.BatchWorkers)

	for i := range txs {
		tx := &txs[i]
		if tx.ID == "" {
			slog.Warn("skipping batch transaction without id", "index", i)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			v := o.Detect(ctx, tx)

			mu.Lock()
			defer mu.Unlock()
			if _, dup := results[tx.ID]; dup {
				slog.Warn("duplicate transaction id in batch, keeping latest verdict", "tx_id", tx.ID)
			}
			results[tx.ID] = v
		}()
	}

	wg.Wait()
	return results
}
