package detect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Tuesday afternoon
const daytime = "2023-01-10T14:00:00Z"

type ruleList []domain.Rule

func (l ruleList) ListActiveRules(context.Context) ([]domain.Rule, error) {
	return append([]domain.Rule(nil), l...), nil
}

func defaultEngine() *rules.Engine {
	defaults := rules.DefaultRules()
	for i := range defaults {
		defaults[i].ID = int64(i + 1)
	}
	return rules.NewEngine(ruleList(defaults), nil, 0)
}

func checksOnlyScorer(t *testing.T) *model.Scorer {
	t.Helper()
	s, err := model.NewScorerFromArtifact(nil, domain.ModelConfig{})
	if err != nil {
		t.Fatalf("NewScorerFromArtifact failed: %v", err)
	}
	return s
}

type stubRules struct {
	matched bool
	rule    *domain.Rule
	err     error
	block   <-chan struct{}
	panic   bool
}

func (s *stubRules) Evaluate(ctx context.Context, _ *domain.EnrichedTransaction) (bool, *domain.Rule, error) {
	if s.block != nil {
		<-s.block
	}
	if s.panic {
		panic("rule boom")
	}
	return s.matched, s.rule, s.err
}

type stubModel struct {
	a     model.Assessment
	block <-chan struct{}
	panic bool
}

func (s *stubModel) Assess(*domain.EnrichedTransaction) model.Assessment {
	if s.block != nil {
		<-s.block
	}
	if s.panic {
		panic("model boom")
	}
	return s.a
}

func TestDetectScenarios(t *testing.T) {
	o := New(defaultEngine(), checksOnlyScorer(t), Options{Timeout: time.Second})
	ctx := context.Background()

	tests := []struct {
		name       string
		tx         domain.Transaction
		wantFraud  bool
		wantSource domain.VerdictSource
		wantReason string
	}{
		{
			name:       "very high value",
			tx:         domain.Transaction{ID: "A", Date: daytime, Amount: 600000, PayerMobile: "9999"},
			wantFraud:  true,
			wantSource: domain.SourceRule,
			wantReason: "Rule: Very High Value Transaction",
		},
		{
			name:       "upi without mobile",
			tx:         domain.Transaction{ID: "B", Date: daytime, Amount: 75000, PaymentModeCode: 11},
			wantFraud:  true,
			wantSource: domain.SourceRule,
			wantReason: "Rule: UPI Transaction without Mobile Verification",
		},
		{
			name:       "weekend night",
			tx:         domain.Transaction{ID: "C", Date: "2023-01-07T23:30:00Z", Amount: 3000},
			wantFraud:  true,
			wantSource: domain.SourceRule,
			wantReason: "Rule: Multiple Risk Factors",
		},
		{
			name:       "suspicious amount",
			tx:         domain.Transaction{ID: "D", Date: daytime, Amount: 19999, PayerMobile: "9999"},
			wantFraud:  true,
			wantSource: domain.SourceRule,
			wantReason: "Rule: Suspicious Amount Pattern",
		},
		{
			name:       "benign",
			tx:         domain.Transaction{ID: "E", Date: daytime, Amount: 250.5, PayerMobile: "9999", PaymentModeCode: 1},
			wantSource: domain.SourceNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := o.Detect(ctx, &tt.tx)
			if v.TransactionID != tt.tx.ID {
				t.Errorf("transaction id = %q, want %q", v.TransactionID, tt.tx.ID)
			}
			if v.IsFraud != tt.wantFraud {
				t.Errorf("is_fraud = %v, want %v (%s)", v.IsFraud, tt.wantFraud, v.Reason)
			}
			if v.Source != tt.wantSource {
				t.Errorf("source = %q, want %q", v.Source, tt.wantSource)
			}
			if !strings.HasPrefix(v.Reason, tt.wantReason) {
				t.Errorf("reason = %q, want prefix %q", v.Reason, tt.wantReason)
			}
			if v.IsFraud && v.Source == domain.SourceRule && (v.Score != 1 || v.RuleID == nil) {
				t.Errorf("rule verdict should have score 1 and a rule id, got %+v", v)
			}
			if v.Score < 0 || v.Score > 1 {
				t.Errorf("score %v out of range", v.Score)
			}
		})
	}
}

func TestDetectPrecedence(t *testing.T) {
	rule := &domain.Rule{ID: 7, Name: "R", Description: "d"}
	flagged := model.Assessment{Flagged: true, Reason: "model says so", AnomalyScore: 0.9, Version: "v1"}
	ctx := context.Background()
	// risk 1.0: UPI without mobile, round, above 50k
	risky := domain.Transaction{ID: "P", Date: daytime, Amount: 75000, PaymentModeCode: 11}
	calm := domain.Transaction{ID: "Q", Date: daytime, Amount: 42, PayerMobile: "1"}

	t.Run("RuleBeatsModel", func(t *testing.T) {
		o := New(&stubRules{matched: true, rule: rule}, &stubModel{a: flagged}, Options{})
		v := o.Detect(ctx, &risky)
		if v.Source != domain.SourceRule || v.Reason != "Rule: R - d" || *v.RuleID != 7 {
			t.Errorf("unexpected verdict %+v", v)
		}
	})

	t.Run("ModelBeatsHeuristic", func(t *testing.T) {
		o := New(&stubRules{}, &stubModel{a: flagged}, Options{})
		v := o.Detect(ctx, &risky)
		if v.Source != domain.SourceModel || v.Reason != "model says so" {
			t.Errorf("unexpected verdict %+v", v)
		}
		if v.Score != 1 {
			t.Errorf("score = %v, want max(risk, anomaly) = 1", v.Score)
		}
		if v.ModelVersion != "v1" {
			t.Errorf("model version = %q", v.ModelVersion)
		}
	})

	t.Run("HeuristicWhenOthersSilent", func(t *testing.T) {
		o := New(&stubRules{}, nil, Options{})
		v := o.Detect(ctx, &risky)
		if !v.IsFraud || v.Source != domain.SourceHeuristic || v.Reason != ReasonHeuristic {
			t.Errorf("unexpected verdict %+v", v)
		}
	})

	t.Run("CleanUsesCombinedScore", func(t *testing.T) {
		o := New(&stubRules{}, &stubModel{a: model.Assessment{AnomalyScore: 0.3}}, Options{})
		v := o.Detect(ctx, &calm)
		if v.IsFraud || v.Source != domain.SourceNone || v.Reason != "" {
			t.Errorf("unexpected verdict %+v", v)
		}
		if v.Score != 0.3 {
			t.Errorf("score = %v, want 0.3", v.Score)
		}
	})
}

func TestDetectDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	o := New(&stubRules{block: release, matched: true, rule: &domain.Rule{ID: 1, Name: "late"}},
		&stubModel{block: release, a: model.Assessment{Flagged: true}},
		Options{Timeout: 20 * time.Millisecond})

	tx := domain.Transaction{ID: "slow", Date: daytime, Amount: 42, PayerMobile: "1"}
	start := time.Now()
	v := o.Detect(context.Background(), &tx)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Detect took %v, expected to honour the deadline", elapsed)
	}
	if v.IsFraud || v.Source != domain.SourceNone {
		t.Errorf("pending sides should count as no match and abstain, got %+v", v)
	}
}

func TestDetectCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	o := New(&stubRules{block: release}, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tx := domain.Transaction{ID: "cancelled", Date: daytime, Amount: 42, PayerMobile: "1"}
	done := make(chan domain.Verdict, 1)
	go func() { done <- o.Detect(ctx, &tx) }()

	select {
	case v := <-done:
		if v.Source == domain.SourceError {
			t.Errorf("cancellation should not produce an error verdict: %+v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Detect did not return after cancellation")
	}
}

func TestDetectFailSafe(t *testing.T) {
	ctx := context.Background()
	tx := domain.Transaction{ID: "F", Date: daytime, Amount: 5000, PayerMobile: "1"}

	t.Run("RuleStoreError", func(t *testing.T) {
		o := New(&stubRules{err: errors.New("db down")}, nil, Options{})
		v := o.Detect(ctx, &tx)
		if v.IsFraud || v.Source != domain.SourceError || v.Score != 0 {
			t.Errorf("unexpected verdict %+v", v)
		}
		if !strings.HasPrefix(v.Reason, "Error in fraud detection system: ") || !strings.Contains(v.Reason, "db down") {
			t.Errorf("reason = %q", v.Reason)
		}
	})

	t.Run("RulePanic", func(t *testing.T) {
		o := New(&stubRules{panic: true}, nil, Options{})
		v := o.Detect(ctx, &tx)
		if v.Source != domain.SourceError || !strings.Contains(v.Reason, "rule boom") {
			t.Errorf("unexpected verdict %+v", v)
		}
	})

	t.Run("ModelPanicAbstains", func(t *testing.T) {
		o := New(&stubRules{}, &stubModel{panic: true}, Options{})
		v := o.Detect(ctx, &tx)
		if v.Source != domain.SourceNone || v.IsFraud {
			t.Errorf("model failure should abstain, got %+v", v)
		}
	})

	t.Run("MissingID", func(t *testing.T) {
		o := New(&stubRules{}, nil, Options{})
		v := o.Detect(ctx, &domain.Transaction{Amount: 1})
		if v.Source != domain.SourceError || !strings.Contains(v.Reason, ErrMissingID.Error()) {
			t.Errorf("unexpected verdict %+v", v)
		}
		if v := o.Detect(ctx, nil); v.Source != domain.SourceError {
			t.Errorf("nil transaction: unexpected verdict %+v", v)
		}
	})

	t.Run("FailClosed", func(t *testing.T) {
		o := New(&stubRules{err: errors.New("db down")}, nil, Options{
			FailurePolicy:       domain.FailClosed,
			FailClosedMinAmount: 1000,
		})
		if v := o.Detect(ctx, &tx); !v.IsFraud || v.Source != domain.SourceError {
			t.Errorf("fail-closed should flag amounts above the minimum, got %+v", v)
		}
		small := domain.Transaction{ID: "S", Date: daytime, Amount: 10, PayerMobile: "1"}
		if v := o.Detect(ctx, &small); v.IsFraud {
			t.Errorf("fail-closed should not flag amounts below the minimum, got %+v", v)
		}
	})
}

func TestDetectIdempotent(t *testing.T) {
	o := New(defaultEngine(), checksOnlyScorer(t), Options{})
	tx := domain.Transaction{ID: "I", Date: "2023-01-10T02:00:00Z", Amount: 45000, PayerMobile: "1"}

	first := o.Detect(context.Background(), &tx)
	for i := 0; i < 5; i++ {
		again := o.Detect(context.Background(), &tx)
		if again.Response() != first.Response() {
			t.Fatalf("run %d: %+v differs from %+v", i, again.Response(), first.Response())
		}
	}
}

type concurrencyRules struct {
	current atomic.Int32
	max     atomic.Int32
}

func (c *concurrencyRules) Evaluate(context.Context, *domain.EnrichedTransaction) (bool, *domain.Rule, error) {
	n := c.current.Add(1)
	defer c.current.Add(-1)
	for {
		m := c.max.Load()
		if n <= m || c.max.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return false, nil, nil
}

func TestDetectBatch(t *testing.T) {
	cr := &concurrencyRules{}
	o := New(cr, nil, Options{BatchWorkers: 3})

	var txs []domain.Transaction
	for i := 0; i < 20; i++ {
		txs = append(txs, domain.Transaction{ID: fmt.Sprintf("tx-%d", i), Date: daytime, Amount: 10, PayerMobile: "1"})
	}
	txs = append(txs,
		domain.Transaction{Amount: 10},
		domain.Transaction{ID: "tx-0", Date: daytime, Amount: 20, PayerMobile: "1"},
	)

	results := o.DetectBatch(context.Background(), txs)
	if len(results) != 20 {
		t.Fatalf("got %d verdicts, want 20", len(results))
	}
	for id, v := range results {
		if v.TransactionID != id {
			t.Errorf("verdict for %s carries id %s", id, v.TransactionID)
		}
	}
	if m := cr.max.Load(); m > 3 {
		t.Errorf("observed %d concurrent evaluations, limit is 3", m)
	}
}

// selectiveRules fails for every transaction except survivor, panicking on
// even-numbered ones and returning an error on the rest.
type selectiveRules struct {
	survivor string
}

func (s selectiveRules) Evaluate(_ context.Context, tx *domain.EnrichedTransaction) (bool, *domain.Rule, error) {
	if tx.ID == s.survivor {
		return false, nil, nil
	}
	if tx.Amount == 0 {
		panic("rule boom")
	}
	return false, nil, errors.New("rule store down")
}

func TestDetectBatchPartialFailure(t *testing.T) {
	o := New(selectiveRules{survivor: "tx-4"}, nil, Options{BatchWorkers: 4})

	var txs []domain.Transaction
	for i := 0; i < 10; i++ {
		txs = append(txs, domain.Transaction{
			ID: fmt.Sprintf("tx-%d", i), Date: daytime, Amount: float64(i % 2), PayerMobile: "1",
		})
	}

	results := o.DetectBatch(context.Background(), txs)
	if len(results) != len(txs) {
		t.Fatalf("got %d verdicts, want %d", len(results), len(txs))
	}
	failed := 0
	for id, v := range results {
		if v.Source == domain.SourceError {
			failed++
			if v.IsFraud {
				t.Errorf("%s: fail-open error verdict should not flag fraud", id)
			}
		}
	}
	if failed != len(txs)-1 {
		t.Errorf("got %d error verdicts, want %d", failed, len(txs)-1)
	}
	if v := results["tx-4"]; v.Source == domain.SourceError {
		t.Errorf("surviving transaction got an error verdict: %+v", v)
	}
}

func TestDetectBatchEmpty(t *testing.T) {
	o := New(&stubRules{}, nil, Options{})
	if got := o.DetectBatch(context.Background(), nil); len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
}

type recordingSink struct {
	mu       sync.Mutex
	verdicts []domain.Verdict
	err      error
}

func (s *recordingSink) Record(_ context.Context, _ *domain.Transaction, v *domain.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts = append(s.verdicts, *v)
	return s.err
}

type countingRecorder struct {
	verdicts atomic.Int32
	pending  atomic.Int32
}

func (r *countingRecorder) ObserveVerdict(*domain.Verdict, time.Duration) { r.verdicts.Add(1) }
func (r *countingRecorder) ObservePending(string)                          { r.pending.Add(1) }

func TestDetectSinkAndRecorder(t *testing.T) {
	sink := &recordingSink{err: errors.New("sink down")}
	rec := &countingRecorder{}
	o := New(&stubRules{}, nil, Options{}).WithSink(sink).WithRecorder(rec)

	tx := domain.Transaction{ID: "K", Date: daytime, Amount: 10, PayerMobile: "1"}
	v := o.Detect(context.Background(), &tx)
	if v.Source == domain.SourceError {
		t.Fatalf("sink failure must not change the verdict: %+v", v)
	}
	if len(sink.verdicts) != 1 || sink.verdicts[0].TransactionID != "K" {
		t.Errorf("sink saw %+v", sink.verdicts)
	}
	if rec.verdicts.Load() != 1 {
		t.Errorf("recorder saw %d verdicts", rec.verdicts.Load())
	}

	o.Detect(context.Background(), &domain.Transaction{})
	if len(sink.verdicts) != 1 {
		t.Error("verdicts without a transaction id should not reach the sink")
	}
}

type fakeStore struct {
	txs, verdicts int
}

func (f *fakeStore) SaveTransaction(context.Context, *domain.Transaction) error {
	f.txs++
	return nil
}

func (f *fakeStore) SaveVerdict(context.Context, *domain.Verdict) error {
	f.verdicts++
	return nil
}

type fakePublisher struct {
	topics []string
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, _ []byte) error {
	f.topics = append(f.topics, topic)
	return f.err
}

func TestStoreSink(t *testing.T) {
	ctx := context.Background()
	tx := &domain.Transaction{ID: "S"}

	t.Run("Fraud", func(t *testing.T) {
		store, pub := &fakeStore{}, &fakePublisher{}
		err := NewStoreSink(store, pub).Record(ctx, tx, &domain.Verdict{TransactionID: "S", IsFraud: true})
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if store.txs != 1 || store.verdicts != 1 {
			t.Errorf("store calls: %+v", store)
		}
		if len(pub.topics) != 2 || pub.topics[0] != domain.TopicVerdict || pub.topics[1] != domain.TopicAlert {
			t.Errorf("published %v", pub.topics)
		}
	})

	t.Run("NotFraud", func(t *testing.T) {
		pub := &fakePublisher{}
		if err := NewStoreSink(nil, pub).Record(ctx, tx, &domain.Verdict{TransactionID: "S"}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if len(pub.topics) != 1 {
			t.Errorf("published %v", pub.topics)
		}
	})

	t.Run("PublishError", func(t *testing.T) {
		pub := &fakePublisher{err: errors.New("bus down")}
		err := NewStoreSink(nil, pub).Record(ctx, tx, &domain.Verdict{TransactionID: "S"})
		if err == nil || !strings.Contains(err.Error(), "bus down") {
			t.Errorf("expected joined publish error, got %v", err)
		}
	})
}
