package detect

import (
	"fmt"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
)

// ReasonHeuristic is reported when only the heuristic risk score flags a transaction.
const ReasonHeuristic = "Multiple risk factors identified"

// DefaultHeuristicThreshold is the risk score above which the heuristic flags fraud.
const DefaultHeuristicThreshold = 0.7

// Inputs are the independent opinions merged into one verdict.
type Inputs struct {
	RuleMatched bool
	Rule        *domain.Rule
	Assessment  model.Assessment
	Risk        float64
}

// Merge applies the precedence rule > model > heuristic.
func Merge(txID string, in Inputs, heuristicThreshold float64) domain.Verdict {
	v := domain.Verdict{
		TransactionID: txID,
		EvaluatedAt:   time.Now().UTC(),
	}

	anomaly := 0.0
	if !in.Assessment.Abstained {
		anomaly = in.Assessment.AnomalyScore
		v.ModelVersion = in.Assessment.Version
	}
	combined := math.Max(in.Risk, anomaly)

	switch {
	case in.RuleMatched && in.Rule != nil:
		v.IsFraud = true
		v.Source = domain.SourceRule
		v.Reason = fmt.Sprintf("Rule: %s - %s", in.Rule.Name, in.Rule.Description)
		v.Score = 1.0
		id := in.Rule.ID
		v.RuleID = &id

	case in.Assessment.Flagged && !in.Assessment.Abstained:
		v.IsFraud = true
		v.Source = domain.SourceModel
		v.Reason = in.Assessment.Reason
		v.Score = combined

	case in.Risk > heuristicThreshold:
		v.IsFraud = true
		v.Source = domain.SourceHeuristic
		v.Reason = ReasonHeuristic
		v.Score = combined

	default:
		v.Score = combined
	}

	v.Normalize()
	return v
}

// ErrorVerdict is the fail-safe verdict for an internal failure.
func ErrorVerdict(txID string, cause error) domain.Verdict {
	return domain.Verdict{
		TransactionID: txID,
		IsFraud:       false,
		Source:        domain.SourceError,
		Reason:        fmt.Sprintf("Error in fraud detection system: %v", cause),
		Score:         0,
		EvaluatedAt:   time.Now().UTC(),
	}
}

// applyFailurePolicy flips error verdicts to fraud under a fail-closed
// policy for transactions at or above the configured amount.
func applyFailurePolicy(v *domain.Verdict, amount float64, policy domain.FailurePolicy, minAmount float64) {
	if v.Source != domain.SourceError || policy != domain.FailClosed {
		return
	}
	if amount >= minAmount {
		v.IsFraud = true
	}
}
