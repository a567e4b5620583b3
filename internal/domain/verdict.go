package domain

import (
	"time"
)

// VerdictSource identifies which component decided a verdict.
type VerdictSource string

// Verdict sources. An empty source means no component flagged the transaction.
const (
	SourceNone      VerdictSource = ""
	SourceRule      VerdictSource = "rule"
	SourceModel     VerdictSource = "model"
	SourceHeuristic VerdictSource = "heuristic"
	SourceError     VerdictSource = "error"
)

// Verdict is the final decision for one transaction.
type Verdict struct {
	TransactionID string        `json:"transaction_id"`
	IsFraud       bool          `json:"is_fraud"`
	Source        VerdictSource `json:"fraud_source"`
	Reason        string        `json:"fraud_reason"`
	Score         float64       `json:"fraud_score"`
	RuleID        *int64        `json:"rule_id,omitempty"`
	ModelVersion  string        `json:"model_version,omitempty"`
	EvaluatedAt   time.Time     `json:"evaluated_at"`

	// Filled in by the persistence layer.
	Reported bool `json:"is_fraud_reported,omitempty"`
}

// VerdictResponse is the externally visible verdict.
type VerdictResponse struct {
	TransactionID string  `json:"transaction_id"`
	IsFraud       bool    `json:"is_fraud"`
	Source        string  `json:"fraud_source"`
	Reason        string  `json:"fraud_reason"`
	Score         float64 `json:"fraud_score"`
}

// Normalize clamps the score to [0,1] and guarantees a fraud verdict carries
// a source and a reason.
func (v *Verdict) Normalize() {
	v.Score = Clamp01(v.Score)
	if !v.IsFraud {
		return
	}
	if v.Source == SourceNone {
		v.Source = SourceHeuristic
	}
	if v.Reason == "" {
		v.Reason = "Flagged by " + string(v.Source)
	}
}

// Response converts a Verdict to its wire form.
func (v *Verdict) Response() VerdictResponse {
	return VerdictResponse{
		TransactionID: v.TransactionID,
		IsFraud:       v.IsFraud,
		Source:        string(v.Source),
		Reason:        v.Reason,
		Score:         v.Score,
	}
}

// FraudReport is a confirmation from an operator that a transaction was fraud.
type FraudReport struct {
	TransactionID string `json:"transaction_id" validate:"required"`
	Channel       string `json:"reporting_entity_id,omitempty"`
	Detail        string `json:"fraud_details,omitempty"`
}

// Clamp01 limits v to [0,1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
