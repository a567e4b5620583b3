package model

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ReasonAnomaly is reported when the forest alone flags a transaction.
const ReasonAnomaly = "Unusual transaction pattern detected by anomaly detection"

// Assessment is the model's opinion on one transaction.
type Assessment struct {
	Flagged      bool    `json:"flagged"`
	Reason       string  `json:"reason,omitempty"`
	Check        string  `json:"check,omitempty"`
	Score        float64 `json:"score"`
	AnomalyScore float64 `json:"anomaly_score"`
	RiskScore    float64 `json:"risk_score"`
	Version      string  `json:"version,omitempty"`
	Abstained    bool    `json:"abstained,omitempty"`
}

// Scorer wraps a loaded artifact. Without an artifact it abstains from
// anomaly scoring but still runs the built-in checks.
type Scorer struct {
	artifact  *Artifact
	threshold float64
	version   string
	checks    []compiledCheck
}

// NewScorer loads the configured artifact. A missing or malformed artifact
// is logged and yields an abstaining scorer; only a broken built-in check
// is an error.
func NewScorer(cfg domain.ModelConfig) (*Scorer, error) {
	artifact, err := LoadArtifact(cfg.Path)
	if err != nil {
		slog.Warn("anomaly model unavailable, scorer will abstain", "path", cfg.Path, "error", err)
		artifact = nil
	}
	return NewScorerFromArtifact(artifact, cfg)
}

// NewScorerFromArtifact builds a scorer around an already loaded artifact,
// which may be nil.
func NewScorerFromArtifact(artifact *Artifact, cfg domain.ModelConfig) (*Scorer, error) {
	checks, err := compileChecks(BuiltinChecks)
	if err != nil {
		return nil, err
	}

	s := &Scorer{
		artifact:  artifact,
		threshold: DefaultAnomalyThreshold,
		checks:    checks,
	}
	if artifact != nil {
		if artifact.AnomalyThreshold > 0 {
			s.threshold = artifact.AnomalyThreshold
		}
		s.version = artifact.Version
	}
	if cfg.AnomalyThreshold > 0 {
		s.threshold = cfg.AnomalyThreshold
	}
	if cfg.Version != "" {
		s.version = cfg.Version
	}

	if artifact != nil {
		slog.Info("anomaly model loaded",
			"version", s.version,
			"features", len(artifact.FeatureNames),
			"trees", len(artifact.Forest.Trees),
			"threshold", s.threshold,
		)
	}
	return s, nil
}

// Available reports whether an anomaly model is loaded.
func (s *Scorer) Available() bool {
	return s != nil && s.artifact != nil
}

// Version returns the model version, empty when no model is loaded.
func (s *Scorer) Version() string {
	if s == nil {
		return ""
	}
	return s.version
}

// Threshold returns the anomaly threshold in use.
func (s *Scorer) Threshold() float64 {
	return s.threshold
}

// Score returns the anomaly score in [0,1], higher is more anomalous.
// It returns 0 when no model is loaded.
func (s *Scorer) Score(e *domain.EnrichedTransaction) float64 {
	if !s.Available() {
		return 0
	}
	x := s.vector(e)
	raw := s.artifact.Forest.DecisionFunction(x)
	if math.IsNaN(raw) {
		return 0
	}
	return domain.Clamp01(1 - (raw+1)/2)
}

// IsAnomalous compares a score to the threshold. Always false without a model.
func (s *Scorer) IsAnomalous(score float64) bool {
	return s.Available() && score > s.threshold
}

// Assess runs the built-in checks, then the anomaly threshold. Any failure
// inside scoring yields an abstaining assessment.
func (s *Scorer) Assess(e *domain.EnrichedTransaction) (a Assessment) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("model assessment panicked, abstaining", "tx_id", e.ID, "panic", fmt.Sprint(r))
			a = Assessment{Abstained: true, Version: s.version}
		}
	}()

	a.Version = s.version
	a.RiskScore = RiskScore(e)
	a.AnomalyScore = s.Score(e)
	a.Score = math.Max(a.RiskScore, a.AnomalyScore)

	attrs := e.ModelAttributes()
	for i := range s.checks {
		c := &s.checks[i]
		ok, err := c.eval(attrs)
		if err != nil {
			slog.Warn("model check failed", "check", c.Name, "tx_id", e.ID, "error", err)
			continue
		}
		if ok {
			a.Flagged = true
			a.Reason = c.Reason
			a.Check = c.Name
			return a
		}
	}

	if s.IsAnomalous(a.AnomalyScore) {
		a.Flagged = true
		a.Reason = ReasonAnomaly
		a.Check = "anomaly"
	}
	return a
}

func (s *Scorer) vector(e *domain.EnrichedTransaction) []float64 {
	attrs := e.ModelAttributes()
	x := make([]float64, len(s.artifact.FeatureNames))
	for i, name := range s.artifact.FeatureNames {
		if v, ok := attrs[name].(float64); ok {
			x[i] = v
		}
	}
	s.artifact.Scaler.Transform(x)
	return x
}
