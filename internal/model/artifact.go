// Package model wraps the pre-trained anomaly model and its built-in checks.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrArtifactUnavailable means no usable model bundle was loaded.
var ErrArtifactUnavailable = errors.New("model artifact unavailable")

// DefaultAnomalyThreshold applies when neither the bundle nor config set one.
const DefaultAnomalyThreshold = 0.4

// Artifact is the serialized model bundle produced by offline training.
type Artifact struct {
	Version          string   `json:"version"`
	FeatureNames     []string `json:"feature_names"`
	Scaler           Scaler   `json:"scaler"`
	Forest           Forest   `json:"forest"`
	AnomalyThreshold float64  `json:"anomaly_threshold"`
}

// Scaler standardizes features as (x - mean) / scale.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Transform standardizes x in place. An empty scaler is the identity.
func (s Scaler) Transform(x []float64) {
	if len(s.Mean) == 0 {
		return
	}
	for i := range x {
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		x[i] = (x[i] - s.Mean[i]) / scale
	}
}

// LoadArtifact reads and validates a model bundle.
func LoadArtifact(path string) (*Artifact, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no model path configured", ErrArtifactUnavailable)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactUnavailable, err)
	}
	return ParseArtifact(data)
}

// ParseArtifact decodes and validates a model bundle.
func ParseArtifact(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: malformed bundle: %v", ErrArtifactUnavailable, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate checks the bundle is internally consistent.
func (a *Artifact) Validate() error {
	n := len(a.FeatureNames)
	if n == 0 {
		return fmt.Errorf("%w: no feature names", ErrArtifactUnavailable)
	}
	if len(a.Scaler.Mean) != 0 || len(a.Scaler.Scale) != 0 {
		if len(a.Scaler.Mean) != n || len(a.Scaler.Scale) != n {
			return fmt.Errorf("%w: scaler has %d/%d entries for %d features",
				ErrArtifactUnavailable, len(a.Scaler.Mean), len(a.Scaler.Scale), n)
		}
	}
	if a.AnomalyThreshold < 0 || a.AnomalyThreshold > 1 {
		return fmt.Errorf("%w: anomaly threshold %v out of range", ErrArtifactUnavailable, a.AnomalyThreshold)
	}
	if err := a.Forest.validate(n); err != nil {
		return fmt.Errorf("%w: %v", ErrArtifactUnavailable, err)
	}
	return nil
}
