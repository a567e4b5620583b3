package domain

import (
	"math"
	"testing"
)

func TestVerdictNormalize(t *testing.T) {
	tests := []struct {
		name       string
		in         Verdict
		wantScore  float64
		wantSource VerdictSource
		wantReason bool
	}{
		{"clamp high", Verdict{Score: 1.7}, 1, SourceNone, false},
		{"clamp negative", Verdict{Score: -0.2}, 0, SourceNone, false},
		{"nan", Verdict{Score: math.NaN()}, 0, SourceNone, false},
		{"fraud without source", Verdict{IsFraud: true, Score: 0.9}, 0.9, SourceHeuristic, true},
		{"fraud keeps reason", Verdict{IsFraud: true, Source: SourceRule, Reason: "Rule: x - y", Score: 1}, 1, SourceRule, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.in
			v.Normalize()
			if v.Score != tt.wantScore {
				t.Errorf("Score = %v, want %v", v.Score, tt.wantScore)
			}
			if v.Source != tt.wantSource {
				t.Errorf("Source = %q, want %q", v.Source, tt.wantSource)
			}
			if tt.wantReason && v.Reason == "" {
				t.Error("fraud verdict must carry a reason")
			}
		})
	}
}

func TestVerdictResponse(t *testing.T) {
	id := int64(3)
	v := Verdict{TransactionID: "T1", IsFraud: true, Source: SourceRule, Reason: "r", Score: 1, RuleID: &id}
	resp := v.Response()
	if resp.TransactionID != "T1" || !resp.IsFraud || resp.Source != "rule" || resp.Reason != "r" || resp.Score != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestSortRules(t *testing.T) {
	rules := []Rule{
		{ID: 3, Priority: 10},
		{ID: 1, Priority: 50},
		{ID: 2, Priority: 50},
		{ID: 4, Priority: 90},
	}
	SortRules(rules)

	want := []int64{4, 1, 2, 3}
	for i, id := range want {
		if rules[i].ID != id {
			t.Fatalf("position %d: got rule %d, want %d", i, rules[i].ID, id)
		}
	}
}

func TestAttributesFlagsAreNumeric(t *testing.T) {
	e := &EnrichedTransaction{HasMobile: true, IsNight: false}
	attrs := e.Attributes()
	if attrs["has_mobile"] != 1.0 {
		t.Errorf("has_mobile = %v, want 1", attrs["has_mobile"])
	}
	if attrs["is_night"] != 0.0 {
		t.Errorf("is_night = %v, want 0", attrs["is_night"])
	}

	e.IsNight, e.IsRoundAmount = true, true
	model := e.ModelAttributes()
	if model["is_night"] != 0.0 || model["is_round_amount"] != 0.0 {
		t.Errorf("model attributes should use the model definitions: %v %v", model["is_night"], model["is_round_amount"])
	}
	if e.Attributes()["is_night"] != 1.0 {
		t.Error("rule attributes lost is_night")
	}
}
