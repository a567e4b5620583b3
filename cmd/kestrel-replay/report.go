package main

import (
	"fmt"
	"io"
	"time"
)

// Confusion is a binary confusion matrix.
type Confusion struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64
	Errors         int64
}

// Add records one prediction.
func (c *Confusion) Add(predicted, actual bool) {
	switch {
	case predicted && actual:
		c.TruePositives++
	case predicted && !actual:
		c.FalsePositives++
	case !predicted && actual:
		c.FalseNegatives++
	default:
		c.TrueNegatives++
	}
}

// Total is the number of predictions recorded.
func (c *Confusion) Total() int64 {
	return c.TruePositives + c.FalsePositives + c.TrueNegatives + c.FalseNegatives
}

// Precision is TP / (TP + FP), or 0 without positive predictions.
func (c *Confusion) Precision() float64 {
	return ratio(c.TruePositives, c.TruePositives+c.FalsePositives)
}

// Recall is TP / (TP + FN), or 0 without actual fraud.
func (c *Confusion) Recall() float64 {
	return ratio(c.TruePositives, c.TruePositives+c.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (c *Confusion) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy is the share of correct predictions.
func (c *Confusion) Accuracy() float64 {
	return ratio(c.TruePositives+c.TrueNegatives, c.Total())
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Report is the outcome of one replay run.
type Report struct {
	Matrix   Confusion
	BySource map[string]int64
	Skipped  int
	Duration time.Duration
}

func (r *Report) print(w io.Writer) {
	m := &r.Matrix

	fmt.Fprintln(w)
	fmt.Fprintln(w, "REPLAY RESULTS")
	fmt.Fprintf(w, "  Processed:  %d\n", m.Total())
	fmt.Fprintf(w, "  Fraud:      %d\n", m.TruePositives+m.FalseNegatives)
	fmt.Fprintf(w, "  Non-fraud:  %d\n", m.FalsePositives+m.TrueNegatives)
	fmt.Fprintf(w, "  Skipped:    %d\n", r.Skipped)
	fmt.Fprintf(w, "  Errors:     %d\n", m.Errors)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "CONFUSION MATRIX")
	fmt.Fprintln(w, "                   Predicted")
	fmt.Fprintln(w, "                fraud     clean")
	fmt.Fprintf(w, "  Actual fraud  %8d  %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Fprintf(w, "         clean  %8d  %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "DETECTION METRICS")
	fmt.Fprintf(w, "  Precision:  %.4f\n", m.Precision())
	fmt.Fprintf(w, "  Recall:     %.4f\n", m.Recall())
	fmt.Fprintf(w, "  F1-Score:   %.4f\n", m.F1())
	fmt.Fprintf(w, "  Accuracy:   %.4f\n", m.Accuracy())

	if len(r.BySource) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "VERDICTS BY SOURCE")
		for _, source := range []string{"rule", "model", "heuristic", "error", "none"} {
			if n := r.BySource[source]; n > 0 {
				fmt.Fprintf(w, "  %-10s %d\n", source+":", n)
			}
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "PERFORMANCE")
	fmt.Fprintf(w, "  Duration:    %v\n", r.Duration.Round(time.Millisecond))
	if total := m.Total(); total > 0 && r.Duration > 0 {
		fmt.Fprintf(w, "  Throughput:  %.2f tx/sec\n", float64(total)/r.Duration.Seconds())
	}
	fmt.Fprintln(w)
}
