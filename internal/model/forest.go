package model

import (
	"fmt"
	"math"
)

// eulerGamma is the Euler–Mascheroni constant.
const eulerGamma = 0.5772156649015329

// Forest is a serialized isolation forest.
type Forest struct {
	MaxSamples int     `json:"max_samples"`
	Offset     float64 `json:"offset"`
	Trees      []Tree  `json:"trees"`
}

// Tree is a flattened isolation tree. Nodes[0] is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Node is a split or, when Feature < 0, a leaf.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	NSamples  int     `json:"n_samples"`
}

func (n Node) leaf() bool { return n.Feature < 0 }

func (f *Forest) validate(nFeatures int) error {
	if f.MaxSamples < 2 {
		return fmt.Errorf("max_samples must be at least 2")
	}
	if len(f.Trees) == 0 {
		return fmt.Errorf("forest has no trees")
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.leaf() {
				continue
			}
			if n.Feature >= nFeatures {
				return fmt.Errorf("tree %d node %d: feature %d out of range", ti, ni, n.Feature)
			}
			// Children must come after their parent so traversal terminates.
			if n.Left <= ni || n.Left >= len(t.Nodes) || n.Right <= ni || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d: child index out of range", ti, ni)
			}
		}
	}
	return nil
}

// pathLength returns the isolation depth of x in t, including the expected
// remaining depth of the leaf it lands in.
func (t *Tree) pathLength(x []float64) float64 {
	depth := 0
	i := 0
	for {
		n := t.Nodes[i]
		if n.leaf() {
			return float64(depth) + averagePathLength(n.NSamples)
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}

// ScoreSamples returns the opposite of the anomaly score defined in the
// isolation forest paper: values near -1 are anomalous, near -0.5 normal.
func (f *Forest) ScoreSamples(x []float64) float64 {
	total := 0.0
	for i := range f.Trees {
		total += f.Trees[i].pathLength(x)
	}
	mean := total / float64(len(f.Trees))
	return -math.Pow(2, -mean/averagePathLength(f.MaxSamples))
}

// DecisionFunction returns ScoreSamples shifted by the fitted offset.
// Negative values are outliers.
func (f *Forest) DecisionFunction(x []float64) float64 {
	return f.ScoreSamples(x) - f.Offset
}

// averagePathLength is the average path length of an unsuccessful search
// in a binary search tree of n nodes.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}
