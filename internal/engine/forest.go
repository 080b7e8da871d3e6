package engine

import (
	"fmt"
)

// Tree is one decision tree in the flat parallel-array layout scikit-learn
// uses internally. Node 0 is the root; a node is a leaf when its left child
// is -1. Value holds one class-count (or class-fraction) row per node.
type Tree struct {
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	Value         [][]float64 `json:"value"`
}

// Forest is a random-forest classifier: the class probability is the mean of
// each tree's normalised leaf distribution.
type Forest struct {
	NFeatures int    `json:"n_features"`
	NClasses  int    `json:"n_classes"`
	Trees     []Tree `json:"trees"`
}

const leaf = -1

func (f *Forest) validate() error {
	if f.NFeatures <= 0 {
		return fmt.Errorf("n_features must be positive, got %d", f.NFeatures)
	}
	if f.NClasses <= 0 {
		return fmt.Errorf("n_classes must be positive, got %d", f.NClasses)
	}
	if len(f.Trees) == 0 {
		return fmt.Errorf("forest has no trees")
	}
	for i := range f.Trees {
		if err := f.Trees[i].validate(f.NFeatures, f.NClasses); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

// validate checks array shapes and that every child index points strictly
// forward, which guarantees traversal terminates.
func (t *Tree) validate(nFeatures, nClasses int) error {
	n := len(t.ChildrenLeft)
	if n == 0 {
		return fmt.Errorf("no nodes")
	}
	if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
		return fmt.Errorf("array lengths differ: left=%d right=%d feature=%d threshold=%d value=%d",
			n, len(t.ChildrenRight), len(t.Feature), len(t.Threshold), len(t.Value))
	}
	for i := 0; i < n; i++ {
		left, right := t.ChildrenLeft[i], t.ChildrenRight[i]
		if left == leaf {
			if right != leaf {
				return fmt.Errorf("node %d: leaf with right child %d", i, right)
			}
			if len(t.Value[i]) != nClasses {
				return fmt.Errorf("node %d: %d class values, want %d", i, len(t.Value[i]), nClasses)
			}
			var sum float64
			for _, v := range t.Value[i] {
				if v < 0 {
					return fmt.Errorf("node %d: negative class value", i)
				}
				sum += v
			}
			if sum <= 0 {
				return fmt.Errorf("node %d: empty leaf distribution", i)
			}
			continue
		}
		if left <= i || left >= n || right <= i || right >= n {
			return fmt.Errorf("node %d: child index out of range (left=%d right=%d)", i, left, right)
		}
		if feat := t.Feature[i]; feat < 0 || feat >= nFeatures {
			return fmt.Errorf("node %d: feature %d out of range", i, feat)
		}
	}
	return nil
}

// leafFor walks x down the tree. Samples are compared at float32 precision
// because scikit-learn casts inputs to float32 before splitting.
func (t *Tree) leafFor(x []float64) int {
	node := 0
	for t.ChildrenLeft[node] != leaf {
		v := float64(float32(x[t.Feature[node]]))
		if v <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
	}
	return node
}

// proba returns the mean normalised class distribution across all trees.
func (f *Forest) proba(x []float64) []float64 {
	out := make([]float64, f.NClasses)
	for i := range f.Trees {
		t := &f.Trees[i]
		dist := t.Value[t.leafFor(x)]
		var sum float64
		for _, v := range dist {
			sum += v
		}
		for c, v := range dist {
			out[c] += v / sum
		}
	}
	n := float64(len(f.Trees))
	for c := range out {
		out[c] /= n
	}
	return out
}

// argmax returns the first index holding the maximum value.
func argmax(p []float64) int {
	best := 0
	for i := 1; i < len(p); i++ {
		if p[i] > p[best] {
			best = i
		}
	}
	return best
}
