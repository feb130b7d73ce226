package classifier

import "fmt"

const leafNode = -1

// tree is a fitted binary decision tree in the flat-array layout used by
// scikit-learn's tree_ attribute. Node i is a leaf when childrenLeft[i] is -1.
type tree struct {
	childrenLeft  []int
	childrenRight []int
	feature       []int
	threshold     []float64
	// proba[i] is the class-1 fraction at node i.
	proba []float64
}

func newTree(a treeArtifact, nFeatures int) (*tree, error) {
	n := len(a.ChildrenLeft)
	if n == 0 {
		return nil, fmt.Errorf("tree has no nodes")
	}
	if len(a.ChildrenRight) != n || len(a.Feature) != n || len(a.Threshold) != n || len(a.Value) != n {
		return nil, fmt.Errorf("tree arrays have mismatched lengths")
	}

	t := &tree{
		childrenLeft:  a.ChildrenLeft,
		childrenRight: a.ChildrenRight,
		feature:       a.Feature,
		threshold:     a.Threshold,
		proba:         make([]float64, n),
	}

	for i := 0; i < n; i++ {
		left, right := a.ChildrenLeft[i], a.ChildrenRight[i]
		if left == leafNode {
			if right != leafNode {
				return nil, fmt.Errorf("node %d: leaf with right child", i)
			}
		} else {
			if left <= i || left >= n || right <= i || right >= n {
				return nil, fmt.Errorf("node %d: child index out of range", i)
			}
			if a.Feature[i] < 0 || a.Feature[i] >= nFeatures {
				return nil, fmt.Errorf("node %d: feature index %d out of range", i, a.Feature[i])
			}
		}

		if len(a.Value[i]) != 2 {
			return nil, fmt.Errorf("node %d: expected 2 class values, got %d", i, len(a.Value[i]))
		}
		neg, pos := a.Value[i][0], a.Value[i][1]
		if neg < 0 || pos < 0 {
			return nil, fmt.Errorf("node %d: negative class value", i)
		}
		if total := neg + pos; total > 0 {
			t.proba[i] = pos / total
		} else if left == leafNode {
			return nil, fmt.Errorf("node %d: leaf with empty class values", i)
		}
	}

	return t, nil
}

// leafProbability walks from the root to a leaf and returns its class-1
// fraction. Children always have larger indices than their parent, so the
// walk terminates.
func (t *tree) leafProbability(x []float64) float64 {
	node := 0
	for t.childrenLeft[node] != leafNode {
		if x[t.feature[node]] <= t.threshold[node] {
			node = t.childrenLeft[node]
		} else {
			node = t.childrenRight[node]
		}
	}
	return t.proba[node]
}

// forest averages leaf probabilities over its trees. A single decision tree
// is a forest of one.
type forest struct {
	trees []*tree
}

func (f *forest) probability(x []float64) float64 {
	var sum float64
	for _, t := range f.trees {
		sum += t.leafProbability(x)
	}
	return sum / float64(len(f.trees))
}

// decide returns the argmax over the averaged class probabilities; a tie
// resolves to class 0, the first maximum.
func (f *forest) decide(x []float64) int {
	p := f.probability(x)
	if p > 1-p {
		return 1
	}
	return 0
}
