package detection

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"socwatch/internal/domain"
)

// Forest is a tree ensemble exported by the offline trainer. Each tree routes a
// feature vector left when value <= threshold, and the forest returns the
// class with the most votes; ties go to the class listed first.
type Forest struct {
	Classes []string `json:"classes"`
	Trees   []Tree   `json:"trees"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Node is a split when Feature >= 0, otherwise a leaf voting for Class.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Class     int     `json:"class"`
}

func (n Node) isLeaf() bool { return n.Feature < 0 }

var ErrEmptyForest = errors.New("detection: forest has no trees or classes")

func LoadForest(path string) (*Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("detection: read model: %w", err)
	}
	return ParseForest(data)
}

func ParseForest(data []byte) (*Forest, error) {
	var forest Forest
	if err := json.Unmarshal(data, &forest); err != nil {
		return nil, fmt.Errorf("detection: decode model: %w", err)
	}
	if err := forest.validate(); err != nil {
		return nil, err
	}
	return &forest, nil
}

func (f *Forest) validate() error {
	if len(f.Classes) == 0 || len(f.Trees) == 0 {
		return ErrEmptyForest
	}
	for ti, tree := range f.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("detection: tree %d has no nodes", ti)
		}
		for ni, node := range tree.Nodes {
			if node.isLeaf() {
				if node.Class < 0 || node.Class >= len(f.Classes) {
					return fmt.Errorf("detection: tree %d node %d: class %d out of range", ti, ni, node.Class)
				}
				continue
			}
			if node.Feature >= domain.FeatureCount {
				return fmt.Errorf("detection: tree %d node %d: feature %d out of range", ti, ni, node.Feature)
			}
			// children must come after their parent so evaluation always terminates
			for _, child := range []int{node.Left, node.Right} {
				if child <= ni || child >= len(tree.Nodes) {
					return fmt.Errorf("detection: tree %d node %d: child %d invalid", ti, ni, child)
				}
			}
		}
	}
	return nil
}

func (f *Forest) Predict(features domain.FeatureVector) (string, error) {
	if len(f.Trees) == 0 || len(f.Classes) == 0 {
		return "", ErrEmptyForest
	}

	votes := make([]int, len(f.Classes))
	for _, tree := range f.Trees {
		votes[tree.evaluate(features)]++
	}

	best := 0
	for i := 1; i < len(votes); i++ {
		if votes[i] > votes[best] {
			best = i
		}
	}
	return f.Classes[best], nil
}

func (t Tree) evaluate(features domain.FeatureVector) int {
	idx := 0
	for {
		node := t.Nodes[idx]
		if node.isLeaf() {
			return node.Class
		}
		if features[node.Feature] <= node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
	}
}
