package ml

import (
	"errors"
	"math"
	"sort"
)

// DecisionTree is a single CART-style classifier stored as a flat node
// array. Leaves keep the class counts seen during training so Predict
// can report a probability distribution, not just the majority label.
type DecisionTree struct {
	ClassNames []string   `json:"classes"`
	Nodes      []TreeNode `json:"nodes"`

	MaxDepth int `json:"-"`
	MinLeaf  int `json:"-"`
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Counts     []int   `json:"counts"`
	IsLeaf     bool    `json:"is_leaf"`
}

func NewDecisionTree(maxDepth int) *DecisionTree {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	return &DecisionTree{MaxDepth: maxDepth, MinLeaf: 1}
}

func (dt *DecisionTree) Classes() []string {
	out := make([]string, len(dt.ClassNames))
	copy(out, dt.ClassNames)
	return out
}

func (dt *DecisionTree) Train(features [][]float64, labels []string) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	if dt.MaxDepth <= 0 {
		dt.MaxDepth = 5
	}
	if dt.MinLeaf <= 0 {
		dt.MinLeaf = 1
	}

	classIndex := make(map[string]int)
	for _, label := range labels {
		classIndex[label] = 0
	}
	names := make([]string, 0, len(classIndex))
	for name := range classIndex {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		classIndex[name] = i
	}

	y := make([]int, len(labels))
	for i, label := range labels {
		y[i] = classIndex[label]
	}

	dt.ClassNames = names
	dt.Nodes = dt.buildNode(features, y, 0)
	return nil
}

func (dt *DecisionTree) Predict(features []float64) (string, map[string]float64, error) {
	if len(dt.Nodes) == 0 || len(dt.ClassNames) == 0 {
		return "", nil, errors.New("model not trained")
	}
	idx := 0
	for {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return dt.leafDistribution(node)
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return "", nil, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.Nodes) {
			return "", nil, errors.New("invalid tree state")
		}
	}
}

func (dt *DecisionTree) leafDistribution(node TreeNode) (string, map[string]float64, error) {
	if len(node.Counts) != len(dt.ClassNames) {
		return "", nil, errors.New("leaf counts do not match classes")
	}
	total := 0
	for _, c := range node.Counts {
		total += c
	}
	if total == 0 {
		return "", nil, errors.New("empty leaf")
	}
	probs := make(map[string]float64, len(dt.ClassNames))
	best := 0
	for i, c := range node.Counts {
		probs[dt.ClassNames[i]] = float64(c) / float64(total)
		if c > node.Counts[best] {
			best = i
		}
	}
	return dt.ClassNames[best], probs, nil
}

func (dt *DecisionTree) buildNode(features [][]float64, y []int, depth int) []TreeNode {
	leaf := TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Counts:     countClasses(y, len(dt.ClassNames)),
		IsLeaf:     true,
	}
	if depth >= dt.MaxDepth || isPure(y) || len(y) <= dt.MinLeaf {
		return []TreeNode{leaf}
	}

	bestFeature, threshold, ok := findBestSplit(features, y)
	if !ok {
		return []TreeNode{leaf}
	}

	leftFeatures, leftY, rightFeatures, rightY := splitData(features, y, bestFeature, threshold)
	if len(leftY) == 0 || len(rightY) == 0 {
		return []TreeNode{leaf}
	}

	leftNodes := dt.buildNode(leftFeatures, leftY, depth+1)
	rightNodes := dt.buildNode(rightFeatures, rightY, depth+1)

	root := TreeNode{
		FeatureIdx: bestFeature,
		Threshold:  threshold,
		LeftChild:  1,
		RightChild: 1 + len(leftNodes),
		Counts:     leaf.Counts,
		IsLeaf:     false,
	}

	nodes := make([]TreeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = append(nodes, leftNodes...)
	nodes = append(nodes, rightNodes...)
	return nodes
}

func findBestSplit(features [][]float64, y []int) (int, float64, bool) {
	featureCount := len(features[0])
	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := math.MaxFloat64

	for featureIdx := 0; featureIdx < featureCount; featureIdx++ {
		values := make([]float64, len(features))
		for i := range features {
			values[i] = features[i][featureIdx]
		}
		threshold := median(values)
		left, right := splitLabels(features, y, featureIdx, threshold)
		if len(left) == 0 || len(right) == 0 {
			continue
		}
		impurity := weightedGini(left, right)
		if impurity < bestImpurity {
			bestImpurity = impurity
			bestFeature = featureIdx
			bestThreshold = threshold
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func splitData(features [][]float64, y []int, featureIdx int, threshold float64) ([][]float64, []int, [][]float64, []int) {
	leftFeatures := make([][]float64, 0)
	leftY := make([]int, 0)
	rightFeatures := make([][]float64, 0)
	rightY := make([]int, 0)
	for i, row := range features {
		if row[featureIdx] <= threshold {
			leftFeatures = append(leftFeatures, row)
			leftY = append(leftY, y[i])
		} else {
			rightFeatures = append(rightFeatures, row)
			rightY = append(rightY, y[i])
		}
	}
	return leftFeatures, leftY, rightFeatures, rightY
}

func splitLabels(features [][]float64, y []int, featureIdx int, threshold float64) ([]int, []int) {
	left := make([]int, 0)
	right := make([]int, 0)
	for i, row := range features {
		if row[featureIdx] <= threshold {
			left = append(left, y[i])
		} else {
			right = append(right, y[i])
		}
	}
	return left, right
}

func weightedGini(left, right []int) float64 {
	leftWeight := float64(len(left))
	rightWeight := float64(len(right))
	total := leftWeight + rightWeight
	return (leftWeight/total)*gini(left) + (rightWeight/total)*gini(right)
}

func gini(y []int) float64 {
	if len(y) == 0 {
		return 0
	}
	counts := make(map[int]int)
	for _, label := range y {
		counts[label]++
	}
	impurity := 1.0
	for _, count := range counts {
		prob := float64(count) / float64(len(y))
		impurity -= prob * prob
	}
	return impurity
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func countClasses(y []int, numClasses int) []int {
	counts := make([]int, numClasses)
	for _, label := range y {
		if label >= 0 && label < numClasses {
			counts[label]++
		}
	}
	return counts
}

func isPure(y []int) bool {
	if len(y) == 0 {
		return true
	}
	first := y[0]
	for _, label := range y[1:] {
		if label != first {
			return false
		}
	}
	return true
}
