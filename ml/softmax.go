package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SoftmaxClassifier is a multinomial logistic regression model. It is
// the Go counterpart of the scikit-learn models the pose artifacts
// were originally trained with: a weight row and bias per class,
// probabilities via softmax over the linear scores.
type SoftmaxClassifier struct {
	ClassNames []string    `json:"classes"`
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`

	Epochs       int     `json:"-"`
	LearningRate float64 `json:"-"`
	L2           float64 `json:"-"`

	denseOnce sync.Once
	dense     *mat.Dense
	denseErr  error
}

func NewSoftmaxClassifier() *SoftmaxClassifier {
	return &SoftmaxClassifier{
		Epochs:       300,
		LearningRate: 0.1,
	}
}

func (c *SoftmaxClassifier) Classes() []string {
	out := make([]string, len(c.ClassNames))
	copy(out, c.ClassNames)
	return out
}

// matrix materializes the weight matrix exactly once. The classifier
// is shared read-only across every detector built from one artifact,
// so Predict must not mutate it on first use.
func (c *SoftmaxClassifier) matrix() (*mat.Dense, error) {
	c.denseOnce.Do(func() {
		rows := len(c.Weights)
		if rows == 0 {
			c.denseErr = errors.New("model not trained")
			return
		}
		cols := len(c.Weights[0])
		flat := make([]float64, 0, rows*cols)
		for _, row := range c.Weights {
			if len(row) != cols {
				c.denseErr = errors.New("ragged weight matrix")
				return
			}
			flat = append(flat, row...)
		}
		c.dense = mat.NewDense(rows, cols, flat)
	})
	return c.dense, c.denseErr
}

func (c *SoftmaxClassifier) Predict(features []float64) (string, map[string]float64, error) {
	w, err := c.matrix()
	if err != nil {
		return "", nil, err
	}
	rows, cols := w.Dims()
	if len(features) != cols {
		return "", nil, fmt.Errorf("feature length %d does not match model %d", len(features), cols)
	}
	if len(c.ClassNames) != rows || len(c.Bias) != rows {
		return "", nil, errors.New("classes/weights/bias size mismatch")
	}

	var scores mat.VecDense
	scores.MulVec(w, mat.NewVecDense(cols, features))
	raw := make([]float64, rows)
	for i := range raw {
		raw[i] = scores.AtVec(i) + c.Bias[i]
	}

	lse := floats.LogSumExp(raw)
	probs := make(map[string]float64, rows)
	best := 0
	for i := range raw {
		probs[c.ClassNames[i]] = math.Exp(raw[i] - lse)
		if raw[i] > raw[best] {
			best = i
		}
	}
	return c.ClassNames[best], probs, nil
}

// Train fits the model with stochastic gradient descent on the
// cross-entropy loss. Class names are the sorted distinct labels.
func (c *SoftmaxClassifier) Train(features [][]float64, labels []string) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return errors.New("features and labels size mismatch")
	}
	dims := len(features[0])
	for _, row := range features {
		if len(row) != dims {
			return errors.New("inconsistent feature length")
		}
	}
	if c.Epochs <= 0 {
		c.Epochs = 300
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.1
	}

	classIndex := make(map[string]int)
	for _, label := range labels {
		if _, ok := classIndex[label]; !ok {
			classIndex[label] = 0
		}
	}
	names := make([]string, 0, len(classIndex))
	for name := range classIndex {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		classIndex[name] = i
	}
	if len(names) < 2 {
		return errors.New("need at least two classes")
	}

	k := len(names)
	weights := make([][]float64, k)
	for i := range weights {
		weights[i] = make([]float64, dims)
	}
	bias := make([]float64, k)
	raw := make([]float64, k)

	for epoch := 0; epoch < c.Epochs; epoch++ {
		for i, x := range features {
			target := classIndex[labels[i]]
			for j := 0; j < k; j++ {
				raw[j] = bias[j] + floats.Dot(weights[j], x)
			}
			lse := floats.LogSumExp(raw)
			for j := 0; j < k; j++ {
				p := math.Exp(raw[j] - lse)
				g := p
				if j == target {
					g -= 1
				}
				step := c.LearningRate * g
				for d := 0; d < dims; d++ {
					weights[j][d] -= step*x[d] + c.LearningRate*c.L2*weights[j][d]
				}
				bias[j] -= step
			}
		}
	}

	c.ClassNames = names
	c.Weights = weights
	c.Bias = bias
	c.denseOnce = sync.Once{}
	c.dense = nil
	c.denseErr = nil
	return nil
}
