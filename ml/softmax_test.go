package ml

import (
	"math"
	"testing"
)

func trainedSoftmax(t *testing.T) *SoftmaxClassifier {
	t.Helper()
	features := [][]float64{
		{0.1, 0.1}, {0.2, 0.0}, {0.0, 0.2}, {0.15, 0.05},
		{5.0, 5.1}, {5.2, 4.9}, {4.8, 5.0}, {5.1, 5.2},
		{0.0, 5.0}, {0.2, 5.1}, {0.1, 4.9}, {0.05, 5.2},
	}
	labels := []string{
		"C", "C", "C", "C",
		"H", "H", "H", "H",
		"L", "L", "L", "L",
	}
	model := NewSoftmaxClassifier()
	if err := model.Train(features, labels); err != nil {
		t.Fatalf("train failed: %v", err)
	}
	return model
}

func TestSoftmaxPredictSeparatesClasses(t *testing.T) {
	model := trainedSoftmax(t)

	cases := []struct {
		features []float64
		want     string
	}{
		{[]float64{0.1, 0.1}, "C"},
		{[]float64{5.0, 5.0}, "H"},
		{[]float64{0.1, 5.0}, "L"},
	}
	for _, tc := range cases {
		label, probs, err := model.Predict(tc.features)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if label != tc.want {
			t.Fatalf("expected %s for %v, got %s (probs %v)", tc.want, tc.features, label, probs)
		}
	}
}

func TestSoftmaxProbabilityDistribution(t *testing.T) {
	model := trainedSoftmax(t)

	label, probs, err := model.Predict([]float64{2.0, 2.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sum := 0.0
	max := -1.0
	for _, p := range probs {
		if p < 0 || p > 1 {
			t.Fatalf("probability out of range: %v", probs)
		}
		sum += p
		if p > max {
			max = p
		}
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("probabilities sum to %v, want 1", sum)
	}
	if probs[label] != max {
		t.Fatalf("reported label %s prob %v is not the max %v", label, probs[label], max)
	}
	if len(probs) != 3 {
		t.Fatalf("expected 3 classes in distribution, got %d", len(probs))
	}
}

func TestSoftmaxTrainValidation(t *testing.T) {
	model := NewSoftmaxClassifier()
	if err := model.Train(nil, nil); err == nil {
		t.Fatal("expected error for empty training set")
	}
	if err := model.Train([][]float64{{1}}, []string{"a", "b"}); err == nil {
		t.Fatal("expected error for size mismatch")
	}
	if err := model.Train([][]float64{{1}, {2}}, []string{"a", "a"}); err == nil {
		t.Fatal("expected error for single class")
	}
	if _, _, err := model.Predict([]float64{1}); err == nil {
		t.Fatal("expected error for untrained model")
	}
}

func TestSoftmaxPredictLengthMismatch(t *testing.T) {
	model := trainedSoftmax(t)
	if _, _, err := model.Predict([]float64{1}); err == nil {
		t.Fatal("expected error for wrong feature length")
	}
}
