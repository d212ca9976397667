package ml

// Model is a trained classifier over fixed-order feature vectors.
// Predict returns the winning label and the full per-label probability
// distribution; probabilities lie in [0,1] and sum to 1, and the
// winning label's probability is the maximum of the distribution.
type Model interface {
	Classes() []string
	Train(features [][]float64, labels []string) error
	Predict(features []float64) (string, map[string]float64, error)
}
