package ml

import (
	"errors"
	"fmt"
	"math"
)

// StandardScaler centers features to zero mean and unit variance. The
// fitted statistics are part of the classifier artifact; inference
// applies Transform with them and never refits.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *StandardScaler) Fit(features [][]float64) error {
	if len(features) == 0 {
		return errors.New("features is empty")
	}
	dims := len(features[0])
	if dims == 0 {
		return errors.New("feature vectors are empty")
	}
	for _, row := range features {
		if len(row) != dims {
			return fmt.Errorf("inconsistent feature length: %d vs %d", len(row), dims)
		}
	}

	mean := make([]float64, dims)
	for _, row := range features {
		for i, v := range row {
			mean[i] += v
		}
	}
	n := float64(len(features))
	for i := range mean {
		mean[i] /= n
	}

	scale := make([]float64, dims)
	for _, row := range features {
		for i, v := range row {
			d := v - mean[i]
			scale[i] += d * d
		}
	}
	for i := range scale {
		scale[i] = math.Sqrt(scale[i] / n)
		// Constant feature: leave it centered but unscaled.
		if scale[i] == 0 {
			scale[i] = 1
		}
	}

	s.Mean = mean
	s.Scale = scale
	return nil
}

func (s *StandardScaler) Transform(features []float64) ([]float64, error) {
	if len(s.Mean) == 0 || len(s.Scale) == 0 {
		return nil, errors.New("scaler not fitted")
	}
	if len(features) != len(s.Mean) {
		return nil, fmt.Errorf("feature length %d does not match fitted scaler %d", len(features), len(s.Mean))
	}
	out := make([]float64, len(features))
	for i, v := range features {
		out[i] = (v - s.Mean[i]) / s.Scale[i]
	}
	return out, nil
}

func (s *StandardScaler) TransformAll(features [][]float64) ([][]float64, error) {
	out := make([][]float64, len(features))
	for i, row := range features {
		scaled, err := s.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = scaled
	}
	return out, nil
}
