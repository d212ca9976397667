package pose

import "fmt"

// BuildFeatures flattens the named landmarks into the feature vector a
// trained classifier expects: for each name in order, x, y, z and
// visibility contiguously. The ordering is a contract with the fitted
// scaler; changing it invalidates every trained model.
//
// An unknown landmark name is a configuration error, never silently
// zero-filled.
func BuildFeatures(set Set, names []string) ([]float64, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no landmark names configured")
	}
	features := make([]float64, 0, len(names)*4)
	for _, name := range names {
		idx, ok := LandmarkIndex(name)
		if !ok {
			return nil, fmt.Errorf("landmark %q not present in landmark set", name)
		}
		lm := set[idx]
		features = append(features, lm.X, lm.Y, lm.Z, lm.Visibility)
	}
	return features, nil
}

// FeatureNames expands landmark names into per-component feature
// names ("nose_x", "nose_y", ...), matching BuildFeatures ordering.
// Used for training CSV headers and artifact metadata.
func FeatureNames(names []string) ([]string, error) {
	out := make([]string, 0, len(names)*4)
	for _, name := range names {
		idx, ok := LandmarkIndex(name)
		if !ok {
			return nil, fmt.Errorf("unknown landmark name %q", name)
		}
		canonical := LandmarkName(idx)
		out = append(out, canonical+"_x", canonical+"_y", canonical+"_z", canonical+"_v")
	}
	return out, nil
}
