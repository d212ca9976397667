package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Artifact is the serialized (model, scaler) pair for one pose. It is
// produced offline by the trainer, loaded once per pose, and never
// mutated after load.
type Artifact struct {
	Pose         string             `json:"pose"`
	ModelType    string             `json:"model_type"`
	FeatureNames []string           `json:"feature_names,omitempty"`
	Scaler       *StandardScaler    `json:"scaler"`
	Softmax      *SoftmaxClassifier `json:"softmax,omitempty"`
	Tree         *DecisionTree      `json:"tree,omitempty"`
}

const (
	ModelTypeSoftmax = "softmax"
	ModelTypeTree    = "decision_tree"
)

// Model returns the classifier selected by ModelType.
func (a *Artifact) Model() (Model, error) {
	switch a.ModelType {
	case ModelTypeSoftmax:
		if a.Softmax == nil {
			return nil, errors.New("artifact missing softmax model")
		}
		return a.Softmax, nil
	case ModelTypeTree:
		if a.Tree == nil {
			return nil, errors.New("artifact missing decision tree model")
		}
		return a.Tree, nil
	default:
		return nil, fmt.Errorf("unsupported model type %q", a.ModelType)
	}
}

func (a *Artifact) Validate() error {
	if a.Scaler == nil || len(a.Scaler.Mean) == 0 {
		return errors.New("artifact missing fitted scaler")
	}
	if len(a.Scaler.Mean) != len(a.Scaler.Scale) {
		return errors.New("scaler mean/scale length mismatch")
	}
	model, err := a.Model()
	if err != nil {
		return err
	}
	if len(model.Classes()) == 0 {
		return errors.New("artifact model has no classes")
	}
	if a.ModelType == ModelTypeSoftmax {
		if len(a.Softmax.Weights) == 0 || len(a.Softmax.Weights[0]) != len(a.Scaler.Mean) {
			return errors.New("softmax weights do not match scaler dimensions")
		}
		// Materialize the weight matrix now; the artifact is shared
		// read-only once loaded.
		if _, err := a.Softmax.matrix(); err != nil {
			return err
		}
	}
	if len(a.FeatureNames) > 0 && len(a.FeatureNames) != len(a.Scaler.Mean) {
		return errors.New("feature names do not match scaler dimensions")
	}
	return nil
}

func LoadArtifact(path string) (*Artifact, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var artifact Artifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", path, err)
	}
	if err := artifact.Validate(); err != nil {
		return nil, fmt.Errorf("invalid artifact %s: %w", path, err)
	}
	return &artifact, nil
}

func (a *Artifact) Save(path string) error {
	if err := a.Validate(); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}
