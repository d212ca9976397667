package detect

import (
	"fmt"
	"time"

	"yogai/ml"
	"yogai/pose"
)

// Detection is the per-frame output of a pose detector, before the
// orchestrator folds it into a Verdict.
type Detection struct {
	Pose          string
	Stage         string
	Confidence    float64
	Probabilities map[string]float64
	HasError      bool
}

// Detector classifies landmark sets for one pose and carries the
// stage-tracking state of one practice session. Instances are
// stateful and must not be shared across sessions.
type Detector interface {
	Pose() string
	Detect(set pose.Set, at time.Time) (Detection, error)
	Events() []StageEvent
	Reset()
}

// classifierDetector runs the trained artifact for a configured pose:
// feature build, scaler transform, model prediction, threshold gate,
// stage tracking.
type classifierDetector struct {
	spec      PoseSpec
	scaler    *ml.StandardScaler
	model     ml.Model
	threshold float64
	tracker   *StageTracker
}

func newClassifierDetector(spec PoseSpec, artifact *ml.Artifact) (*classifierDetector, error) {
	model, err := artifact.Model()
	if err != nil {
		return nil, err
	}
	for _, class := range model.Classes() {
		if _, ok := spec.Classes[class]; !ok {
			return nil, fmt.Errorf("model class %q has no stage mapping", class)
		}
	}
	if want := len(spec.Landmarks) * 4; len(artifact.Scaler.Mean) != want {
		return nil, fmt.Errorf("artifact expects %d features, pose config yields %d", len(artifact.Scaler.Mean), want)
	}
	return &classifierDetector{
		spec:      spec,
		scaler:    artifact.Scaler,
		model:     model,
		threshold: spec.threshold(),
		tracker:   NewStageTracker(),
	}, nil
}

func (d *classifierDetector) Pose() string { return d.spec.Name }

func (d *classifierDetector) Detect(set pose.Set, at time.Time) (Detection, error) {
	features, err := pose.BuildFeatures(set, d.spec.Landmarks)
	if err != nil {
		return Detection{}, err
	}
	scaled, err := d.scaler.Transform(features)
	if err != nil {
		return Detection{}, err
	}
	label, probs, err := d.model.Predict(scaled)
	if err != nil {
		return Detection{}, err
	}

	confidence := probs[label]
	stage := StageUnknown
	if confidence >= d.threshold {
		stage = d.spec.Classes[label]
	}

	// The tracker mutates only here, after the full decision.
	d.tracker.Observe(stage, confidence, at)

	return Detection{
		Pose:          d.spec.Name,
		Stage:         stage,
		Confidence:    confidence,
		Probabilities: probs,
		HasError:      d.tracker.HasError(),
	}, nil
}

func (d *classifierDetector) Events() []StageEvent { return d.tracker.Events() }

func (d *classifierDetector) Reset() { d.tracker.Reset() }
