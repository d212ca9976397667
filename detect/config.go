package detect

import (
	"errors"
	"fmt"

	"yogai/pose"
)

// DefaultThreshold is the prediction probability gate: a frame whose
// best class probability falls below it is reported as "unknown"
// instead of surfacing low-confidence noise as an error event.
const DefaultThreshold = 0.6

// PoseSpec configures one supported pose: the ordered landmark subset
// its model was trained on, the artifact file holding the fitted
// (model, scaler) pair, and the mapping from raw class labels to
// stage names.
type PoseSpec struct {
	Name      string            `yaml:"name" json:"name"`
	Display   string            `yaml:"display" json:"display"`
	Landmarks []string          `yaml:"landmarks" json:"landmarks"`
	Artifact  string            `yaml:"artifact" json:"artifact"`
	Threshold float64           `yaml:"threshold" json:"threshold"`
	Classes   map[string]string `yaml:"classes" json:"classes"`
}

func (s PoseSpec) Validate() error {
	if s.Name == "" {
		return errors.New("pose name is required")
	}
	if len(s.Landmarks) == 0 {
		return errors.New("landmarks list is empty")
	}
	for _, name := range s.Landmarks {
		if _, ok := pose.LandmarkIndex(name); !ok {
			return fmt.Errorf("unknown landmark %q", name)
		}
	}
	if s.Artifact == "" {
		return errors.New("artifact path is required")
	}
	if s.Threshold < 0 || s.Threshold > 1 {
		return fmt.Errorf("threshold %v out of range", s.Threshold)
	}
	if len(s.Classes) == 0 {
		return errors.New("class to stage mapping is empty")
	}
	for label, stage := range s.Classes {
		if stage == "" {
			return fmt.Errorf("class %q maps to an empty stage", label)
		}
	}
	return nil
}

func (s PoseSpec) threshold() float64 {
	if s.Threshold == 0 {
		return DefaultThreshold
	}
	return s.Threshold
}

// DefaultPlankSpec is the built-in plank configuration matching the
// shipped plank artifact: 17 upper and lower body landmarks, classes
// C (correct), L (sagging low back), H (raised high back).
func DefaultPlankSpec() PoseSpec {
	return PoseSpec{
		Name:    "plank",
		Display: "Plank",
		Landmarks: []string{
			"nose",
			"left_shoulder", "right_shoulder",
			"left_elbow", "right_elbow",
			"left_wrist", "right_wrist",
			"left_hip", "right_hip",
			"left_knee", "right_knee",
			"left_ankle", "right_ankle",
			"left_heel", "right_heel",
			"left_foot_index", "right_foot_index",
		},
		Artifact:  "plank.json",
		Threshold: DefaultThreshold,
		Classes: map[string]string{
			"C": StageCorrect,
			"L": "low back",
			"H": "high back",
		},
	}
}
