package detect

// Stages shared by every pose. Pose-specific error stages ("low back",
// "high back", ...) come from the pose configuration; any stage that
// is neither correct nor unknown counts as an error stage.
const (
	StageCorrect = "correct"
	StageUnknown = "unknown"
)

// Verdict modes. Callers distinguish model-backed verdicts from the
// degraded demo fallback through this field.
const (
	ModeDetector = "specific_detector"
	ModeDemo     = "demo"
)

// Messages for the failure verdict shapes.
const (
	MessageInvalidImage  = "Invalid image data"
	MessageNoPose        = "No pose detected in frame"
	MessageInternalError = "Internal detection error"
)

// IsErrorStage reports whether a classified stage counts as a posture
// error.
func IsErrorStage(stage string) bool {
	return stage != StageCorrect && stage != StageUnknown && stage != ""
}

// Verdict is the structured per-frame result returned to callers.
type Verdict struct {
	Success       bool               `json:"success"`
	Pose          string             `json:"pose,omitempty"`
	Stage         string             `json:"stage,omitempty"`
	IsCorrect     bool               `json:"is_correct"`
	Confidence    float64            `json:"confidence"`
	HasError      bool               `json:"has_error"`
	MatchesTarget *bool              `json:"matches_target,omitempty"`
	Mode          string             `json:"mode,omitempty"`
	Message       string             `json:"message,omitempty"`
	Probabilities map[string]float64 `json:"all_predictions,omitempty"`
}

func failureVerdict(message string) Verdict {
	return Verdict{Success: false, Message: message}
}
