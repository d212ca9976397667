// Package pose turns encoded webcam frames into body landmark sets.
package pose

import "strings"

// Body landmark indices following the MediaPipe pose convention.
// See: https://developers.google.com/mediapipe/solutions/vision/pose_landmarker
const (
	Nose           = 0
	LeftEyeInner   = 1
	LeftEye        = 2
	LeftEyeOuter   = 3
	RightEyeInner  = 4
	RightEye       = 5
	RightEyeOuter  = 6
	LeftEar        = 7
	RightEar       = 8
	MouthLeft      = 9
	MouthRight     = 10
	LeftShoulder   = 11
	RightShoulder  = 12
	LeftElbow      = 13
	RightElbow     = 14
	LeftWrist      = 15
	RightWrist     = 16
	LeftPinky      = 17
	RightPinky     = 18
	LeftIndex      = 19
	RightIndex     = 20
	LeftThumb      = 21
	RightThumb     = 22
	LeftHip        = 23
	RightHip       = 24
	LeftKnee       = 25
	RightKnee      = 26
	LeftAnkle      = 27
	RightAnkle     = 28
	LeftHeel       = 29
	RightHeel      = 30
	LeftFootIndex  = 31
	RightFootIndex = 32
	NumLandmarks   = 33
)

// Landmark is one tracked body point. X and Y are normalized image
// coordinates, Z is depth relative to the hip midpoint, Visibility is
// the estimator's confidence in [0,1] that the point is visible.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// Set is the fixed 33-point landmark set produced for one frame.
type Set [NumLandmarks]Landmark

var landmarkNames = [NumLandmarks]string{
	"nose",
	"left_eye_inner",
	"left_eye",
	"left_eye_outer",
	"right_eye_inner",
	"right_eye",
	"right_eye_outer",
	"left_ear",
	"right_ear",
	"mouth_left",
	"mouth_right",
	"left_shoulder",
	"right_shoulder",
	"left_elbow",
	"right_elbow",
	"left_wrist",
	"right_wrist",
	"left_pinky",
	"right_pinky",
	"left_index",
	"right_index",
	"left_thumb",
	"right_thumb",
	"left_hip",
	"right_hip",
	"left_knee",
	"right_knee",
	"left_ankle",
	"right_ankle",
	"left_heel",
	"right_heel",
	"left_foot_index",
	"right_foot_index",
}

var landmarkIndex = buildLandmarkIndex()

func buildLandmarkIndex() map[string]int {
	index := make(map[string]int, NumLandmarks)
	for i, name := range landmarkNames {
		index[name] = i
	}
	return index
}

// LandmarkName returns the canonical name for a landmark index, or ""
// when the index is out of range.
func LandmarkName(index int) string {
	if index < 0 || index >= NumLandmarks {
		return ""
	}
	return landmarkNames[index]
}

// LandmarkIndex resolves a landmark name to its index. Names are
// case-insensitive so configs may use either "LEFT_SHOULDER" or
// "left_shoulder".
func LandmarkIndex(name string) (int, bool) {
	idx, ok := landmarkIndex[strings.ToLower(name)]
	return idx, ok
}

// LandmarkNames returns the canonical names in index order.
func LandmarkNames() []string {
	names := make([]string, NumLandmarks)
	copy(names, landmarkNames[:])
	return names
}
