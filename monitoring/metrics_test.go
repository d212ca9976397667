package monitoring

import (
	"math"
	"testing"
	"time"

	"yogai/detect"
)

func TestObserveVerdictClassification(t *testing.T) {
	pm := NewPipelineMetrics()

	pm.ObserveVerdict(detect.Verdict{Success: true, Pose: "plank", Mode: detect.ModeDetector}, time.Millisecond)
	pm.ObserveVerdict(detect.Verdict{Success: true, Pose: "tree", Mode: detect.ModeDemo}, time.Millisecond)
	pm.ObserveVerdict(detect.Verdict{Message: detect.MessageInvalidImage}, time.Millisecond)
	pm.ObserveVerdict(detect.Verdict{Message: detect.MessageNoPose}, time.Millisecond)
	pm.ObserveVerdict(detect.Verdict{Message: detect.MessageInternalError}, time.Millisecond)

	snap := pm.Snapshot()
	if snap.FramesTotal != 5 {
		t.Errorf("expected 5 frames, got %d", snap.FramesTotal)
	}
	if snap.FramesDetected != 1 {
		t.Errorf("expected 1 detected frame, got %d", snap.FramesDetected)
	}
	if snap.FramesDemo != 1 {
		t.Errorf("expected 1 demo frame, got %d", snap.FramesDemo)
	}
	if snap.DecodeErrors != 1 {
		t.Errorf("expected 1 decode error, got %d", snap.DecodeErrors)
	}
	if snap.FramesNoPose != 1 {
		t.Errorf("expected 1 no-pose frame, got %d", snap.FramesNoPose)
	}
	if snap.InternalErrors != 1 {
		t.Errorf("expected 1 internal error, got %d", snap.InternalErrors)
	}
	if snap.PoseCounts["plank"] != 1 || snap.PoseCounts["tree"] != 1 {
		t.Errorf("unexpected pose counts: %v", snap.PoseCounts)
	}
}

func TestSnapshotLatency(t *testing.T) {
	pm := NewPipelineMetrics()

	pm.ObserveVerdict(detect.Verdict{Success: true, Pose: "plank", Mode: detect.ModeDetector}, 10*time.Millisecond)
	pm.ObserveVerdict(detect.Verdict{Success: true, Pose: "plank", Mode: detect.ModeDetector}, 30*time.Millisecond)

	snap := pm.Snapshot()
	if math.Abs(snap.AvgLatencyMS-20.0) > 1e-9 {
		t.Errorf("expected avg latency 20ms, got %f", snap.AvgLatencyMS)
	}
	if math.Abs(snap.MaxLatencyMS-30.0) > 1e-9 {
		t.Errorf("expected max latency 30ms, got %f", snap.MaxLatencyMS)
	}
}

func TestSnapshotEmpty(t *testing.T) {
	snap := NewPipelineMetrics().Snapshot()
	if snap.FramesTotal != 0 || snap.AvgLatencyMS != 0 {
		t.Errorf("expected zeroed snapshot, got %+v", snap)
	}
}

func TestSystemStats(t *testing.T) {
	stats := NewPipelineMetrics().SystemStats()
	if _, ok := stats["goroutines"]; !ok {
		t.Error("expected goroutine count in system stats")
	}
	if _, ok := stats["memory"]; !ok {
		t.Error("expected memory stats in system stats")
	}
}
