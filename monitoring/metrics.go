package monitoring

import (
	"runtime"
	"sync"
	"time"

	"yogai/detect"
)

// PipelineMetrics 帧处理管线的运行指标
type PipelineMetrics struct {
	metricsLock sync.RWMutex

	framesTotal    int64
	framesDetected int64
	framesNoPose   int64
	framesDemo     int64
	decodeErrors   int64
	internalErrors int64

	latencySum time.Duration
	latencyMax time.Duration

	poseCounts map[string]int64
	startTime  time.Time
}

// MetricsSnapshot 指标快照
type MetricsSnapshot struct {
	FramesTotal    int64            `json:"frames_total"`
	FramesDetected int64            `json:"frames_detected"`
	FramesNoPose   int64            `json:"frames_no_pose"`
	FramesDemo     int64            `json:"frames_demo"`
	DecodeErrors   int64            `json:"decode_errors"`
	InternalErrors int64            `json:"internal_errors"`
	AvgLatencyMS   float64          `json:"avg_latency_ms"`
	MaxLatencyMS   float64          `json:"max_latency_ms"`
	PoseCounts     map[string]int64 `json:"pose_counts"`
	UptimeSeconds  float64          `json:"uptime_seconds"`
}

// NewPipelineMetrics 创建管线指标
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		poseCounts: make(map[string]int64),
		startTime:  time.Now(),
	}
}

// ObserveVerdict 记录一帧的处理结果
func (pm *PipelineMetrics) ObserveVerdict(v detect.Verdict, latency time.Duration) {
	pm.metricsLock.Lock()
	defer pm.metricsLock.Unlock()

	pm.framesTotal++
	pm.latencySum += latency
	if latency > pm.latencyMax {
		pm.latencyMax = latency
	}

	switch {
	case v.Success && v.Mode == detect.ModeDemo:
		pm.framesDemo++
		pm.poseCounts[v.Pose]++
	case v.Success:
		pm.framesDetected++
		pm.poseCounts[v.Pose]++
	case v.Message == detect.MessageInvalidImage:
		pm.decodeErrors++
	case v.Message == detect.MessageNoPose:
		pm.framesNoPose++
	default:
		pm.internalErrors++
	}
}

// Snapshot 获取当前指标快照
func (pm *PipelineMetrics) Snapshot() MetricsSnapshot {
	pm.metricsLock.RLock()
	defer pm.metricsLock.RUnlock()

	snap := MetricsSnapshot{
		FramesTotal:    pm.framesTotal,
		FramesDetected: pm.framesDetected,
		FramesNoPose:   pm.framesNoPose,
		FramesDemo:     pm.framesDemo,
		DecodeErrors:   pm.decodeErrors,
		InternalErrors: pm.internalErrors,
		MaxLatencyMS:   float64(pm.latencyMax) / float64(time.Millisecond),
		PoseCounts:     make(map[string]int64, len(pm.poseCounts)),
		UptimeSeconds:  time.Since(pm.startTime).Seconds(),
	}
	if pm.framesTotal > 0 {
		snap.AvgLatencyMS = float64(pm.latencySum) / float64(pm.framesTotal) / float64(time.Millisecond)
	}
	for pose, count := range pm.poseCounts {
		snap.PoseCounts[pose] = count
	}
	return snap
}

// SystemStats 获取进程级系统统计
func (pm *PipelineMetrics) SystemStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"uptime":     time.Since(pm.startTime).String(),
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"alloc":        m.Alloc,
			"total_alloc":  m.TotalAlloc,
			"sys":          m.Sys,
			"heap_alloc":   m.HeapAlloc,
			"heap_objects": m.HeapObjects,
			"gc_count":     m.NumGC,
			"gc_pause_ns":  m.PauseTotalNs,
		},
		"num_cpu": runtime.NumCPU(),
	}
}
