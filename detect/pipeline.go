package detect

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"yogai/pose"
)

// FrameRequest is one encoded frame plus the optional target pose and
// session identifier.
type FrameRequest struct {
	Frame     string `json:"frame"`
	Pose      string `json:"pose,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// PipelineConfig tunes one pipeline instance.
type PipelineConfig struct {
	DemoPoses []string
}

// Pipeline orchestrates the frame-to-verdict path for one session:
// decode, landmark extraction, detector dispatch, verdict assembly.
// It owns the detector bound to the session's target pose so stage
// tracker state survives across frames.
//
// Process serializes: concurrent frames for the same session are
// processed one at a time. Distinct sessions use distinct pipelines
// and run in parallel.
type Pipeline struct {
	mu        sync.Mutex
	registry  *Registry
	estimator pose.Estimator
	demo      *demoSource
	logger    *zap.Logger

	boundPose string
	detector  Detector
}

func NewPipeline(registry *Registry, estimator pose.Estimator, cfg PipelineConfig, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		registry:  registry,
		estimator: estimator,
		demo:      newDemoSource(cfg.DemoPoses, nil),
		logger:    logger,
	}
}

// Process runs one frame through the pipeline. Benign per-frame
// outcomes (no body visible) return a failure verdict and a nil
// error; malformed payloads and internal faults return the verdict
// together with a typed error so transport layers can pick status
// codes. A failed frame never corrupts tracker state.
func (p *Pipeline) Process(ctx context.Context, req FrameRequest) (verdict Verdict, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			p.logger.Error("frame pipeline panic",
				zap.Any("panic", r),
				zap.String("pose", req.Pose),
				zap.String("stack", string(buf[:n])))
			verdict = failureVerdict(MessageInternalError)
			err = fmt.Errorf("frame pipeline panic: %v", r)
		}
	}()

	img, decodeErr := pose.DecodeFrame(req.Frame)
	if decodeErr != nil {
		return failureVerdict(MessageInvalidImage), &DecodeError{Err: decodeErr}
	}

	p.bind(strings.ToLower(strings.TrimSpace(req.Pose)))

	set, found, extractErr := p.estimator.Extract(ctx, img)
	if extractErr != nil {
		p.logger.Warn("landmark extraction failed", zap.Error(extractErr))
		return failureVerdict(MessageNoPose), nil
	}
	if !found {
		p.logger.Debug("frame skipped", zap.Error(ErrNoLandmarks))
		return failureVerdict(MessageNoPose), nil
	}

	if p.detector == nil {
		return p.demo.verdict(req.Pose), nil
	}

	detection, detectErr := p.detector.Detect(set, time.Now())
	if detectErr != nil {
		p.logger.Error("detection failed",
			zap.String("pose", p.boundPose),
			zap.Error(detectErr))
		return failureVerdict(MessageInternalError), fmt.Errorf("detect %s: %w", p.boundPose, detectErr)
	}

	verdict = Verdict{
		Success:       true,
		Pose:          detection.Pose,
		Stage:         detection.Stage,
		IsCorrect:     detection.Stage == StageCorrect,
		Confidence:    detection.Confidence,
		HasError:      detection.HasError,
		Mode:          ModeDetector,
		Probabilities: detection.Probabilities,
	}
	if req.Pose != "" {
		match := verdict.IsCorrect && strings.EqualFold(detection.Pose, req.Pose)
		verdict.MatchesTarget = &match
	}
	return verdict, nil
}

// bind switches the detector when the target pose changes. A switch
// discards prior tracker state: a new target means a new tracking
// context. Unsupported poses leave the pipeline in demo mode.
func (p *Pipeline) bind(target string) {
	if target == p.boundPose {
		return
	}
	p.boundPose = target
	p.detector = nil
	if target == "" {
		return
	}
	if !p.registry.Supports(target) {
		p.logger.Info("no dedicated detector, demo mode",
			zap.String("pose", target))
		return
	}
	detector, err := p.registry.NewDetector(target)
	if err != nil {
		p.logger.Error("detector construction failed",
			zap.String("pose", target),
			zap.Error(err))
		return
	}
	p.detector = detector
}

// BoundPose returns the pose the pipeline currently tracks, "" when
// none.
func (p *Pipeline) BoundPose() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.boundPose
}

// Events returns the stage transition events accumulated for the
// bound detector.
func (p *Pipeline) Events() []StageEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.detector == nil {
		return nil
	}
	return p.detector.Events()
}

// Reset clears the bound detector's tracker state.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.detector != nil {
		p.detector.Reset()
	}
}
