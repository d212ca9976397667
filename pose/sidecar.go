package pose

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// SidecarConfig configures the landmark estimator subprocess.
type SidecarConfig struct {
	PythonBin              string
	Script                 string
	ModelComplexity        int
	MinDetectionConfidence float64
	JPEGQuality            int
}

func (c *SidecarConfig) applyDefaults() {
	if c.PythonBin == "" {
		c.PythonBin = "python3"
	}
	if c.Script == "" {
		c.Script = "scripts/pose_landmarker.py"
	}
	if c.MinDetectionConfidence <= 0 {
		c.MinDetectionConfidence = 0.5
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = 85
	}
}

type sidecarRequest struct {
	ID    uint64 `json:"id"`
	Image string `json:"image"`
}

type sidecarResponse struct {
	ID        uint64     `json:"id"`
	OK        bool       `json:"ok"`
	Landmarks []Landmark `json:"landmarks,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Sidecar runs the MediaPipe pose estimator as a child process and
// talks to it over stdin/stdout with one JSON object per line. Frames
// are re-encoded as JPEG for transport. Requests are serialized; one
// Sidecar supports one in-flight extraction at a time, which matches
// the one-frame-at-a-time discipline of the detection pipeline.
type Sidecar struct {
	cfg    SidecarConfig
	logger *zap.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc

	mu     sync.Mutex
	nextID uint64
	resp   chan sidecarResponse
	exited chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewSidecar launches the estimator process. The returned Sidecar is
// ready for Extract calls; the first call blocks until the model
// inside the child has warmed up.
func NewSidecar(cfg SidecarConfig, logger *zap.Logger) (*Sidecar, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, cfg.PythonBin, cfg.Script,
		"--model-complexity", fmt.Sprintf("%d", cfg.ModelComplexity),
		"--min-detection-confidence", fmt.Sprintf("%.2f", cfg.MinDetectionConfidence),
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start estimator process: %w", err)
	}

	s := &Sidecar{
		cfg:    cfg,
		logger: logger,
		cmd:    cmd,
		stdin:  stdin,
		cancel: cancel,
		resp:   make(chan sidecarResponse, 1),
		exited: make(chan struct{}),
	}

	logger.Info("estimator process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("script", cfg.Script),
		zap.Int("model_complexity", cfg.ModelComplexity))

	s.wg.Add(3)
	go s.readResponses(stdout)
	go s.logStderr(stderr)
	go s.waitProcess()

	return s, nil
}

// Extract implements Estimator.
func (s *Sidecar) Extract(ctx context.Context, img image.Image) (Set, bool, error) {
	if s.closed.Load() {
		return Set{}, false, errors.New("estimator closed")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.cfg.JPEGQuality}); err != nil {
		return Set{}, false, fmt.Errorf("encode frame: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	req := sidecarRequest{
		ID:    s.nextID,
		Image: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}
	line, err := json.Marshal(req)
	if err != nil {
		return Set{}, false, err
	}
	if _, err := s.stdin.Write(append(line, '\n')); err != nil {
		return Set{}, false, fmt.Errorf("write to estimator: %w", err)
	}

	for {
		select {
		case resp := <-s.resp:
			if resp.ID != req.ID {
				// Stale response from an abandoned request.
				continue
			}
			if resp.Error != "" {
				return Set{}, false, fmt.Errorf("estimator: %s", resp.Error)
			}
			if !resp.OK {
				return Set{}, false, nil
			}
			if len(resp.Landmarks) != NumLandmarks {
				return Set{}, false, fmt.Errorf("estimator returned %d landmarks, want %d", len(resp.Landmarks), NumLandmarks)
			}
			var set Set
			copy(set[:], resp.Landmarks)
			return set, true, nil
		case <-ctx.Done():
			return Set{}, false, ctx.Err()
		case <-s.exited:
			return Set{}, false, errors.New("estimator process exited")
		}
	}
}

func (s *Sidecar) readResponses(stdout io.Reader) {
	defer s.wg.Done()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var resp sidecarResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			s.logger.Error("bad estimator response", zap.Error(err))
			continue
		}
		select {
		case s.resp <- resp:
		default:
			// No waiter: the request was abandoned on context cancel.
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Error("estimator stdout read failed", zap.Error(err))
	}
}

func (s *Sidecar) logStderr(stderr io.Reader) {
	defer s.wg.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case bytes.Contains([]byte(line), []byte("ERROR")):
			s.logger.Error("estimator", zap.String("log", line))
		case bytes.Contains([]byte(line), []byte("WARNING")):
			s.logger.Warn("estimator", zap.String("log", line))
		default:
			s.logger.Debug("estimator", zap.String("log", line))
		}
	}
}

// waitProcess reaps the child so it cannot linger as a zombie.
func (s *Sidecar) waitProcess() {
	defer s.wg.Done()

	err := s.cmd.Wait()
	close(s.exited)
	if err != nil && !s.closed.Load() {
		s.logger.Error("estimator process exited unexpectedly", zap.Error(err))
		return
	}
	s.logger.Info("estimator process exited")
}

// Healthy implements Estimator. A crashed child process reports
// unhealthy until the service restarts.
func (s *Sidecar) Healthy() bool {
	if s.closed.Load() {
		return false
	}
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// Close shuts the estimator down, killing the child if it does not
// exit within two seconds of stdin closing.
func (s *Sidecar) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.stdin.Close()
	select {
	case <-s.exited:
	case <-time.After(2 * time.Second):
		s.logger.Warn("estimator did not exit, killing")
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
	}
	s.cancel()
	s.wg.Wait()
	return nil
}
