package detect

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"yogai/pose"
)

// Frames without a session identifier share one pipeline, the way a
// single-user deployment behaves.
const anonymousSession = "_anonymous"

// ManagerConfig bounds the per-session pipeline cache.
type ManagerConfig struct {
	MaxSessions int
	SessionTTL  time.Duration
	DemoPoses   []string
}

// Manager owns one Pipeline per active session, created lazily and
// evicted after idling past the TTL. Distinct sessions process frames
// fully in parallel; frames within a session serialize on their
// pipeline's lock.
type Manager struct {
	registry  *Registry
	estimator pose.Estimator
	cfg       ManagerConfig
	logger    *zap.Logger

	mu       sync.Mutex
	sessions *expirable.LRU[string, *Pipeline]
}

func NewManager(registry *Registry, estimator pose.Estimator, cfg ManagerConfig, logger *zap.Logger) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 256
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		registry:  registry,
		estimator: estimator,
		cfg:       cfg,
		logger:    logger,
	}
	m.sessions = expirable.NewLRU[string, *Pipeline](cfg.MaxSessions, m.onEvict, cfg.SessionTTL)
	return m
}

func (m *Manager) onEvict(sessionID string, _ *Pipeline) {
	m.logger.Debug("session pipeline evicted", zap.String("session_id", sessionID))
}

// Process routes the frame to its session's pipeline.
func (m *Manager) Process(ctx context.Context, req FrameRequest) (Verdict, error) {
	return m.pipeline(req.SessionID).Process(ctx, req)
}

func (m *Manager) pipeline(sessionID string) *Pipeline {
	if sessionID == "" {
		sessionID = anonymousSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.sessions.Get(sessionID); ok {
		return p
	}
	p := NewPipeline(m.registry, m.estimator,
		PipelineConfig{DemoPoses: m.cfg.DemoPoses},
		m.logger.With(zap.String("session_id", sessionID)))
	m.sessions.Add(sessionID, p)
	return p
}

// EndSession discards the session's pipeline and returns the stage
// transition events it accumulated.
func (m *Manager) EndSession(sessionID string) []StageEvent {
	if sessionID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.sessions.Peek(sessionID)
	if !ok {
		return nil
	}
	events := p.Events()
	m.sessions.Remove(sessionID)
	return events
}

// ActiveSessions reports how many session pipelines are live.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions.Len()
}
