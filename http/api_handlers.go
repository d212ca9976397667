// Package http 提供API处理器
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"yogai/db"
	"yogai/detect"
	"yogai/feedback"
	"yogai/monitoring"
	"yogai/pose"
)

// PracticeManager 将帧请求路由到各会话的检测管线
type PracticeManager interface {
	Process(ctx context.Context, req detect.FrameRequest) (detect.Verdict, error)
	EndSession(sessionID string) []detect.StageEvent
	ActiveSessions() int
}

// SessionStore 会话持久化
type SessionStore interface {
	StartSession(userID, pose string) (db.Session, error)
	EndSession(id string) (db.Session, error)
	SessionHistory(userID string, limit int) ([]db.Session, error)
	UserStats(userID string) (db.PracticeStats, error)
	Ping() error
}

// PoseCatalog 已配置与可用的体式列表
type PoseCatalog interface {
	Known() []string
	Poses() []string
}

// API 聚合检测接口的依赖
type API struct {
	manager   PracticeManager
	store     SessionStore
	catalog   PoseCatalog
	estimator pose.Estimator
	recorder  *db.DetectionRecorder
	metrics   *monitoring.PipelineMetrics
	monitor   *monitoring.LiveMonitor
	localizer *feedback.Localizer
	logger    *zap.Logger
}

// APIConfig API依赖配置
type APIConfig struct {
	Manager   PracticeManager
	Store     SessionStore
	Catalog   PoseCatalog
	Estimator pose.Estimator
	Recorder  *db.DetectionRecorder
	Metrics   *monitoring.PipelineMetrics
	Monitor   *monitoring.LiveMonitor
	Localizer *feedback.Localizer
	Logger    *zap.Logger
}

// NewAPI 创建API处理器集合
func NewAPI(cfg APIConfig) *API {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &API{
		manager:   cfg.Manager,
		store:     cfg.Store,
		catalog:   cfg.Catalog,
		estimator: cfg.Estimator,
		recorder:  cfg.Recorder,
		metrics:   cfg.Metrics,
		monitor:   cfg.Monitor,
		localizer: cfg.Localizer,
		logger:    cfg.Logger,
	}
}

// RegisterAPIHandlers 注册所有API处理器
func RegisterAPIHandlers(mux *http.ServeMux, api *API) {
	// 检测API
	mux.HandleFunc("POST /api/yoga/detect", api.handleDetect)
	mux.HandleFunc("GET /api/yoga/poses", api.handlePoses)

	// 会话API
	mux.HandleFunc("POST /api/yoga/session/start", api.handleSessionStart)
	mux.HandleFunc("POST /api/yoga/session/end", api.handleSessionEnd)
	mux.HandleFunc("GET /api/yoga/sessions", api.handleSessions)
	mux.HandleFunc("GET /api/yoga/stats", api.handleStats)

	// 运维API
	mux.HandleFunc("GET /api/health", api.handleHealth)
	mux.HandleFunc("GET /api/metrics", api.handleMetrics)
}

// ============ 检测处理器 ============

type detectRequest struct {
	Frame     string `json:"frame"`
	Pose      string `json:"pose"`
	SessionID string `json:"session_id"`
}

type detectResponse struct {
	detect.Verdict
	Feedback string `json:"feedback,omitempty"`
}

func (api *API) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Frame == "" {
		api.respondError(w, http.StatusBadRequest, "frame is required")
		return
	}

	start := time.Now()
	verdict, err := api.manager.Process(r.Context(), detect.FrameRequest{
		Frame:     req.Frame,
		Pose:      req.Pose,
		SessionID: req.SessionID,
	})
	if api.metrics != nil {
		api.metrics.ObserveVerdict(verdict, time.Since(start))
	}

	status := http.StatusOK
	if err != nil {
		if detect.IsDecodeError(err) {
			status = http.StatusBadRequest
		} else {
			status = http.StatusInternalServerError
			api.logger.Error("detection failed",
				zap.String("request_id", GetRequestID(r.Context())),
				zap.String("pose", req.Pose),
				zap.Error(err))
		}
	}

	// Only real classified frames end up in the session record.
	if api.recorder != nil && req.SessionID != "" && verdict.Success && verdict.Mode == detect.ModeDetector {
		api.recorder.Record(db.DetectionRecord{
			SessionID:  req.SessionID,
			Pose:       verdict.Pose,
			Stage:      verdict.Stage,
			Confidence: verdict.Confidence,
			IsCorrect:  verdict.IsCorrect,
			HasError:   verdict.HasError,
			DetectedAt: time.Now().UTC(),
		})
	}

	resp := detectResponse{Verdict: verdict}
	if api.localizer != nil {
		resp.Feedback = api.localizer.Coach(r.Header.Get("Accept-Language"), verdict)
	}
	api.respondJSON(w, status, resp)
}

func (api *API) handlePoses(w http.ResponseWriter, r *http.Request) {
	api.respondJSON(w, http.StatusOK, map[string]interface{}{
		"poses":      api.catalog.Known(),
		"supported":  api.catalog.Poses(),
		"demo_poses": detect.DefaultDemoPoses(),
	})
}

// ============ 会话处理器 ============

type sessionStartRequest struct {
	UserID string `json:"user_id"`
	Pose   string `json:"pose"`
}

func (api *API) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req sessionStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	poseName := strings.ToLower(strings.TrimSpace(req.Pose))
	if poseName == "" {
		api.respondError(w, http.StatusBadRequest, "pose is required")
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = "anonymous"
	}

	session, err := api.store.StartSession(userID, poseName)
	if err != nil {
		api.logger.Error("failed to start session", zap.String("pose", poseName), zap.Error(err))
		api.respondError(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	api.respondJSON(w, http.StatusOK, session)
}

type sessionEndRequest struct {
	SessionID string `json:"session_id"`
}

type sessionEndResponse struct {
	Session     db.Session          `json:"session"`
	StageEvents []detect.StageEvent `json:"stage_events"`
}

func (api *API) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	var req sessionEndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		api.respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	// Drain buffered detections so the final counters are current.
	if api.recorder != nil {
		if err := api.recorder.Flush(); err != nil {
			api.logger.Warn("flush before session end failed", zap.Error(err))
		}
	}

	events := api.manager.EndSession(req.SessionID)

	session, err := api.store.EndSession(req.SessionID)
	if err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			api.respondError(w, http.StatusNotFound, "session not found")
			return
		}
		api.logger.Error("failed to end session", zap.String("session_id", req.SessionID), zap.Error(err))
		api.respondError(w, http.StatusInternalServerError, "failed to end session")
		return
	}

	if events == nil {
		events = []detect.StageEvent{}
	}
	api.respondJSON(w, http.StatusOK, sessionEndResponse{
		Session:     session,
		StageEvents: events,
	})
}

func (api *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "anonymous"
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	sessions, err := api.store.SessionHistory(userID, limit)
	if err != nil {
		api.logger.Error("failed to load session history", zap.String("user_id", userID), zap.Error(err))
		api.respondError(w, http.StatusInternalServerError, "failed to load sessions")
		return
	}

	api.respondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":  userID,
		"sessions": sessions,
	})
}

func (api *API) handleStats(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "anonymous"
	}

	stats, err := api.store.UserStats(userID)
	if err != nil {
		api.logger.Error("failed to load user stats", zap.String("user_id", userID), zap.Error(err))
		api.respondError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	api.respondJSON(w, http.StatusOK, stats)
}

// ============ 运维处理器 ============

func (api *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	if api.catalog != nil {
		health["supported_poses"] = len(api.catalog.Poses())
	}
	if api.manager != nil {
		health["active_sessions"] = api.manager.ActiveSessions()
	}
	if api.store != nil {
		health["database"] = api.store.Ping() == nil
	}
	if api.estimator != nil {
		// 估计器不可用时服务仍可运行，仅提供演示模式
		health["estimator"] = api.estimator.Healthy()
	}
	api.respondJSON(w, http.StatusOK, health)
}

func (api *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{}
	if api.metrics != nil {
		payload["pipeline"] = api.metrics.Snapshot()
		payload["system"] = api.metrics.SystemStats()
	}
	if api.monitor != nil {
		payload["live"] = api.monitor.GetStats()
	}
	if api.recorder != nil {
		payload["recorder"] = api.recorder.Stats()
	}
	api.respondJSON(w, http.StatusOK, payload)
}

// ============ 响应工具 ============

func (api *API) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		api.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (api *API) respondError(w http.ResponseWriter, status int, message string) {
	api.respondJSON(w, status, map[string]string{"error": message})
}
