package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"yogai/db"
	"yogai/detect"
	"yogai/feedback"
	"yogai/monitoring"
)

type fakeManager struct {
	verdict detect.Verdict
	err     error
	events  []detect.StageEvent
	ended   []string
	active  int
	lastReq detect.FrameRequest
}

func (f *fakeManager) Process(ctx context.Context, req detect.FrameRequest) (detect.Verdict, error) {
	f.lastReq = req
	return f.verdict, f.err
}

func (f *fakeManager) EndSession(sessionID string) []detect.StageEvent {
	f.ended = append(f.ended, sessionID)
	return f.events
}

func (f *fakeManager) ActiveSessions() int {
	return f.active
}

type fakeStore struct {
	endSession db.Session
	startErr   error
	endErr     error
	pingErr    error
	history    []db.Session
	histLimit  int
	stats      db.PracticeStats
}

func (f *fakeStore) StartSession(userID, pose string) (db.Session, error) {
	if f.startErr != nil {
		return db.Session{}, f.startErr
	}
	return db.Session{ID: "sess-new", UserID: userID, Pose: pose, StartedAt: time.Now()}, nil
}

func (f *fakeStore) EndSession(id string) (db.Session, error) {
	if f.endErr != nil {
		return db.Session{}, f.endErr
	}
	s := f.endSession
	s.ID = id
	ended := time.Now()
	s.EndedAt = &ended
	return s, nil
}

func (f *fakeStore) SessionHistory(userID string, limit int) ([]db.Session, error) {
	f.histLimit = limit
	return f.history, nil
}

func (f *fakeStore) UserStats(userID string) (db.PracticeStats, error) {
	st := f.stats
	st.UserID = userID
	return st, nil
}

func (f *fakeStore) Ping() error { return f.pingErr }

type fakeCatalog struct {
	known     []string
	supported []string
}

func (f fakeCatalog) Known() []string { return f.known }
func (f fakeCatalog) Poses() []string { return f.supported }

type nullStore struct{}

func (nullStore) SaveDetections(records []db.DetectionRecord) error { return nil }

func detectorVerdict() detect.Verdict {
	return detect.Verdict{
		Success:       true,
		Pose:          "plank",
		Stage:         "correct",
		IsCorrect:     true,
		Confidence:    0.91,
		Mode:          detect.ModeDetector,
		Probabilities: map[string]float64{"correct": 0.91, "low back": 0.06, "high back": 0.03},
	}
}

func newTestAPI(manager PracticeManager, store SessionStore) (*API, *db.DetectionRecorder, *monitoring.PipelineMetrics) {
	metrics := monitoring.NewPipelineMetrics()
	recorder := db.NewDetectionRecorder(db.RecorderConfig{BatchSize: 64}, nullStore{}, nil)
	api := NewAPI(APIConfig{
		Manager:   manager,
		Store:     store,
		Catalog:   fakeCatalog{known: []string{"plank", "tree"}, supported: []string{"plank"}},
		Recorder:  recorder,
		Metrics:   metrics,
		Localizer: feedback.NewLocalizer(),
		Logger:    zap.NewNop(),
	})
	return api, recorder, metrics
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
}

func TestDetectHandler(t *testing.T) {
	manager := &fakeManager{verdict: detectorVerdict()}
	api, recorder, metrics := newTestAPI(manager, &fakeStore{})

	req := postJSON("/api/yoga/detect", `{"frame":"abc","pose":"plank","session_id":"sess-1"}`)
	req.Header.Set("Accept-Language", "en-US")
	rr := httptest.NewRecorder()
	api.handleDetect(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp detectResponse
	decodeBody(t, rr, &resp)
	if !resp.Success || resp.Pose != "plank" || resp.Stage != "correct" {
		t.Errorf("unexpected verdict: %+v", resp.Verdict)
	}
	if resp.Feedback != "Great form, keep holding." {
		t.Errorf("unexpected feedback: %q", resp.Feedback)
	}

	if manager.lastReq.Frame != "abc" || manager.lastReq.Pose != "plank" || manager.lastReq.SessionID != "sess-1" {
		t.Errorf("unexpected frame request: %+v", manager.lastReq)
	}
	if got := recorder.Stats().Recorded; got != 1 {
		t.Errorf("expected 1 recorded detection, got %d", got)
	}
	if snap := metrics.Snapshot(); snap.FramesDetected != 1 {
		t.Errorf("expected 1 detected frame in metrics, got %+v", snap)
	}
}

func TestDetectHandlerChineseFeedback(t *testing.T) {
	api, _, _ := newTestAPI(&fakeManager{verdict: detectorVerdict()}, &fakeStore{})

	req := postJSON("/api/yoga/detect", `{"frame":"abc","pose":"plank"}`)
	req.Header.Set("Accept-Language", "zh-CN")
	rr := httptest.NewRecorder()
	api.handleDetect(rr, req)

	var resp detectResponse
	decodeBody(t, rr, &resp)
	if resp.Feedback != "动作标准,继续保持。" {
		t.Errorf("expected Chinese feedback, got %q", resp.Feedback)
	}
}

func TestDetectHandlerDecodeError(t *testing.T) {
	manager := &fakeManager{
		verdict: detect.Verdict{Success: false, Message: detect.MessageInvalidImage},
		err:     &detect.DecodeError{Err: errors.New("bad base64")},
	}
	api, recorder, _ := newTestAPI(manager, &fakeStore{})

	rr := httptest.NewRecorder()
	api.handleDetect(rr, postJSON("/api/yoga/detect", `{"frame":"!!!","session_id":"sess-1"}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for decode error, got %d", rr.Code)
	}
	var resp detectResponse
	decodeBody(t, rr, &resp)
	if resp.Success || resp.Message != detect.MessageInvalidImage {
		t.Errorf("unexpected body: %+v", resp.Verdict)
	}
	if got := recorder.Stats().Recorded; got != 0 {
		t.Errorf("failed frames must not be recorded, got %d", got)
	}
}

func TestDetectHandlerInternalError(t *testing.T) {
	manager := &fakeManager{
		verdict: detect.Verdict{Success: false, Message: detect.MessageInternalError},
		err:     errors.New("boom"),
	}
	api, _, _ := newTestAPI(manager, &fakeStore{})

	rr := httptest.NewRecorder()
	api.handleDetect(rr, postJSON("/api/yoga/detect", `{"frame":"abc"}`))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestDetectHandlerNoPoseIsOK(t *testing.T) {
	manager := &fakeManager{verdict: detect.Verdict{Success: false, Message: detect.MessageNoPose}}
	api, _, _ := newTestAPI(manager, &fakeStore{})

	rr := httptest.NewRecorder()
	api.handleDetect(rr, postJSON("/api/yoga/detect", `{"frame":"abc","pose":"plank"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("a frame without a body is not a request error, got %d", rr.Code)
	}
	var resp detectResponse
	decodeBody(t, rr, &resp)
	if resp.Success || resp.Message != detect.MessageNoPose {
		t.Errorf("unexpected body: %+v", resp.Verdict)
	}
}

func TestDetectHandlerValidation(t *testing.T) {
	api, _, _ := newTestAPI(&fakeManager{}, &fakeStore{})

	rr := httptest.NewRecorder()
	api.handleDetect(rr, postJSON("/api/yoga/detect", `{"pose":"plank"}`))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing frame should 400, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	api.handleDetect(rr, postJSON("/api/yoga/detect", `{not json`))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad json should 400, got %d", rr.Code)
	}
}

func TestDetectHandlerDemoNotRecorded(t *testing.T) {
	demo := detectorVerdict()
	demo.Mode = detect.ModeDemo
	api, recorder, _ := newTestAPI(&fakeManager{verdict: demo}, &fakeStore{})

	rr := httptest.NewRecorder()
	api.handleDetect(rr, postJSON("/api/yoga/detect", `{"frame":"abc","pose":"tree","session_id":"sess-1"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := recorder.Stats().Recorded; got != 0 {
		t.Errorf("demo verdicts must not be recorded, got %d", got)
	}
}

func TestSessionStartHandler(t *testing.T) {
	api, _, _ := newTestAPI(&fakeManager{}, &fakeStore{})

	rr := httptest.NewRecorder()
	api.handleSessionStart(rr, postJSON("/api/yoga/session/start", `{"user_id":"maya","pose":" Plank "}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var session db.Session
	decodeBody(t, rr, &session)
	if session.Pose != "plank" {
		t.Errorf("pose should be normalized, got %q", session.Pose)
	}
	if session.UserID != "maya" {
		t.Errorf("unexpected user: %q", session.UserID)
	}
}

func TestSessionStartDefaultsUser(t *testing.T) {
	api, _, _ := newTestAPI(&fakeManager{}, &fakeStore{})

	rr := httptest.NewRecorder()
	api.handleSessionStart(rr, postJSON("/api/yoga/session/start", `{"pose":"tree"}`))

	var session db.Session
	decodeBody(t, rr, &session)
	if session.UserID != "anonymous" {
		t.Errorf("expected anonymous user, got %q", session.UserID)
	}
}

func TestSessionStartValidation(t *testing.T) {
	api, _, _ := newTestAPI(&fakeManager{}, &fakeStore{})

	rr := httptest.NewRecorder()
	api.handleSessionStart(rr, postJSON("/api/yoga/session/start", `{"user_id":"maya"}`))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing pose should 400, got %d", rr.Code)
	}
}

func TestSessionEndHandler(t *testing.T) {
	manager := &fakeManager{
		events: []detect.StageEvent{{Stage: "low back", Timestamp: time.Now(), Probability: 0.84}},
	}
	store := &fakeStore{endSession: db.Session{UserID: "maya", Pose: "plank", TotalFrames: 10, CorrectFrames: 8, Accuracy: 80}}
	api, _, _ := newTestAPI(manager, store)

	rr := httptest.NewRecorder()
	api.handleSessionEnd(rr, postJSON("/api/yoga/session/end", `{"session_id":"sess-9"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp sessionEndResponse
	decodeBody(t, rr, &resp)
	if resp.Session.ID != "sess-9" || resp.Session.EndedAt == nil {
		t.Errorf("unexpected session summary: %+v", resp.Session)
	}
	if len(resp.StageEvents) != 1 || resp.StageEvents[0].Stage != "low back" {
		t.Errorf("unexpected stage events: %+v", resp.StageEvents)
	}
	if len(manager.ended) != 1 || manager.ended[0] != "sess-9" {
		t.Errorf("manager pipeline was not ended: %v", manager.ended)
	}
}

func TestSessionEndNotFound(t *testing.T) {
	api, _, _ := newTestAPI(&fakeManager{}, &fakeStore{endErr: db.ErrSessionNotFound})

	rr := httptest.NewRecorder()
	api.handleSessionEnd(rr, postJSON("/api/yoga/session/end", `{"session_id":"nope"}`))

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestSessionEndValidation(t *testing.T) {
	api, _, _ := newTestAPI(&fakeManager{}, &fakeStore{})

	rr := httptest.NewRecorder()
	api.handleSessionEnd(rr, postJSON("/api/yoga/session/end", `{}`))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing session_id should 400, got %d", rr.Code)
	}
}

func TestPosesHandler(t *testing.T) {
	api, _, _ := newTestAPI(&fakeManager{}, &fakeStore{})

	rr := httptest.NewRecorder()
	api.handlePoses(rr, httptest.NewRequest("GET", "/api/yoga/poses", nil))

	var resp struct {
		Poses     []string `json:"poses"`
		Supported []string `json:"supported"`
		DemoPoses []string `json:"demo_poses"`
	}
	decodeBody(t, rr, &resp)
	if len(resp.Poses) != 2 || len(resp.Supported) != 1 {
		t.Errorf("unexpected catalog: %+v", resp)
	}
	if len(resp.DemoPoses) != 5 {
		t.Errorf("expected 5 demo poses, got %v", resp.DemoPoses)
	}
}

func TestSessionsHandler(t *testing.T) {
	store := &fakeStore{history: []db.Session{{ID: "a"}, {ID: "b"}}}
	api, _, _ := newTestAPI(&fakeManager{}, store)

	rr := httptest.NewRecorder()
	api.handleSessions(rr, httptest.NewRequest("GET", "/api/yoga/sessions?user_id=maya&limit=5", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if store.histLimit != 5 {
		t.Errorf("expected limit 5 passed through, got %d", store.histLimit)
	}
	var resp struct {
		UserID   string       `json:"user_id"`
		Sessions []db.Session `json:"sessions"`
	}
	decodeBody(t, rr, &resp)
	if resp.UserID != "maya" || len(resp.Sessions) != 2 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestStatsHandler(t *testing.T) {
	store := &fakeStore{stats: db.PracticeStats{TotalSessions: 7, LongestStreakDays: 3}}
	api, _, _ := newTestAPI(&fakeManager{}, store)

	rr := httptest.NewRecorder()
	api.handleStats(rr, httptest.NewRequest("GET", "/api/yoga/stats?user_id=maya", nil))

	var stats db.PracticeStats
	decodeBody(t, rr, &stats)
	if stats.UserID != "maya" || stats.TotalSessions != 7 || stats.LongestStreakDays != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestHealthHandler(t *testing.T) {
	api, _, _ := newTestAPI(&fakeManager{active: 2}, &fakeStore{})

	rr := httptest.NewRecorder()
	api.handleHealth(rr, httptest.NewRequest("GET", "/api/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var health map[string]interface{}
	decodeBody(t, rr, &health)
	if health["status"] != "ok" {
		t.Errorf("unexpected health: %v", health)
	}
	if health["active_sessions"] != float64(2) {
		t.Errorf("expected 2 active sessions, got %v", health["active_sessions"])
	}
	if health["database"] != true {
		t.Errorf("expected database ready, got %v", health["database"])
	}
}

func TestHealthHandlerDatabaseDown(t *testing.T) {
	api, _, _ := newTestAPI(&fakeManager{}, &fakeStore{pingErr: errors.New("closed")})

	rr := httptest.NewRecorder()
	api.handleHealth(rr, httptest.NewRequest("GET", "/api/health", nil))

	var health map[string]interface{}
	decodeBody(t, rr, &health)
	if health["database"] != false {
		t.Errorf("expected database not ready, got %v", health["database"])
	}
}

func TestMetricsHandler(t *testing.T) {
	api, _, metrics := newTestAPI(&fakeManager{}, &fakeStore{})
	metrics.ObserveVerdict(detectorVerdict(), time.Millisecond)

	rr := httptest.NewRecorder()
	api.handleMetrics(rr, httptest.NewRequest("GET", "/api/metrics", nil))

	var payload map[string]json.RawMessage
	decodeBody(t, rr, &payload)
	if _, ok := payload["pipeline"]; !ok {
		t.Error("expected pipeline metrics in payload")
	}
	if _, ok := payload["recorder"]; !ok {
		t.Error("expected recorder stats in payload")
	}

	var snap monitoring.MetricsSnapshot
	if err := json.Unmarshal(payload["pipeline"], &snap); err != nil {
		t.Fatalf("bad pipeline payload: %v", err)
	}
	if snap.FramesTotal != 1 {
		t.Errorf("expected 1 frame in snapshot, got %+v", snap)
	}
}

func TestRegisterAPIHandlersRouting(t *testing.T) {
	api, _, _ := newTestAPI(&fakeManager{verdict: detectorVerdict()}, &fakeStore{})
	mux := http.NewServeMux()
	RegisterAPIHandlers(mux, api)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("GET", "/api/yoga/poses", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("GET poses should route, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("DELETE", "/api/yoga/poses", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE poses should be rejected, got %d", rr.Code)
	}
}
