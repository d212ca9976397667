package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"yogai/db"
	"yogai/detect"
)

// MessageType 消息类型
type MessageType string

const (
	FrameVerdict   MessageType = "verdict"
	PracticeUpdate MessageType = "practice_update"
	LiveStats      MessageType = "live_stats"
)

// Message 实时消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	ID        string          `json:"id"`
}

// ClientMessage 客户端消息
type ClientMessage struct {
	Type      string `json:"type"` // frame, subscribe, unsubscribe, ping
	Frame     string `json:"frame,omitempty"`
	Pose      string `json:"pose,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Topic     string `json:"topic,omitempty"`
}

// PracticeEvent 广播给观察端的练习进展
type PracticeEvent struct {
	SessionID  string  `json:"session_id"`
	Pose       string  `json:"pose"`
	Stage      string  `json:"stage"`
	IsCorrect  bool    `json:"is_correct"`
	HasError   bool    `json:"has_error"`
	Confidence float64 `json:"confidence"`
}

// FrameProcessor 将单帧转换为检测结论
type FrameProcessor interface {
	Process(ctx context.Context, req detect.FrameRequest) (detect.Verdict, error)
}

// VerdictSink 接收归属到会话的检测记录
type VerdictSink interface {
	Record(rec db.DetectionRecord)
}

// Client WebSocket客户端
type Client struct {
	conn          *websocket.Conn
	send          chan []byte
	clientID      string
	subscriptions map[string]bool // 订阅的消息类型
}

// PracticeHub 实时练习通道中心
type PracticeHub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	ctx        context.Context
	cancel     context.CancelFunc

	processor FrameProcessor
	sink      VerdictSink
	metrics   *PipelineMetrics
	logger    *zap.Logger

	framesReceived int64
	verdictsSent   int64
	statsLock      sync.RWMutex
}

// NewPracticeHub 创建练习通道中心
func NewPracticeHub(processor FrameProcessor, sink VerdictSink, metrics *PipelineMetrics, logger *zap.Logger) *PracticeHub {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PracticeHub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 在生产环境中应该设置更严格的origin检查
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ctx:       ctx,
		cancel:    cancel,
		processor: processor,
		sink:      sink,
		metrics:   metrics,
		logger:    logger,
	}
}

// Start 启动通道中心
func (h *PracticeHub) Start() {
	defer h.logger.Info("practice hub stopped")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", zap.String("client_id", client.clientID), zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", zap.String("client_id", client.clientID), zap.Int("total", total))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop 停止通道中心
func (h *PracticeHub) Stop() {
	h.cancel()
}

// HandleWebSocket 处理WebSocket连接
func (h *PracticeHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	// Webcam frames arrive base64-encoded; cap them well above any real frame.
	conn.SetReadLimit(8 << 20)

	client := &Client{
		conn:          conn,
		send:          make(chan []byte, 256),
		clientID:      "client_" + uuid.NewString()[:8],
		subscriptions: make(map[string]bool),
	}

	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

// Broadcast 广播消息
func (h *PracticeHub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast queue full, dropping message")
	}
}

// ClientCount 当前连接数
func (h *PracticeHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// writePump WebSocket写入泵
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump WebSocket读取泵
func (c *Client) readPump(h *PracticeHub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	// 写入泵每30秒ping一次，60秒收不到pong视为断连
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		_, messageData, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", zap.String("client_id", c.clientID), zap.Error(err))
			}
			break
		}

		var clientMsg ClientMessage
		if err := json.Unmarshal(messageData, &clientMsg); err != nil {
			h.logger.Warn("bad client message", zap.String("client_id", c.clientID), zap.Error(err))
			continue
		}

		c.handleClientMessage(h, clientMsg)
	}
}

// handleClientMessage 处理客户端消息
func (c *Client) handleClientMessage(h *PracticeHub, msg ClientMessage) {
	switch msg.Type {
	case "frame":
		h.handleFrame(c, msg)
	case "subscribe":
		c.subscriptions[msg.Topic] = true
	case "unsubscribe":
		delete(c.subscriptions, msg.Topic)
	case "ping":
		// 客户端心跳，无需回应
	default:
		h.logger.Debug("unknown client message", zap.String("type", msg.Type))
	}
}

// handleFrame 处理一帧：检测、回传结论、广播练习进展
func (h *PracticeHub) handleFrame(c *Client, msg ClientMessage) {
	start := time.Now()

	h.statsLock.Lock()
	h.framesReceived++
	h.statsLock.Unlock()

	verdict, err := h.processor.Process(h.ctx, detect.FrameRequest{
		Frame:     msg.Frame,
		Pose:      msg.Pose,
		SessionID: msg.SessionID,
	})
	latency := time.Since(start)
	if err != nil {
		h.logger.Warn("frame processing failed",
			zap.String("client_id", c.clientID),
			zap.String("pose", msg.Pose),
			zap.Error(err))
	}
	if h.metrics != nil {
		h.metrics.ObserveVerdict(verdict, latency)
	}

	reply, err := envelope(FrameVerdict, verdict)
	if err != nil {
		h.logger.Error("failed to marshal verdict", zap.Error(err))
		return
	}
	select {
	case c.send <- reply:
		h.statsLock.Lock()
		h.verdictsSent++
		h.statsLock.Unlock()
	default:
		h.logger.Warn("client send queue full, dropping verdict", zap.String("client_id", c.clientID))
	}

	// Only real classified frames end up in the session record.
	if msg.SessionID != "" && verdict.Success && verdict.Mode == detect.ModeDetector {
		if h.sink != nil {
			h.sink.Record(db.DetectionRecord{
				SessionID:  msg.SessionID,
				Pose:       verdict.Pose,
				Stage:      verdict.Stage,
				Confidence: verdict.Confidence,
				IsCorrect:  verdict.IsCorrect,
				HasError:   verdict.HasError,
				DetectedAt: time.Now().UTC(),
			})
		}
		if update, err := envelope(PracticeUpdate, PracticeEvent{
			SessionID:  msg.SessionID,
			Pose:       verdict.Pose,
			Stage:      verdict.Stage,
			IsCorrect:  verdict.IsCorrect,
			HasError:   verdict.HasError,
			Confidence: verdict.Confidence,
		}); err == nil {
			h.Broadcast(update)
		}
	}
}

// envelope 打包实时消息
func envelope(t MessageType, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %v", t, err)
	}
	msg := Message{
		Type:      t,
		Timestamp: time.Now(),
		Data:      raw,
		ID:        "msg_" + uuid.NewString()[:8],
	}
	return json.Marshal(msg)
}

// MonitorStats 实时通道统计
type MonitorStats struct {
	ConnectedClients int64         `json:"connected_clients"`
	FramesReceived   int64         `json:"frames_received"`
	VerdictsSent     int64         `json:"verdicts_sent"`
	StartTime        time.Time     `json:"start_time"`
	Uptime           time.Duration `json:"uptime"`
}

// LiveMonitor 实时练习监控器
type LiveMonitor struct {
	hub     *PracticeHub
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	running bool
	started time.Time

	statsInterval time.Duration
}

// NewLiveMonitor 创建实时监控器
func NewLiveMonitor(hub *PracticeHub, logger *zap.Logger) *LiveMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveMonitor{
		hub:           hub,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		statsInterval: 15 * time.Second,
	}
}

// Start 启动监控器
func (m *LiveMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("monitor is already running")
	}

	go m.hub.Start()
	go m.statsLoop()

	m.running = true
	m.started = time.Now()

	m.logger.Info("live monitor started")
	return nil
}

// Stop 停止监控器
func (m *LiveMonitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return fmt.Errorf("monitor is not running")
	}

	m.running = false
	m.hub.Stop()
	m.cancel()

	m.logger.Info("live monitor stopped")
	return nil
}

// GetStats 获取通道统计
func (m *LiveMonitor) GetStats() MonitorStats {
	m.mu.RLock()
	started := m.started
	running := m.running
	m.mu.RUnlock()

	m.hub.statsLock.RLock()
	stats := MonitorStats{
		ConnectedClients: int64(m.hub.ClientCount()),
		FramesReceived:   m.hub.framesReceived,
		VerdictsSent:     m.hub.verdictsSent,
		StartTime:        started,
	}
	m.hub.statsLock.RUnlock()

	if running {
		stats.Uptime = time.Since(started)
	}
	return stats
}

// statsLoop 周期性向所有客户端广播通道统计
func (m *LiveMonitor) statsLoop() {
	ticker := time.NewTicker(m.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if m.hub.ClientCount() == 0 {
				continue
			}
			if msg, err := envelope(LiveStats, m.GetStats()); err == nil {
				m.hub.Broadcast(msg)
			}
		}
	}
}
