// Package http 提供HTTP服务器功能
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"yogai/monitoring"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8080,
		Timeout:        30 * time.Second,
		MaxBodyBytes:   10 << 20,
		AllowedOrigins: []string{"*"},
	}
}

// NewServer 创建HTTP服务器
func NewServer(config ServerConfig, api *API, hub *monitoring.PracticeHub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Port == 0 {
		config.Port = 8080
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxBodyBytes == 0 {
		config.MaxBodyBytes = 10 << 20
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}

	apiMux := http.NewServeMux()
	RegisterAPIHandlers(apiMux, api)

	// 创建中间件链
	apiChain := Chain(
		RecoveryMiddleware(logger),              // 1. 恢复中间件（最先执行，捕获panic）
		LoggerMiddleware(logger),                // 2. 日志中间件
		SecurityHeadersMiddleware,               // 3. 安全头中间件
		CORSMiddleware(config.AllowedOrigins),   // 4. CORS中间件
		TimeoutMiddleware(config.Timeout),       // 5. 超时中间件
		GzipMiddleware,                          // 6. Gzip压缩中间件
		RequestSizeMiddleware(config.MaxBodyBytes), // 7. 请求体大小限制
	)

	root := http.NewServeMux()
	root.Handle("/api/", apiChain(apiMux))

	// WebSocket连接是长连接，不能挂在超时链上
	if hub != nil {
		wsChain := Chain(
			RecoveryMiddleware(logger),
			CORSMiddleware(config.AllowedOrigins),
		)
		root.Handle("GET /ws/practice", wsChain(http.HandlerFunc(hub.HandleWebSocket)))
	}

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			Handler:      root,
			ReadTimeout:  config.Timeout,
			WriteTimeout: config.Timeout,
			IdleTimeout:  120 * time.Second,
		},
		config: config,
		logger: logger,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 停止服务器
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	return nil
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}

// Handler 返回完整的处理器链，测试时可直接挂到httptest上
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
