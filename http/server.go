// Package http 提供HTTP服务器功能
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"winequality/monitoring"
	"winequality/service"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	hub    *Hub
	config ServerConfig
	logger *zap.Logger
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8050,
		Timeout:        30 * time.Second,
		AllowedOrigins: []string{"*"},
		MaxBodyBytes:   1 << 20,
	}
}

// Dependencies are what the handlers serve. History may be nil.
type Dependencies struct {
	Service *service.Service
	History TrainingHistory
	Metrics *monitoring.MetricsCollector
	Logger  *zap.Logger
}

// NewServer 创建HTTP服务器. The websocket hub starts immediately; Stop
// releases it.
func NewServer(config ServerConfig, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetricsCollector()
	}

	hub := NewHub(config.AllowedOrigins, logger)
	a := &api{
		svc:     deps.Service,
		history: deps.History,
		metrics: metrics,
		hub:     hub,
		logger:  logger.Named("http"),
	}
	hub.api = a
	go hub.Run()

	mux := http.NewServeMux()
	a.RegisterHandlers(mux)

	// 创建中间件链: 恢复 → 日志 → 指标 → 安全头 → CORS → 超时 → 请求大小
	chain := Chain(
		RecoveryMiddleware(a.logger),
		LoggerMiddleware(a.logger),
		MetricsMiddleware(metrics, mux),
		SecurityHeadersMiddleware,
		CORSMiddleware(config.AllowedOrigins),
		TimeoutMiddleware(config.Timeout),
		RequestSizeMiddleware(config.MaxBodyBytes),
	)

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           chain(mux),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		hub:    hub,
		config: config,
		logger: a.logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Hub exposes the websocket hub for pushing notifications.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start 启动服务器. It blocks until the server stops.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.server.Addr, err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Stop.
func (s *Server) Serve(listener net.Listener) error {
	s.logger.Info("http server listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("websocket", "/api/ws"),
	)
	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// NotifyReady tells connected websocket clients that predictions are available.
func (s *Server) NotifyReady(state service.State) {
	s.hub.Broadcast(ServerMessage{Type: MessageStatus, Data: map[string]interface{}{"state": state}})
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	s.hub.Stop()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}
