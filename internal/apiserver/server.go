// Package apiserver 是转录核心的宿主层: 后端事件经 HTTP / WebSocket 进入 Session,
// 渲染后的投影经 SSE / WebSocket 推给视图。
//
// 端点:
//
//	POST /api/events      后端事件 (单个对象或数组)
//	GET  /api/transcript  当前投影
//	POST /api/turns       用户发言 / 显式开启新一轮
//	POST /api/interrupt   停止请求已确认
//	POST /api/artifacts   挂载回放资源
//	POST /api/scroll      视口滚动位置
//	POST /api/restore     从持久化历史恢复
//	GET  /api/sessions    历史会话列表
//	GET  /api/stream      SSE 投影流
//	GET  /ws/agent        后端事件 WebSocket
//	GET  /ws/view         视图 WebSocket (投影下行 + 控制上行)
package apiserver

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/multi-agent/agent-shell/internal/config"
	"github.com/multi-agent/agent-shell/internal/metrics"
	"github.com/multi-agent/agent-shell/internal/store"
	"github.com/multi-agent/agent-shell/internal/transcript"
	pkgerr "github.com/multi-agent/agent-shell/pkg/errors"
	"github.com/multi-agent/agent-shell/pkg/logger"
	"github.com/multi-agent/agent-shell/pkg/util"
)

const (
	sseKeepalive      = 30 * time.Second
	wsWriteTimeout    = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// HistoryReader 读取持久化历史, 由 store.TranscriptStore 实现。
type HistoryReader interface {
	Load(ctx context.Context, sessionID string) ([]transcript.Entry, error)
	Sessions(ctx context.Context, limit int) ([]store.SessionInfo, error)
}

// Deps 服务器依赖注入。Session 与 Bus 必需, 其余可选。
type Deps struct {
	Config  *config.Config
	Session *transcript.Session
	Bus     *EventBus
	Metrics *metrics.Metrics
	History HistoryReader
}

// Server 宿主 HTTP + WebSocket 服务。
type Server struct {
	cfg     *config.Config
	session *transcript.Session
	bus     *EventBus
	metrics *metrics.Metrics
	history HistoryReader
	router  *gin.Engine

	upgrader websocket.Upgrader
	mu       sync.RWMutex
	conns    map[string]*connEntry
	nextID   atomic.Int64
}

// New 创建服务器并注册路由。
func New(deps Deps) *Server {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Load()
	}
	s := &Server{
		cfg:     cfg,
		session: deps.Session,
		bus:     deps.Bus,
		metrics: deps.Metrics,
		history: deps.History,
		conns:   make(map[string]*connEntry),
		upgrader: websocket.Upgrader{
			CheckOrigin: checkLocalOrigin,
		},
	}
	s.router = s.buildRouter()
	return s
}

// Handler 返回 HTTP 处理器 (测试与嵌入用)。
func (s *Server) Handler() http.Handler { return s.router }

// Session 返回宿主的会话。
func (s *Server) Session() *transcript.Session { return s.session }

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(recoveryMiddleware(), s.accessLogMiddleware())

	r.GET("/healthz", s.handleHealth)
	if s.metrics != nil && s.cfg.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := r.Group("/api")
	api.POST("/events", s.handleEvents)
	api.GET("/transcript", s.handleTranscript)
	api.POST("/turns", s.handleTurn)
	api.POST("/interrupt", s.handleInterrupt)
	api.POST("/artifacts", s.handleArtifact)
	api.POST("/scroll", s.handleScroll)
	api.POST("/restore", s.handleRestore)
	api.GET("/sessions", s.handleSessions)
	api.GET("/stream", s.handleStream)

	r.GET("/ws/agent", s.handleAgentWS)
	r.GET("/ws/view", s.handleViewWS)
	return r
}

// ListenAndServe 启动服务, ctx 取消时优雅退出。
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: readHeaderTimeout,
	}

	util.SafeGo(func() {
		<-ctx.Done()
		logger.Info("apiserver: shutting down")
		// 长连接不受 Shutdown 管理, 先主动断开
		s.bus.Close()
		s.closeAllConns()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("apiserver: shutdown error", logger.FieldError, err)
			return
		}
		logger.Info("apiserver: shutdown completed")
	})

	logger.Info("apiserver: listening", logger.FieldAddr, s.cfg.ListenAddr, logger.FieldSessionID, s.session.ID())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return pkgerr.Wrap(err, "Server.ListenAndServe", "listen")
	}
	return nil
}

// ========================================
// 中间件
// ========================================

// recoveryMiddleware 捕获 handler panic, 返回 500。
func recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rv := recover(); rv != nil {
				logger.Error("http: handler panicked",
					logger.FieldMethod, c.Request.Method,
					logger.FieldPath, c.Request.URL.Path,
					logger.FieldRemote, c.Request.RemoteAddr,
					logger.FieldError, rv,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody("internal_error", "服务器内部错误"))
			}
		}()
		c.Next()
	}
}

// accessLogMiddleware 记录请求日志与耗时指标。
func (s *Server) accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqLog := logger.With(logger.FieldMethod, c.Request.Method, logger.FieldPath, c.Request.URL.Path)
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), reqLog))

		c.Next()

		elapsed := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		if s.metrics != nil {
			s.metrics.ObserveRequest(c.Request.Method, route, statusClass(status), elapsed.Seconds())
		}
		reqLog.Debug("http: request",
			logger.FieldStatus, status,
			logger.FieldLatencyMS, elapsed.Milliseconds(),
		)
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
