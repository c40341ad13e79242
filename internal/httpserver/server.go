// Package httpserver 诊断与控制 API：健康检查、指标、会话查询与模拟操作。
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/evsim-code/ocpp-simulator/internal/engine"
	"github.com/evsim-code/ocpp-simulator/internal/loadtest"
	"github.com/evsim-code/ocpp-simulator/internal/ocpp"
)

// Config HTTP 服务参数
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server HTTP 服务封装
type Server struct {
	srv *http.Server
	log *zap.Logger
}

// New 配置 Gin 路由并返回服务。orch 可为 nil（不暴露压测统计）。
func New(cfg Config, fleet *engine.Engine, orch *loadtest.Orchestrator,
	metricsHandler http.Handler, readyFn func() bool, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", func(c *gin.Context) {
		if readyFn == nil || readyFn() {
			c.String(http.StatusOK, "ready")
			return
		}
		c.String(http.StatusServiceUnavailable, "not-ready")
	})
	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}

	h := &handler{fleet: fleet, orch: orch, log: log}
	v1 := r.Group("/api/v1")
	{
		v1.GET("/sessions", h.listSessions)
		v1.POST("/sessions", h.addSession)
		v1.GET("/sessions/:id", h.getSession)
		v1.DELETE("/sessions/:id", h.removeSession)
		v1.GET("/sessions/:id/events", h.sessionEvents)

		v1.POST("/sessions/:id/plug", h.control((*engine.Driver).Plug))
		v1.POST("/sessions/:id/unplug", h.control((*engine.Driver).Unplug))
		v1.POST("/sessions/:id/recover", h.control((*engine.Driver).Recover))
		v1.POST("/sessions/:id/fault", h.fault)
		v1.POST("/sessions/:id/start", h.startCharging)
		v1.POST("/sessions/:id/stop", h.control((*engine.Driver).StopCharging))

		v1.GET("/loadtest", h.loadtestStats)
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return &Server{srv: srv, log: log}
}

// Start 启动服务（阻塞）
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type handler struct {
	fleet *engine.Engine
	orch  *loadtest.Orchestrator
	log   *zap.Logger
}

func (h *handler) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.fleet.List(), "count": h.fleet.Count()})
}

func (h *handler) addSession(c *gin.Context) {
	var req struct {
		ID string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.fleet.Add(c.Request.Context(), req.ID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": req.ID})
}

func (h *handler) getSession(c *gin.Context) {
	d, ok := h.fleet.Driver(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, d.Status())
}

func (h *handler) removeSession(c *gin.Context) {
	if err := h.fleet.Remove(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) sessionEvents(c *gin.Context) {
	d, ok := h.fleet.Driver(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": d.Events()})
}

// control 把无参模拟操作包成统一的路由处理
func (h *handler) control(op func(*engine.Driver, context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, ok := h.fleet.Driver(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		if err := op(d, c.Request.Context()); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, d.Status())
	}
}

func (h *handler) fault(c *gin.Context) {
	d, ok := h.fleet.Driver(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	var req struct {
		ErrorCode string `json:"errorCode"`
	}
	_ = c.ShouldBindJSON(&req)
	if err := d.Fault(c.Request.Context(), ocpp.ChargePointErrorCode(req.ErrorCode)); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, d.Status())
}

func (h *handler) startCharging(c *gin.Context) {
	d, ok := h.fleet.Driver(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	var req struct {
		IdTag string `json:"idTag" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := d.StartCharging(c.Request.Context(), req.IdTag); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, d.Status())
}

func (h *handler) loadtestStats(c *gin.Context) {
	if h.orch == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"enabled":        true,
		"launched":       h.orch.Launched(),
		"failures":       h.orch.Failures(),
		"connectLatency": h.orch.ConnectLatency(),
		"messageLatency": h.orch.MessageLatency(),
	})
}
