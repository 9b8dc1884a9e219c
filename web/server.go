package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quantlab/config"
	"quantlab/database"
	"quantlab/logger"
	"quantlab/strategy"
	"quantlab/task"
	"quantlab/walkforward"
)

// Server REST + WebSocket 服务
type Server struct {
	cfg         config.WebConfig
	coordinator *task.Coordinator
	repo        *database.Repository
	hub         *Hub
	engine      *gin.Engine
	httpServer  *http.Server
}

// NewServer 创建 Web 服务并注册路由
func NewServer(cfg config.WebConfig, taskCfg config.TaskConfig, coordinator *task.Coordinator, repo *database.Repository) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	hub := NewHub(time.Duration(taskCfg.HeartbeatSec) * time.Second)
	coordinator.SetProgressFunc(hub.Publish)

	s := &Server{
		cfg:         cfg,
		coordinator: coordinator,
		repo:        repo,
		hub:         hub,
		engine:      engine,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api")
	{
		api.POST("/analysis", s.handleSubmit)
		api.GET("/analysis", s.handleList)
		api.GET("/analysis/:id", s.handleGet)
		api.DELETE("/analysis/:id", s.handleCancel)
		api.GET("/history", s.handleHistory)
		api.GET("/history/:id", s.handleHistoryDetail)
		api.DELETE("/history/:id", s.handleHistoryDelete)
	}

	s.engine.GET("/ws/tasks", s.hub.handleWebSocket)
}

// Start 启动服务（阻塞直到 ctx 取消或监听失败）
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run()

	s.httpServer = &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("🚀 Web 服务监听 %s", s.cfg.Listen)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// ownerFrom 从请求头提取用户标识
func ownerFrom(c *gin.Context) string {
	if owner := c.GetHeader("X-Owner"); owner != "" {
		return owner
	}
	return c.Query("owner")
}

func (s *Server) handleHealth(c *gin.Context) {
	status := gin.H{"status": "ok"}
	if s.repo != nil {
		if err := s.repo.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
			return
		}
		status["database"] = "ok"
	}
	c.JSON(http.StatusOK, status)
}

// submitRequest 提交分析的请求体
type submitRequest struct {
	Symbol     string                      `json:"symbol" binding:"required"`
	Interval   string                      `json:"interval" binding:"required"`
	Strategy   string                      `json:"strategy" binding:"required"`
	Start      time.Time                   `json:"start" binding:"required"`
	End        time.Time                   `json:"end" binding:"required"`
	Params     *strategy.Params            `json:"params,omitempty"`
	Dimensions []walkforward.GridDimension `json:"dimensions,omitempty"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	owner := ownerFrom(c)
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 X-Owner 请求头"})
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := strategy.DefaultParams()
	if req.Params != nil {
		params = *req.Params
	}

	id, err := s.coordinator.Submit(task.Request{
		Owner:      owner,
		Symbol:     req.Symbol,
		Interval:   req.Interval,
		Strategy:   strategy.Kind(req.Strategy),
		BaseParams: params,
		Dimensions: req.Dimensions,
		Start:      req.Start,
		End:        req.End,
	})
	if err != nil {
		switch {
		case errors.Is(err, task.ErrTooManyTasks), errors.Is(err, task.ErrOwnerBusy), errors.Is(err, task.ErrLockHeld):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"task_id": id})
}

func (s *Server) handleList(c *gin.Context) {
	owner := ownerFrom(c)
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 X-Owner 请求头"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": s.coordinator.List(owner)})
}

func (s *Server) handleGet(c *gin.Context) {
	owner := ownerFrom(c)
	snap, err := s.coordinator.Get(c.Param("id"), owner)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleCancel(c *gin.Context) {
	owner := ownerFrom(c)
	if err := s.coordinator.Cancel(c.Param("id"), owner); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

func (s *Server) handleHistory(c *gin.Context) {
	owner := ownerFrom(c)
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 X-Owner 请求头"})
		return
	}
	if s.repo == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "未配置持久化"})
		return
	}

	records, err := s.repo.ListAnalyses(c.Request.Context(), owner, 50, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"analyses": records})
}

func (s *Server) handleHistoryDetail(c *gin.Context) {
	owner := ownerFrom(c)
	if s.repo == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "未配置持久化"})
		return
	}

	record, err := s.repo.GetAnalysis(c.Request.Context(), c.Param("id"), owner)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "记录不存在"})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleHistoryDelete(c *gin.Context) {
	owner := ownerFrom(c)
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 X-Owner 请求头"})
		return
	}
	if s.repo == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "未配置持久化"})
		return
	}

	if err := s.repo.DeleteAnalysis(c.Request.Context(), c.Param("id"), owner); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "记录不存在"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
