package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Chino66/Command-Tool-Develop/internal/domain/session"
	"github.com/Chino66/Command-Tool-Develop/internal/infrastructure/monitoring"
)

const (
	serviceName    = "cmdproxy"
	serviceVersion = "0.1.0"

	// maxTimeout caps client-requested command timeouts.
	maxTimeout = 10 * time.Minute
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	manager *session.Manager
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewHandlers creates a handler set.
func NewHandlers(manager *session.Manager, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		manager: manager,
		metrics: metrics,
		logger:  logger,
	}
}

// Register mounts all routes on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/profiles", h.ListProfiles)
	r.POST("/run", h.RunOnce)

	sessions := r.Group("/sessions")
	sessions.GET("", h.ListSessions)
	sessions.POST("", h.CreateSession)
	sessions.GET("/:id", h.GetSession)
	sessions.DELETE("/:id", h.CloseSession)
	sessions.POST("/:id/exec", h.Exec)
	sessions.POST("/:id/run", h.Run)
	sessions.PUT("/:id/debug", h.SetDebug)
}

// CommandRequest is the body of exec and run requests.
type CommandRequest struct {
	Command   string `json:"command" binding:"required"`
	TimeoutMS int64  `json:"timeout_ms" binding:"gte=0"`
	Profile   string `json:"profile"`
}

func (r CommandRequest) timeout() time.Duration {
	d := time.Duration(r.TimeoutMS) * time.Millisecond
	if d > maxTimeout {
		return maxTimeout
	}
	return d
}

// DebugRequest toggles debug mode.
type DebugRequest struct {
	Enabled bool `json:"enabled"`
}

// Health reports server status.
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status":   "healthy",
		"service":  serviceName,
		"version":  serviceVersion,
		"sessions": h.manager.Count(),
		"breakers": h.manager.Breakers(),
	}
	if h.metrics != nil {
		body["metrics"] = h.metrics.Snapshot()
	}
	writeJSON(c, http.StatusOK, body)
}

// ListProfiles lists the profiles sessions can be created from.
func (h *Handlers) ListProfiles(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"profiles": h.manager.Profiles()})
}

// ListSessions lists all sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.manager.List()
	writeJSON(c, http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// CreateSession starts a session. The body is optional.
func (h *Handlers) CreateSession(c *gin.Context) {
	var opts session.CreateOptions
	if err := c.ShouldBindJSON(&opts); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}

	entry, err := h.manager.Create(c.Request.Context(), opts)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, entry.Info())
}

// GetSession describes one session.
func (h *Handlers) GetSession(c *gin.Context) {
	entry, err := h.manager.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, entry.Info())
}

// CloseSession closes and removes a session.
func (h *Handlers) CloseSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.Close(id); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"id": id, "closed": true})
}

// Exec runs a command and waits for the result.
func (h *Handlers) Exec(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	entry, err := h.manager.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	result, err := entry.Exec(c.Request.Context(), req.Command, req.timeout())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			h.logger.Debug("Client went away during exec", zap.String("session_id", entry.ID()))
		}
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, result)
}

// Run submits a command without waiting. The result is streamed to the
// session's WebSocket watchers.
func (h *Handlers) Run(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	entry, err := h.manager.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	if err := entry.Run(req.Command); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, gin.H{"id": entry.ID(), "accepted": true})
}

// SetDebug toggles raw line mirroring for a session.
func (h *Handlers) SetDebug(c *gin.Context) {
	var req DebugRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	entry, err := h.manager.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	entry.Session().SetDebugMode(req.Enabled)
	writeJSON(c, http.StatusOK, entry.Info())
}

// RunOnce runs a command in a throwaway session.
func (h *Handlers) RunOnce(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.manager.RunOnce(c.Request.Context(), req.Profile, req.Command, req.timeout())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, result)
}
