package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"github.com/Chino66/Command-Tool-Develop/internal/domain/session"
	"github.com/Chino66/Command-Tool-Develop/internal/shell"
)

const (
	contentTypeJSON = "application/json; charset=utf-8"

	// statusClientClosed is the non-standard status for a client that went
	// away before the response was ready.
	statusClientClosed = 499
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(c *gin.Context, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(status, contentTypeJSON, data)
}

func writeError(c *gin.Context, err error) {
	status, code := StatusFor(err)
	_ = c.Error(err)
	writeJSON(c, status, ErrorResponse{Error: err.Error(), Code: code})
	c.Abort()
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	writeJSON(c, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "bad_request"})
	c.Abort()
}

// StatusFor maps session and shell errors to an HTTP status and a stable
// error code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, session.ErrUnknownProfile):
		return http.StatusBadRequest, "unknown_profile"
	case errors.Is(err, session.ErrTooManySessions):
		return http.StatusTooManyRequests, "too_many_sessions"
	case errors.Is(err, session.ErrProfileUnhealthy):
		return http.StatusServiceUnavailable, "profile_unhealthy"
	case errors.Is(err, session.ErrManagerClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, shell.ErrConcurrentRun):
		return http.StatusConflict, "busy"
	case errors.Is(err, shell.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, shell.ErrSessionClosed):
		return http.StatusGone, "closed"
	case errors.Is(err, shell.ErrStartup):
		return http.StatusServiceUnavailable, "startup_failed"
	case errors.Is(err, shell.ErrNotStarted):
		return http.StatusConflict, "not_started"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return statusClientClosed, "canceled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
