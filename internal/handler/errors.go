package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/certificate-request-service/internal/errs"
)

const (
	// CallerHeader carries the authenticated staff id set by the gateway in front of this service.
	CallerHeader = "X-Caller-ID"
	callerKey    = "caller_id"
)

var statusByCode = map[string]int{
	"not_found":          http.StatusNotFound,
	"no_payment_found":   http.StatusNotFound,
	"response_missing":   http.StatusNotFound,
	"invalid_argument":   http.StatusBadRequest,
	"missing_reason":     http.StatusUnprocessableEntity,
	"unsupported_kind":   http.StatusUnprocessableEntity,
	"invalid_transition": http.StatusConflict,
	"ticket_closed":      http.StatusConflict,
	"response_locked":    http.StatusConflict,
	"not_signed":         http.StatusConflict,
	"already_revoked":    http.StatusConflict,
	"not_revoked":        http.StatusConflict,
	"ticket_not_active":  http.StatusConflict,
	"conflict":           http.StatusConflict,
}

// HTTPStatus maps an error to its response status.
func HTTPStatus(err error) int {
	if s, ok := statusByCode[errs.Code(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// writeError отвечает {"error": code, "message", "ticket_id", "status"}. Внутренние ошибки
// логируются, клиенту уходит только код.
func writeError(c *gin.Context, log *slog.Logger, err error) {
	code := errs.Code(err)
	status := HTTPStatus(err)
	body := gin.H{"error": code, "message": err.Error()}
	id, st := errs.Describe(err)
	if id != 0 {
		body["ticket_id"] = id
	}
	if st != "" {
		body["status"] = st
	}
	if status == http.StatusInternalServerError {
		log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		body["message"] = "internal error"
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_argument", "message": msg})
}

// RequireCaller rejects requests without X-Caller-ID.
func RequireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(CallerHeader))
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": CallerHeader + " header is required"})
			return
		}
		c.Set(callerKey, id)
		c.Next()
	}
}

func callerID(c *gin.Context) string {
	return c.GetString(callerKey)
}

func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return id, true
}

// bindOptionalJSON accepts an empty body.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid body")
		return false
	}
	return true
}
