package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/certificate-request-service/internal/model"
	"github.com/psds-microservice/certificate-request-service/internal/service"
	"github.com/psds-microservice/certificate-request-service/internal/store"
)

// OperationsHandler serves the staff back-office endpoints that span tickets:
// bulk actions, payment reconciliation and statistics.
type OperationsHandler struct {
	bulk     *service.BulkCoordinator
	payments *service.PaymentReconciler
	stats    *service.Statistics
	log      *slog.Logger
}

func NewOperationsHandler(e *service.Engine, log *slog.Logger) *OperationsHandler {
	return &OperationsHandler{bulk: e.Bulk, payments: e.Payments, stats: e.Stats, log: log}
}

// Bulk всегда отвечает 200, если запрос валиден; ошибки по отдельным тикетам лежат в items.
func (h *OperationsHandler) Bulk(c *gin.Context) {
	var req service.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	res, err := h.bulk.Run(c.Request.Context(), callerID(c), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Reconcile asks payment-service for the payment status and applies it.
func (h *OperationsHandler) Reconcile(c *gin.Context) {
	res, err := h.payments.Reconcile(c.Request.Context(), c.Param("payment_id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// PaymentCallback accepts a status notification pushed by payment-service.
func (h *OperationsHandler) PaymentCallback(c *gin.Context) {
	var s model.PaymentSignal
	if err := c.ShouldBindJSON(&s); err != nil {
		badRequest(c, "invalid body")
		return
	}
	res, err := h.payments.HandlePaymentSignal(c.Request.Context(), s)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *OperationsHandler) Stats(c *gin.Context) {
	f := store.StatsFilter{Period: store.Period(c.Query("period"))}
	var err error
	if f.From, err = parseTimeParam(c.Query("from")); err != nil {
		badRequest(c, "from: "+err.Error())
		return
	}
	if f.To, err = parseTimeParam(c.Query("to")); err != nil {
		badRequest(c, "to: "+err.Error())
		return
	}
	st, err := h.stats.Summary(c.Request.Context(), f)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// parseTimeParam accepts RFC3339 or a bare YYYY-MM-DD (UTC midnight).
func parseTimeParam(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type PublicHandler struct {
	tickets *service.TicketService
	log     *slog.Logger
}

func NewPublicHandler(e *service.Engine, log *slog.Logger) *PublicHandler {
	return &PublicHandler{tickets: e.Tickets, log: log}
}

// Track returns the requester view by request number.
func (h *PublicHandler) Track(c *gin.Context) {
	view, err := h.tickets.Track(c.Request.Context(), c.Param("number"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
