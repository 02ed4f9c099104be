package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/certificate-request-service/internal/identity"
	"github.com/psds-microservice/certificate-request-service/internal/model"
	"github.com/psds-microservice/certificate-request-service/internal/service"
	"github.com/psds-microservice/certificate-request-service/internal/store"
	"github.com/psds-microservice/certificate-request-service/internal/workflow"
)

type TicketHandler struct {
	tickets     *service.TicketService
	assignments *service.AssignmentTracker
	ledger      *service.Ledger
	names       identity.Resolver
	log         *slog.Logger
}

func NewTicketHandler(e *service.Engine, names identity.Resolver, log *slog.Logger) *TicketHandler {
	return &TicketHandler{
		tickets:     e.Tickets,
		assignments: e.Assignments,
		ledger:      e.Ledger,
		names:       names,
		log:         log,
	}
}

// ticketView adds the actions the UI may offer from the current status.
type ticketView struct {
	*model.Ticket
	AllowedActions []workflow.Action    `json:"allowed_actions"`
	ManualTargets  []model.TicketStatus `json:"manual_targets"`
}

func viewOf(t *model.Ticket) ticketView {
	v := ticketView{
		Ticket:         t,
		AllowedActions: workflow.AllowedActions(t.Status),
		ManualTargets:  workflow.ManualTargets(t.Status),
	}
	if v.AllowedActions == nil {
		v.AllowedActions = []workflow.Action{}
	}
	if v.ManualTargets == nil {
		v.ManualTargets = []model.TicketStatus{}
	}
	return v
}

// createTicketRequest holds only requester fields. Priority, notes and the payment link are
// set by staff through their own routes.
type createTicketRequest struct {
	Kind            string                    `json:"kind" binding:"required"`
	Scope           string                    `json:"scope"`
	ServiceType     string                    `json:"service_type"`
	SubmitterName   string                    `json:"submitter_name" binding:"required"`
	SubmitterEmail  string                    `json:"submitter_email" binding:"required"`
	SubmitterPhone  string                    `json:"submitter_phone"`
	DeliveryAddress string                    `json:"delivery_address"`
	Details         []model.CertificateDetail `json:"details" binding:"required"`
}

// Create is public: requesters submit their own tickets. A staff caller id, if present, is recorded.
func (h *TicketHandler) Create(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	t, err := h.tickets.Create(c.Request.Context(), strings.TrimSpace(c.GetHeader(CallerHeader)), service.CreateInput{
		Kind:            model.TicketKind(req.Kind),
		Scope:           model.RequestScope(req.Scope),
		ServiceType:     model.ServiceType(req.ServiceType),
		SubmitterName:   req.SubmitterName,
		SubmitterEmail:  req.SubmitterEmail,
		SubmitterPhone:  req.SubmitterPhone,
		DeliveryAddress: req.DeliveryAddress,
		Details:         req.Details,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, viewOf(t))
}

func (h *TicketHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	t, err := h.tickets.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(t))
}

func (h *TicketHandler) List(c *gin.Context) {
	f := store.Filter{
		Status:     model.TicketStatus(c.Query("status")),
		Kind:       model.TicketKind(c.Query("kind")),
		Priority:   model.Priority(c.Query("priority")),
		AssignedTo: c.Query("assigned_to"),
		Query:      strings.TrimSpace(c.Query("q")),
	}
	f.Unassigned, _ = strconv.ParseBool(c.Query("unassigned"))
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			f.Limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			f.Offset = parsed
		}
	}
	items, total, err := h.tickets.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if items == nil {
		items = []model.Ticket{}
	}
	c.JSON(http.StatusOK, gin.H{
		"tickets": items,
		"total":   total,
	})
}

type transitionRequest struct {
	Action         string `json:"action" binding:"required"`
	TrackingNumber string `json:"tracking_number"`
	Reason         string `json:"reason"`
}

func (h *TicketHandler) Transition(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	action, known := workflow.ParseAction(req.Action)
	if !known {
		badRequest(c, "unknown action "+strconv.Quote(req.Action))
		return
	}
	t, err := h.tickets.Transition(c.Request.Context(), id, callerID(c), action, workflow.Options{
		TrackingNumber: req.TrackingNumber,
		Reason:         req.Reason,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(t))
}

type manualTransitionRequest struct {
	TargetStatus string `json:"target_status" binding:"required"`
	Reason       string `json:"reason"`
}

func (h *TicketHandler) ManualTransition(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req manualTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	t, err := h.tickets.ManualTransition(c.Request.Context(), id, callerID(c), model.TicketStatus(req.TargetStatus), req.Reason)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(t))
}

type assignRequest struct {
	StaffID string `json:"staff_id" binding:"required"`
}

func (h *TicketHandler) Assign(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	t, err := h.assignments.Assign(c.Request.Context(), id, callerID(c), req.StaffID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(t))
}

func (h *TicketHandler) Unassign(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	t, err := h.assignments.Unassign(c.Request.Context(), id, callerID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(t))
}

type priorityRequest struct {
	Priority string `json:"priority" binding:"required"`
}

func (h *TicketHandler) SetPriority(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req priorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	t, err := h.tickets.SetPriority(c.Request.Context(), id, callerID(c), model.Priority(req.Priority))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(t))
}

type notesRequest struct {
	Notes *string `json:"notes" binding:"required"`
}

func (h *TicketHandler) SetNotes(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req notesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	t, err := h.tickets.SetNotes(c.Request.Context(), id, *req.Notes)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(t))
}

type linkPaymentRequest struct {
	PaymentID string `json:"payment_id" binding:"required"`
}

func (h *TicketHandler) LinkPayment(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req linkPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	t, err := h.tickets.LinkPayment(c.Request.Context(), id, req.PaymentID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(t))
}

type commentRequest struct {
	Text string `json:"text" binding:"required"`
}

func (h *TicketHandler) AddComment(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	e, err := h.ledger.AddComment(c.Request.Context(), id, callerID(c), req.Text)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, h.entryView(*e))
}

type activityView struct {
	ID        uint64                 `json:"id"`
	Kind      model.ActionKind       `json:"kind"`
	ActorID   string                 `json:"actor_id"`
	ActorName string                 `json:"actor_name"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

func (h *TicketHandler) entryView(e model.ActivityEntry) activityView {
	name := e.ActorID
	if h.names != nil {
		name = h.names.DisplayName(e.ActorID)
	}
	return activityView{
		ID:        e.ID,
		Kind:      e.Kind,
		ActorID:   e.ActorID,
		ActorName: name,
		Payload:   e.Payload,
		CreatedAt: e.CreatedAt,
	}
}

// Activity returns the ledger oldest first; ?kind=assignment narrows it to assignment history.
func (h *TicketHandler) Activity(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var (
		entries []model.ActivityEntry
		err     error
	)
	if c.Query("kind") == "assignment" {
		entries, err = h.assignments.AssignmentHistory(c.Request.Context(), id)
	} else {
		entries, err = h.ledger.History(c.Request.Context(), id)
	}
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	out := make([]activityView, 0, len(entries))
	for _, e := range entries {
		out = append(out, h.entryView(e))
	}
	c.JSON(http.StatusOK, gin.H{"ticket_id": id, "entries": out})
}
