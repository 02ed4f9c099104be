package router

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/certificate-request-service/internal/documents"
	"github.com/psds-microservice/certificate-request-service/internal/errs"
	"github.com/psds-microservice/certificate-request-service/internal/identity"
	"github.com/psds-microservice/certificate-request-service/internal/logger"
	"github.com/psds-microservice/certificate-request-service/internal/model"
	"github.com/psds-microservice/certificate-request-service/internal/service"
	"github.com/psds-microservice/certificate-request-service/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const caller = "staff-1"

type testAPI struct {
	t        *testing.T
	h        http.Handler
	payments *paymentBook
}

// paymentBook stands in for payment-service.
type paymentBook struct {
	mu      sync.Mutex
	records map[string]model.PaymentRecord
}

func (b *paymentBook) Lookup(_ context.Context, id string) (model.PaymentRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[id]
	if !ok {
		return model.PaymentRecord{}, errs.New(errs.ErrNoPaymentFound, 0, "", "unknown payment %s", id)
	}
	return rec, nil
}

func (b *paymentBook) set(id string, st model.PaymentStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[id] = model.PaymentRecord{ID: id, Status: st, Amount: 2500, Currency: "NGN"}
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	files, err := documents.NewFileStore(t.TempDir())
	require.NoError(t, err)
	log := logger.Discard()
	book := &paymentBook{records: map[string]model.PaymentRecord{}}
	engine := service.New(service.Deps{
		Store:    memstore.New(),
		Payments: book,
		Renderer: documents.JSONRenderer{Institution: "Test University"},
		Storage:  files,
		Log:      log,
	})
	return &testAPI{t: t, payments: book, h: New(Deps{
		Engine: engine,
		Names:  identity.NewDirectory("staff-1:Ada Obi"),
		Log:    log,
	})}
}

func (a *testAPI) do(method, path, who string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if who != "" {
		req.Header.Set("X-Caller-ID", who)
	}
	w := httptest.NewRecorder()
	a.h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func submission(kind string) map[string]any {
	return map[string]any{
		"kind":            kind,
		"submitter_name":  "Chidi Okafor",
		"submitter_email": "chidi@example.com",
		"details": []map[string]any{
			{"student_name": "Chidi Okafor", "registration_number": "REG/2019/0042"},
		},
	}
}

// submit creates a ticket anonymously, then links paymentID as staff.
func (a *testAPI) submit(kind, paymentID string) map[string]any {
	a.t.Helper()
	w := a.do(http.MethodPost, "/api/v1/tickets", "", submission(kind))
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	tk := decode(a.t, w)
	w = a.do(http.MethodPut, ticketPath(tk, "/payment"), caller, map[string]any{"payment_id": paymentID})
	require.Equal(a.t, http.StatusOK, w.Code, w.Body.String())
	return decode(a.t, w)
}

func ticketPath(t map[string]any, suffix string) string {
	return "/api/v1/tickets/" + strconv.FormatFloat(t["id"].(float64), 'f', 0, 64) + suffix
}

func TestHealthAndSwagger(t *testing.T) {
	a := newTestAPI(t)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/ready", "", nil).Code)

	w := a.do(http.MethodGet, "/swagger/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "3.0.3", decode(t, w)["openapi"])
}

func TestStaffRoutesRequireCaller(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(http.MethodGet, "/api/v1/tickets", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthenticated", decode(t, w)["error"])
}

func TestTicketFlowOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	tk := a.submit("certificate", "pay-1")
	assert.Equal(t, "pending_payment", tk["status"])
	assert.Contains(t, tk["allowed_actions"], "cancel")

	w := a.do(http.MethodPost, ticketPath(tk, "/transitions"), caller, map[string]any{"action": "begin_process"})
	require.Equal(t, http.StatusConflict, w.Code)
	body := decode(t, w)
	assert.Equal(t, "invalid_transition", body["error"])
	assert.Equal(t, "pending_payment", body["status"])

	a.payments.set("pay-1", model.PaymentReconciled)
	w = a.do(http.MethodPost, "/api/v1/payments/callback", "", map[string]any{"payment_id": "pay-1", "status": "reconciled", "amount": 2500})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "reconciled", decode(t, w)["outcome"])
	w = a.do(http.MethodPost, "/api/v1/payments/callback", "", map[string]any{"payment_id": "pay-1", "status": "reconciled"})
	assert.Equal(t, "already_reconciled", decode(t, w)["outcome"])

	w = a.do(http.MethodPost, ticketPath(tk, "/transitions"), caller, map[string]any{"action": "begin_process"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "in_process", decode(t, w)["status"])

	w = a.do(http.MethodPost, ticketPath(tk, "/manual-transitions"), caller, map[string]any{"target_status": "ready_for_dispatch"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "missing_reason", decode(t, w)["error"])

	w = a.do(http.MethodPut, ticketPath(tk, "/assignee"), caller, map[string]any{"staff_id": "staff-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "staff-1", decode(t, w)["assigned_to"])

	w = a.do(http.MethodPost, ticketPath(tk, "/comments"), caller, map[string]any{"text": "original certificate located"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Ada Obi", decode(t, w)["actor_name"])

	w = a.do(http.MethodGet, ticketPath(tk, "/activity"), caller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode(t, w)["entries"].([]any)
	assert.Len(t, entries, 5, "created, reconciliation, status change, assignment, comment")
	assert.Equal(t, "System", entries[0].(map[string]any)["actor_name"])

	w = a.do(http.MethodGet, ticketPath(tk, "/activity?kind=assignment"), caller, nil)
	assert.Len(t, decode(t, w)["entries"].([]any), 1)

	w = a.do(http.MethodGet, "/api/v1/tickets?status=in_process", caller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["total"])

	w = a.do(http.MethodGet, "/api/v1/public/requests/"+tk["request_number"].(string), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	public := decode(t, w)
	assert.Equal(t, "in_process", public["status"])
	assert.NotContains(t, public, "assigned_to")
}

func TestForgedCallbackLeavesTicketUnpaid(t *testing.T) {
	a := newTestAPI(t)
	tk := a.submit("certificate", "pay-6")
	forged := map[string]any{"payment_id": "pay-6", "status": "reconciled", "amount": 2500}

	w := a.do(http.MethodPost, "/api/v1/payments/callback", "", forged)
	assert.Equal(t, http.StatusNotFound, w.Code, "payment-service has no such payment")
	assert.Equal(t, "no_payment_found", decode(t, w)["error"])

	a.payments.set("pay-6", model.PaymentPending)
	w = a.do(http.MethodPost, "/api/v1/payments/callback", "", forged)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "payment_pending", decode(t, w)["outcome"])

	w = a.do(http.MethodGet, ticketPath(tk, ""), caller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)
	assert.Equal(t, "pending_payment", got["status"])
	assert.Nil(t, got["paid_at"])
}

func TestPublicCreateIgnoresStaffFields(t *testing.T) {
	a := newTestAPI(t)
	body := submission("certificate")
	body["priority"] = "urgent"
	body["notes"] = "VIP, skip the queue"
	body["payment_id"] = "pay-someone-else"

	w := a.do(http.MethodPost, "/api/v1/tickets", "", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tk := decode(t, w)
	assert.Equal(t, "medium", tk["priority"])
	assert.Empty(t, tk["notes"])
	assert.Nil(t, tk["payment_id"])

	w = a.do(http.MethodPost, "/api/v1/payments/pay-someone-else/reconcile", caller, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestErrorMapping(t *testing.T) {
	a := newTestAPI(t)
	tk := a.submit("certificate", "pay-2")

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		code   int
		err    string
	}{
		{"missing ticket", http.MethodGet, "/api/v1/tickets/9999", nil, http.StatusNotFound, "not_found"},
		{"bad id", http.MethodGet, "/api/v1/tickets/abc", nil, http.StatusBadRequest, "invalid_argument"},
		{"unknown action", http.MethodPost, ticketPath(tk, "/transitions"), map[string]any{"action": "teleport"}, http.StatusBadRequest, "invalid_argument"},
		{"manual to unknown status", http.MethodPost, ticketPath(tk, "/manual-transitions"), map[string]any{"target_status": "archived", "reason": "moving to the archive"}, http.StatusConflict, "invalid_transition"},
		{"manual into paid", http.MethodPost, ticketPath(tk, "/manual-transitions"), map[string]any{"target_status": "paid", "reason": "paid at the desk"}, http.StatusConflict, "invalid_transition"},
		{"response on certificate", http.MethodPost, ticketPath(tk, "/response/generate"), nil, http.StatusUnprocessableEntity, "unsupported_kind"},
		{"unknown payment", http.MethodPost, "/api/v1/payments/pay-none/reconcile", nil, http.StatusNotFound, "no_payment_found"},
		{"bad period", http.MethodGet, "/api/v1/statistics?period=week", nil, http.StatusBadRequest, "invalid_argument"},
		{"bad date", http.MethodGet, "/api/v1/statistics?from=yesterday", nil, http.StatusBadRequest, "invalid_argument"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := a.do(tc.method, tc.path, caller, tc.body)
			assert.Equal(t, tc.code, w.Code, w.Body.String())
			assert.Equal(t, tc.err, decode(t, w)["error"])
		})
	}
}

func TestResponseLifecycleOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	tk := a.submit("confirmation", "pay-3")
	a.payments.set("pay-3", model.PaymentReconciled)
	w := a.do(http.MethodPost, "/api/v1/payments/callback", "", map[string]any{"payment_id": "pay-3", "status": "reconciled"})
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(http.MethodGet, ticketPath(tk, "/response"), caller, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "response_missing", decode(t, w)["error"])

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	part, err := mw.CreateFormFile("file", "letter.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("we confirm the result"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, ticketPath(tk, "/response/upload"), &form)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Caller-ID", caller)
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, decode(t, rec)["revision"])

	w = a.do(http.MethodPost, ticketPath(tk, "/response/sign"), caller, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["signed"])

	w = a.do(http.MethodPost, ticketPath(tk, "/response/generate"), caller, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "response_locked", decode(t, w)["error"])

	w = a.do(http.MethodPost, ticketPath(tk, "/response/revoke"), caller, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = a.do(http.MethodPost, ticketPath(tk, "/response/revoke"), caller, map[string]any{"reason": "issued to the wrong addressee"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["revoked"])

	w = a.do(http.MethodGet, ticketPath(tk, "/response?download=1"), caller, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "we confirm the result", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "letter.txt")

	w = a.do(http.MethodPost, ticketPath(tk, "/response/shred"), caller, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBulkOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	first := a.submit("certificate", "pay-4")
	second := a.submit("attestation", "pay-5")

	w := a.do(http.MethodPost, "/api/v1/tickets/bulk", caller, map[string]any{
		"action":     "set_priority",
		"ticket_ids": []any{first["id"], second["id"], 4242},
		"params":     map[string]any{"priority": "urgent"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode(t, w)
	assert.EqualValues(t, 2, res["success_count"])
	assert.EqualValues(t, 1, res["failure_count"])

	w = a.do(http.MethodPost, "/api/v1/tickets/bulk", caller, map[string]any{"action": "assign", "ticket_ids": []any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(http.MethodGet, "/api/v1/statistics?from=2000-01-01&period=month", caller, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 2, decode(t, w)["total"])
}
