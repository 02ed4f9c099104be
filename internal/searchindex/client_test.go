package searchindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/psds-microservice/certificate-request-service/internal/logger"
	"github.com/psds-microservice/certificate-request-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexTicket(t *testing.T) {
	var got IndexTicketPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/index/ticket", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, logger.Discard())
	tk := &model.Ticket{
		ID:            3,
		RequestNumber: "VRF-20261014-DEADBEEF",
		Kind:          model.KindVerification,
		Status:        model.TicketStatusPaid,
		Priority:      model.PriorityHigh,
		SubmitterName: "Acme HR",
		Details: []model.CertificateDetail{
			{StudentName: "Ada", RegistrationNumber: "R-1"},
			{StudentName: "Bola", RegistrationNumber: "R-2"},
		},
	}
	require.NoError(t, c.IndexTicket(context.Background(), tk))
	assert.Equal(t, int64(3), got.TicketID)
	assert.Equal(t, "VRF-20261014-DEADBEEF", got.RequestNumber)
	assert.Equal(t, []string{"Ada", "Bola"}, got.Students)
	assert.Equal(t, []string{"R-1", "R-2"}, got.Registrations)
}

func TestIndexTicket_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, logger.Discard()).IndexTicket(context.Background(), &model.Ticket{ID: 1})
	assert.ErrorContains(t, err, "status 502")

	disabled := NewClient("", nil)
	assert.False(t, disabled.Enabled())
	assert.NoError(t, disabled.IndexTicket(context.Background(), &model.Ticket{ID: 1}))
}
