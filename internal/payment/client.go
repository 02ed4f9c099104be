// Package payment is the lookup client for payment-service. Payments are owned there;
// this service only reads their status to reconcile tickets.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/psds-microservice/certificate-request-service/internal/errs"
	"github.com/psds-microservice/certificate-request-service/internal/model"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient возвращает клиент. Если baseURL пустой, Lookup всегда отвечает ErrNoPaymentFound.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Lookup читает GET /payments/{id}. 404 означает неизвестный платёж.
func (c *Client) Lookup(ctx context.Context, paymentID string) (model.PaymentRecord, error) {
	var rec model.PaymentRecord
	if c.baseURL == "" {
		return rec, errs.New(errs.ErrNoPaymentFound, 0, "", "payment service not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return rec, fmt.Errorf("payment: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return rec, fmt.Errorf("payment: request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return rec, errs.New(errs.ErrNoPaymentFound, 0, "", "payment %s unknown to payment service", paymentID)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return rec, fmt.Errorf("payment: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return rec, fmt.Errorf("payment: decode: %w", err)
	}
	if rec.ID == "" {
		rec.ID = paymentID
	}
	if !rec.Status.Valid() {
		return rec, fmt.Errorf("payment: unknown status %q for %s", rec.Status, paymentID)
	}
	return rec, nil
}
