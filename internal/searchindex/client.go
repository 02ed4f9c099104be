package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/psds-microservice/certificate-request-service/internal/model"
)

// Client отправляет заявки в search-service для индексации (best-effort, не блокирует API).
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient возвращает клиент. Если baseURL пустой, IndexTicket ничего не делает.
func NewClient(baseURL string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		log: log,
	}
}

func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// IndexTicketPayload: тело POST /search/index/ticket.
type IndexTicketPayload struct {
	TicketID      int64    `json:"ticket_id"`
	RequestNumber string   `json:"request_number"`
	Kind          string   `json:"kind"`
	Status        string   `json:"status"`
	Priority      string   `json:"priority"`
	AssignedTo    string   `json:"assigned_to"`
	Submitter     string   `json:"submitter"`
	Students      []string `json:"students"`
	Registrations []string `json:"registration_numbers"`
	Notes         string   `json:"notes"`
}

func payloadFor(t *model.Ticket) IndexTicketPayload {
	p := IndexTicketPayload{
		TicketID:      int64(t.ID),
		RequestNumber: t.RequestNumber,
		Kind:          string(t.Kind),
		Status:        string(t.Status),
		Priority:      string(t.Priority),
		AssignedTo:    t.AssignedTo,
		Submitter:     t.SubmitterName,
		Students:      []string{},
		Registrations: []string{},
		Notes:         t.Notes,
	}
	for _, d := range t.Details {
		p.Students = append(p.Students, d.StudentName)
		p.Registrations = append(p.Registrations, d.RegistrationNumber)
	}
	return p
}

// IndexTicket отправляет заявку в search-service и возвращает ошибку; вызывающий решает, логировать ли её.
func (c *Client) IndexTicket(ctx context.Context, t *model.Ticket) error {
	if c.baseURL == "" {
		return nil
	}
	body, err := json.Marshal(payloadFor(t))
	if err != nil {
		return fmt.Errorf("searchindex: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search/index/ticket", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("searchindex: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("searchindex: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("searchindex: status %d for ticket %d", resp.StatusCode, t.ID)
	}
	return nil
}

// IndexTicketAsync вызывает IndexTicket в отдельной горутине (не блокирует ответ API).
func (c *Client) IndexTicketAsync(t *model.Ticket) {
	if c.baseURL == "" {
		return
	}
	t = t.Clone()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.IndexTicket(ctx, t); err != nil {
			c.log.Warn("search index failed", "ticket_id", t.ID, "error", err)
		}
	}()
}
