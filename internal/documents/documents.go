// Package documents stores confirmation response files and renders generated ones.
package documents

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/psds-microservice/certificate-request-service/internal/model"
)

// Storage keeps response files. The returned ref is opaque to callers.
type Storage interface {
	Put(ctx context.Context, ticketID uint64, name string, content []byte) (ref string, err error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

type Document struct {
	Name    string
	Content []byte
}

// Renderer produces the institution's reply for a ticket.
type Renderer interface {
	Render(t *model.Ticket, revision int, issuedAt time.Time) (Document, error)
}

// JSONRenderer renders a machine-readable confirmation letter. It stands in for the PDF
// renderer, which lives outside this service.
type JSONRenderer struct {
	Institution string
}

type letter struct {
	RequestNumber string                    `json:"request_number"`
	Kind          model.TicketKind          `json:"kind"`
	Institution   string                    `json:"institution,omitempty"`
	Addressee     string                    `json:"addressee"`
	Revision      int                       `json:"revision"`
	IssuedAt      time.Time                 `json:"issued_at"`
	Records       []model.CertificateDetail `json:"records"`
}

func (r JSONRenderer) Render(t *model.Ticket, revision int, issuedAt time.Time) (Document, error) {
	body, err := json.MarshalIndent(letter{
		RequestNumber: t.RequestNumber,
		Kind:          t.Kind,
		Institution:   r.Institution,
		Addressee:     t.SubmitterName,
		Revision:      revision,
		IssuedAt:      issuedAt.UTC(),
		Records:       t.Details,
	}, "", "  ")
	if err != nil {
		return Document{}, fmt.Errorf("render %s: %w", t.RequestNumber, err)
	}
	return Document{
		Name:    fmt.Sprintf("%s-r%d.json", t.RequestNumber, revision),
		Content: body,
	}, nil
}
