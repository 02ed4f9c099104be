package model

import (
	"time"

	"gorm.io/datatypes"
)

type TicketStatus string

const (
	TicketStatusPendingPayment   TicketStatus = "pending_payment"
	TicketStatusPaid             TicketStatus = "paid"
	TicketStatusInProcess        TicketStatus = "in_process"
	TicketStatusReadyForDispatch TicketStatus = "ready_for_dispatch"
	TicketStatusDispatched       TicketStatus = "dispatched"
	TicketStatusReceived         TicketStatus = "received"
	TicketStatusCompleted        TicketStatus = "completed"
	TicketStatusCancelled        TicketStatus = "cancelled"
)

// Statuses lists every status in workflow order.
var Statuses = []TicketStatus{
	TicketStatusPendingPayment,
	TicketStatusPaid,
	TicketStatusInProcess,
	TicketStatusReadyForDispatch,
	TicketStatusDispatched,
	TicketStatusReceived,
	TicketStatusCompleted,
	TicketStatusCancelled,
}

func (s TicketStatus) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal: из completed и cancelled переходов нет.
func (s TicketStatus) Terminal() bool {
	return s == TicketStatusCompleted || s == TicketStatusCancelled
}

// Active reports whether responses may be produced or signed for a ticket in this status.
func (s TicketStatus) Active() bool {
	return s != TicketStatusPendingPayment && s != TicketStatusCancelled
}

type TicketKind string

const (
	KindCertificate  TicketKind = "certificate"
	KindAttestation  TicketKind = "attestation"
	KindConfirmation TicketKind = "confirmation"
	KindVerification TicketKind = "verification"
)

var Kinds = []TicketKind{KindCertificate, KindAttestation, KindConfirmation, KindVerification}

func (k TicketKind) Valid() bool {
	switch k {
	case KindCertificate, KindAttestation, KindConfirmation, KindVerification:
		return true
	}
	return false
}

// HasResponse reports whether tickets of this kind carry a ConfirmationResponse.
func (k TicketKind) HasResponse() bool {
	return k == KindConfirmation || k == KindVerification
}

// Prefix is the request number prefix for the kind.
func (k TicketKind) Prefix() string {
	switch k {
	case KindCertificate:
		return "CRT"
	case KindAttestation:
		return "ATT"
	case KindConfirmation:
		return "CNF"
	case KindVerification:
		return "VRF"
	}
	return "REQ"
}

type RequestScope string

const (
	ScopeSingle RequestScope = "single"
	ScopeBulk   RequestScope = "bulk"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type ServiceType string

const (
	ServiceStandard ServiceType = "standard"
	ServiceExpress  ServiceType = "express"
)

func (s ServiceType) Valid() bool {
	return s == ServiceStandard || s == ServiceExpress
}

// CertificateDetail: одна запись о сертификате внутри заявки (bulk-заявка содержит несколько).
type CertificateDetail struct {
	StudentName        string `json:"student_name"`
	RegistrationNumber string `json:"registration_number"`
	Programme          string `json:"programme,omitempty"`
	GraduationYear     int    `json:"graduation_year,omitempty"`
	CertificateNumber  string `json:"certificate_number,omitempty"`
	Institution        string `json:"institution,omitempty"`
}

type Ticket struct {
	ID            uint64       `gorm:"primaryKey" json:"id"`
	RequestNumber string       `gorm:"type:varchar(32);uniqueIndex;not null" json:"request_number"`
	Kind          TicketKind   `gorm:"type:varchar(32);index;not null" json:"kind"`
	Scope         RequestScope `gorm:"type:varchar(16);not null" json:"scope"`
	Status        TicketStatus `gorm:"type:varchar(32);index;not null" json:"status"`
	Priority      Priority     `gorm:"type:varchar(16);index;not null" json:"priority"`
	ServiceType   ServiceType  `gorm:"type:varchar(16);not null" json:"service_type"`

	SubmitterName   string `gorm:"type:varchar(255);not null" json:"submitter_name"`
	SubmitterEmail  string `gorm:"type:varchar(255);not null" json:"submitter_email"`
	SubmitterPhone  string `gorm:"type:varchar(64)" json:"submitter_phone,omitempty"`
	DeliveryAddress string `gorm:"type:text" json:"delivery_address,omitempty"`

	Details datatypes.JSONSlice[CertificateDetail] `gorm:"type:jsonb;not null" json:"details"`

	AssignedTo         string  `gorm:"type:varchar(64);index" json:"assigned_to,omitempty"`
	PaymentID          *string `gorm:"type:varchar(64);uniqueIndex" json:"payment_id,omitempty"`
	TrackingNumber     string  `gorm:"type:varchar(128)" json:"tracking_number,omitempty"`
	Notes              string  `gorm:"type:text" json:"notes,omitempty"`
	CancellationReason string  `gorm:"type:text" json:"cancellation_reason,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	ReceivedAt   *time.Time `json:"received_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`

	Version int64 `gorm:"not null;default:1" json:"version"`
}

// Assigned reports whether a staff member owns the ticket.
func (t *Ticket) Assigned() bool {
	return t.AssignedTo != ""
}

// Clone returns a deep copy, so callers can mutate it without touching shared state.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	if t.Details != nil {
		c.Details = append(datatypes.JSONSlice[CertificateDetail](nil), t.Details...)
	}
	if t.PaymentID != nil {
		id := *t.PaymentID
		c.PaymentID = &id
	}
	c.PaidAt = cloneTime(t.PaidAt)
	c.DispatchedAt = cloneTime(t.DispatchedAt)
	c.ReceivedAt = cloneTime(t.ReceivedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.CancelledAt = cloneTime(t.CancelledAt)
	return &c
}

type ResponseSource string

const (
	ResponseGenerated ResponseSource = "generated"
	ResponseUploaded  ResponseSource = "uploaded"
)

// ConfirmationResponse is the institution's reply to a confirmation or verification ticket.
type ConfirmationResponse struct {
	ID        uint64         `gorm:"primaryKey" json:"id"`
	TicketID  uint64         `gorm:"uniqueIndex;not null" json:"ticket_id"`
	Source    ResponseSource `gorm:"type:varchar(16);not null" json:"source"`
	FileRef   string         `gorm:"type:varchar(512);not null" json:"file_ref"`
	FileName  string         `gorm:"type:varchar(255)" json:"file_name,omitempty"`
	Revision  int            `gorm:"not null;default:1" json:"revision"`
	CreatedBy string         `gorm:"type:varchar(64)" json:"created_by,omitempty"`

	Signed   bool       `gorm:"not null;default:false" json:"signed"`
	SignedAt *time.Time `json:"signed_at,omitempty"`
	SignedBy string     `gorm:"type:varchar(64)" json:"signed_by,omitempty"`

	Revoked          bool       `gorm:"not null;default:false" json:"revoked"`
	RevocationReason string     `gorm:"type:text" json:"revocation_reason,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevokedBy        string     `gorm:"type:varchar(64)" json:"revoked_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Visible reports whether the original requester may see the response.
func (r *ConfirmationResponse) Visible() bool {
	return r != nil && r.Signed && !r.Revoked
}

func (r *ConfirmationResponse) Clone() *ConfirmationResponse {
	if r == nil {
		return nil
	}
	c := *r
	c.SignedAt = cloneTime(r.SignedAt)
	c.RevokedAt = cloneTime(r.RevokedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
