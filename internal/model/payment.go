package model

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentReconciled PaymentStatus = "reconciled"
	PaymentFailed     PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	return s == PaymentPending || s == PaymentReconciled || s == PaymentFailed
}

// PaymentRecord belongs to the payment service; tickets only reference it by ID.
type PaymentRecord struct {
	ID       string        `json:"id"`
	Status   PaymentStatus `json:"status"`
	Amount   int64         `json:"amount"`
	Currency string        `json:"currency,omitempty"`
}

// PaymentSignal is an external payment status notification (callback or event). It only
// triggers a lookup; the PaymentRecord from payment-service is what gets applied.
type PaymentSignal struct {
	PaymentID string        `json:"payment_id"`
	Status    PaymentStatus `json:"status"`
	Amount    int64         `json:"amount"`
	Currency  string        `json:"currency,omitempty"`
}
