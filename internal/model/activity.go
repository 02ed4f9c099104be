package model

import (
	"time"

	"gorm.io/datatypes"
)

type ActionKind string

const (
	ActionStatusChange   ActionKind = "status_change"
	ActionAssignment     ActionKind = "assignment"
	ActionUnassignment   ActionKind = "unassignment"
	ActionPriorityChange ActionKind = "priority_change"
	ActionComment        ActionKind = "comment"
	ActionReconciliation ActionKind = "reconciliation"
	ActionResponse       ActionKind = "response"
)

// SystemActor is recorded as the actor of entries produced without a staff member
// (ticket submission, payment reconciliation).
const SystemActor = "system"

// ActivityEntry is one append-only ledger record. Entries are never updated or deleted.
type ActivityEntry struct {
	ID        uint64            `gorm:"primaryKey" json:"id"`
	TicketID  uint64            `gorm:"index;not null" json:"ticket_id"`
	ActorID   string            `gorm:"type:varchar(64);not null" json:"actor_id"`
	Kind      ActionKind        `gorm:"type:varchar(32);index;not null" json:"kind"`
	Payload   datatypes.JSONMap `gorm:"type:jsonb" json:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func (ActivityEntry) TableName() string {
	return "activity_entries"
}
