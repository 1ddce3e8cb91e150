package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lucasferrand/mangetout-backend/pkg/enums"
)

// AuditEntry records who performed an administrative ledger mutation, when,
// and why, with before/after snapshots. Append-only.
type AuditEntry struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Action    enums.AuditAction `gorm:"column:action;type:audit_action;not null"`
	OrderID   uuid.UUID         `gorm:"column:order_id;type:uuid;not null"`
	ActorID   uuid.UUID         `gorm:"column:actor_id;type:uuid;not null"`
	Reason    string            `gorm:"column:reason;not null"`
	Before    json.RawMessage   `gorm:"column:before;type:jsonb"`
	After     json.RawMessage   `gorm:"column:after;type:jsonb"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime"`
}
