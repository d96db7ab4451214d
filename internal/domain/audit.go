// internal/domain/audit.go
package domain

import (
	"encoding/json"
	"time"
)

type AuditEntityType string

const (
	AuditEntityTransaction AuditEntityType = "transaction"
	AuditEntityLedgerEntry AuditEntityType = "ledger_entry"
	AuditEntityBalance     AuditEntityType = "balance"
)

type AuditAction string

const (
	AuditActionCreate AuditAction = "create"
	AuditActionUpdate AuditAction = "update"
)

// AuditTrailEntry is an append-only record of a state change. Checksum covers every other field.
type AuditTrailEntry struct {
	ID         string          `db:"id" json:"id"`
	EntityType AuditEntityType `db:"entity_type" json:"entity_type"`
	EntityID   string          `db:"entity_id" json:"entity_id"`
	Action     AuditAction     `db:"action" json:"action"`
	OldValues  json.RawMessage `db:"old_values" json:"old_values,omitempty"`
	NewValues  json.RawMessage `db:"new_values" json:"new_values"`
	Actor      string          `db:"actor" json:"actor"`
	CreatedAt  time.Time       `db:"created_at" json:"timestamp"`
	Checksum   string          `db:"checksum" json:"checksum"`
}
