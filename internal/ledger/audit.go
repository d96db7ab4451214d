// internal/ledger/audit.go
package ledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/repository"
)

// AuditTrail appends checksummed audit rows through the repositories of the caller's unit of work.
type AuditTrail struct {
	actor string
	now   func() time.Time
}

// NewAuditTrail creates an AuditTrail that stamps rows with actor.
func NewAuditTrail(actor string) *AuditTrail {
	return &AuditTrail{actor: actor, now: time.Now}
}

// Record appends one audit row. oldValues may be nil for creations.
func (a *AuditTrail) Record(
	ctx context.Context,
	repo repository.AuditRepository,
	entityType domain.AuditEntityType,
	entityID string,
	action domain.AuditAction,
	oldValues, newValues any,
) (*domain.AuditTrailEntry, error) {
	entry := &domain.AuditTrailEntry{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Actor:      a.actor,
		// postgres keeps microseconds
		CreatedAt: a.now().UTC().Truncate(time.Microsecond),
	}
	var err error
	if oldValues != nil {
		if entry.OldValues, err = canonicalJSON(oldValues); err != nil {
			return nil, fmt.Errorf("audit: old values of %s %s: %w", entityType, entityID, err)
		}
	}
	if entry.NewValues, err = canonicalJSON(newValues); err != nil {
		return nil, fmt.Errorf("audit: new values of %s %s: %w", entityType, entityID, err)
	}
	if entry.Checksum, err = Checksum(*entry); err != nil {
		return nil, err
	}
	if err := repo.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("audit: append %s %s: %w", entityType, entityID, err)
	}
	return entry, nil
}

// Checksum is the hex sha256 of the canonical serialization of every field but the checksum itself.
func Checksum(entry domain.AuditTrailEntry) (string, error) {
	oldValues, err := canonicalRaw(entry.OldValues)
	if err != nil {
		return "", err
	}
	newValues, err := canonicalRaw(entry.NewValues)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(struct {
		ID         string          `json:"id"`
		EntityType string          `json:"entity_type"`
		EntityID   string          `json:"entity_id"`
		Action     string          `json:"action"`
		OldValues  json.RawMessage `json:"old_values"`
		NewValues  json.RawMessage `json:"new_values"`
		Actor      string          `json:"actor"`
		Timestamp  string          `json:"timestamp"`
	}{
		ID:         entry.ID,
		EntityType: string(entry.EntityType),
		EntityID:   entry.EntityID,
		Action:     string(entry.Action),
		OldValues:  oldValues,
		NewValues:  newValues,
		Actor:      entry.Actor,
		Timestamp:  entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("audit: checksum payload: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Verify reports whether the stored checksum still matches the row.
func Verify(entry domain.AuditTrailEntry) bool {
	sum, err := Checksum(entry)
	return err == nil && sum == entry.Checksum
}

func canonicalJSON(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return canonicalRaw(raw)
}

// canonicalRaw re-encodes a document with sorted object keys and no insignificant whitespace,
// so a row read back from a JSONB column hashes the same as the one written.
func canonicalRaw(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return json.RawMessage("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("audit: canonicalize: %w", err)
	}
	return json.Marshal(v)
}
