// Package collab implements operational-transform merging of concurrent
// edits from multiple replicas, plus per-session membership and broadcast.
package collab

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the closed set of operation kinds.
type Type string

const (
	TypeInsert Type = "insert"
	TypeUpdate Type = "update"
	TypeDelete Type = "delete"
	TypeMove   Type = "move"
)

// Op is one serialized edit intent. The wire shape matches the transport
// record: {type, block_id, parent_id?, left_id?, content?, timestamp,
// origin_participant}. ID makes apply at-most-once.
type Op struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	BlockID    uuid.UUID         `json:"block_id"`
	ParentID   uuid.UUID         `json:"parent_id,omitempty"`
	LeftID     uuid.UUID         `json:"left_id,omitempty"`
	Page       string            `json:"page,omitempty"`
	Content    string            `json:"content,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	Cascade    bool              `json:"cascade,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Origin     string            `json:"origin_participant"`

	// Dropped marks an op that a transform degraded to a no-op. It is still
	// broadcast for auditability but not applied.
	Dropped bool `json:"dropped,omitempty"`
}

// Before orders operations deterministically: timestamp, then origin, then
// op ID as final tie-break. All replicas agree on this order.
func (o Op) Before(other Op) bool {
	if !o.Timestamp.Equal(other.Timestamp) {
		return o.Timestamp.Before(other.Timestamp)
	}
	if o.Origin != other.Origin {
		return o.Origin < other.Origin
	}
	return o.ID < other.ID
}

// sameSlot reports whether two ops target the same (parent, left) insertion
// point. A (Nil, Nil) slot names the front of a root chain, and root chains
// are per page, so that slot only collides when both ops address the same
// page. Any non-nil handle pins the slot to one chain already.
func sameSlot(a, b Op) bool {
	if a.ParentID != b.ParentID || a.LeftID != b.LeftID {
		return false
	}
	if a.ParentID != uuid.Nil || a.LeftID != uuid.Nil {
		return true
	}
	return pageKey(a.Page) == pageKey(b.Page)
}

// pageKey matches the store's page-name normalization.
func pageKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
