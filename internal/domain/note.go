package domain

import (
	"sort"
	"time"
)

type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusError   SyncStatus = "error"
)

// Note is the only persisted entity. The same shape travels on the wire and
// lives in the local cache; SyncStatus is meaningful only on the device.
type Note struct {
	ID         string     `json:"id" validate:"required"`
	Content    string     `json:"content"`
	Tags       []string   `json:"tags"`
	Links      []string   `json:"links"`
	Version    int64      `json:"version" validate:"min=1"`
	SyncStatus SyncStatus `json:"syncStatus,omitempty"`
	Deleted    int        `json:"deleted" validate:"oneof=0 1"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastEdited *time.Time `json:"lastEdited,omitempty"`
}

func (n *Note) IsDeleted() bool {
	return n.Deleted == 1
}

// EditedAt is the timestamp used to order concurrent edits.
func (n *Note) EditedAt() time.Time {
	if n.LastEdited != nil {
		return *n.LastEdited
	}
	return n.CreatedAt
}

// Normalize replaces absent sets with empty ones and drops duplicates.
func (n *Note) Normalize() {
	n.Tags = dedupe(n.Tags)
	n.Links = dedupe(n.Links)
}

func (n *Note) Clone() *Note {
	if n == nil {
		return nil
	}
	c := *n
	c.Tags = append([]string{}, n.Tags...)
	c.Links = append([]string{}, n.Links...)
	if n.LastEdited != nil {
		t := *n.LastEdited
		c.LastEdited = &t
	}
	return &c
}

// Snapshot is the copy sent to the remote: sync status is a local concern.
func (n *Note) Snapshot() *Note {
	c := n.Clone()
	c.SyncStatus = ""
	c.Normalize()
	return c
}

// SameContent reports whether two records carry the same user-visible state.
// Tags and links are compared as sets.
func (n *Note) SameContent(other *Note) bool {
	if other == nil {
		return false
	}
	return n.ID == other.ID &&
		n.Content == other.Content &&
		n.Deleted == other.Deleted &&
		sameSet(n.Tags, other.Tags) &&
		sameSet(n.Links, other.Links)
}

// Equal is SameContent plus version and timestamps.
func (n *Note) Equal(other *Note) bool {
	if !n.SameContent(other) || n.Version != other.Version {
		return false
	}
	if !n.CreatedAt.Equal(other.CreatedAt) {
		return false
	}
	switch {
	case n.LastEdited == nil && other.LastEdited == nil:
		return true
	case n.LastEdited == nil || other.LastEdited == nil:
		return false
	default:
		return n.LastEdited.Equal(*other.LastEdited)
	}
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func sameSet(a, b []string) bool {
	a, b = dedupe(a), dedupe(b)
	if len(a) != len(b) {
		return false
	}
	sa := append([]string{}, a...)
	sb := append([]string{}, b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

// SyncNoteResponse is the body of an accepted push.
type SyncNoteResponse struct {
	Success bool `json:"success"`
}

// SyncConflictResponse is the body of a rejected push.
type SyncConflictResponse struct {
	Conflict      bool  `json:"conflict"`
	ServerVersion *Note `json:"serverVersion"`
}

type PingResponse struct {
	Ping bool `json:"ping"`
}
