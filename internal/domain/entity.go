package domain

import (
	"encoding/json"
	"time"
)

// EntityState is the remote service's current view of one entity, as
// returned with a conflict or in a pulled change.
type EntityState struct {
	EntityType  string          `json:"entity_type"`
	EntityKey   string          `json:"entity_key"`
	Revision    string          `json:"revision"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Deleted     bool            `json:"deleted,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	ContentType string          `json:"content_type,omitempty"`
	// Path overrides the canonical cache key when the remote serves the
	// entity elsewhere.
	Path string `json:"path,omitempty"`
}

// Ref returns the entity reference.
func (e EntityState) Ref() EntityRef {
	return EntityRef{Type: e.EntityType, Key: e.EntityKey}
}

// CacheKey returns the page key this state is cached under.
func (e EntityState) CacheKey() string {
	if e.Path != "" {
		return e.Path
	}
	return e.Ref().Path()
}

// Page converts the state into a cache entry captured at now.
func (e EntityState) Page(now time.Time) CachedPage {
	ct := e.ContentType
	if ct == "" {
		ct = "application/json"
	}
	return CachedPage{
		Key:         e.CacheKey(),
		Body:        []byte(e.Body),
		ContentType: ct,
		Revision:    e.Revision,
		CapturedAt:  now,
	}
}
