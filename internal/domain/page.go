package domain

import "time"

// CachedPage is a remote page or asset kept for offline browsing.
// Key is the canonical remote path.
type CachedPage struct {
	Key         string    `json:"key"`
	Body        []byte    `json:"-"`
	ContentType string    `json:"content_type"`
	Revision    string    `json:"revision,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
	// ExpiresAt is a freshness hint from the remote; zero means none.
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	LastAccess time.Time `json:"last_access"`
	// Size is the uncompressed body length, the unit of the cache budget.
	Size int64 `json:"size"`
}

// Stale reports whether the expiry hint has passed at now.
func (p CachedPage) Stale(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// EvictionResult summarizes one budget enforcement pass.
type EvictionResult struct {
	Evicted    int
	FreedBytes int64
	TotalBytes int64
}
