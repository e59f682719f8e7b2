package domain

import "time"

// Cursor records the last successfully applied revision of a collection's
// change stream. Revisions are opaque to the client beyond their order.
type Cursor struct {
	Collection string    `json:"collection"`
	Revision   int64     `json:"revision"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Change is one entry of a pulled batch.
type Change = EntityState

// Stats is a point-in-time summary of the local store.
type Stats struct {
	Pending     int   `json:"pending"`
	DeadLetters int   `json:"dead_letters"`
	Discards    int   `json:"discards"`
	Pages       int   `json:"pages"`
	CacheBytes  int64 `json:"cache_bytes"`
	CacheBudget int64 `json:"cache_budget"`
}
