package offsync_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/maintrack/offsync/pkg/offsync"
)

// testRemote is a minimal in-memory sync service.
type testRemote struct {
	mu       sync.Mutex
	rev      int64
	entities map[string]offsync.EntityState
	log      []offsync.EntityState
	applied  map[string]bool
	order    []string
	down     bool
	reject   map[string]string
}

func newTestRemote(t *testing.T) (*testRemote, *httptest.Server) {
	t.Helper()
	r := &testRemote{
		entities: make(map[string]offsync.EntityState),
		applied:  make(map[string]bool),
		reject:   make(map[string]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", r.health)
	mux.HandleFunc("/api/sync/mutations", r.mutations)
	mux.HandleFunc("/api/sync/changes", r.changes)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return r, srv
}

func (r *testRemote) setDown(down bool) {
	r.mu.Lock()
	r.down = down
	r.mu.Unlock()
}

func (r *testRemote) health(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	down := r.down
	r.mu.Unlock()
	if down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (r *testRemote) mutations(w http.ResponseWriter, req *http.Request) {
	var m offsync.Mutation
	if err := json.NewDecoder(req.Body).Decode(&m); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	opID := req.Header.Get("Idempotency-Key")
	if r.applied[opID] {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already_applied"})
		return
	}
	if reason, ok := r.reject[m.EntityKey]; ok {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"reason": reason})
		return
	}

	key := m.EntityType + "/" + m.EntityKey
	cur, exists := r.entities[key]
	if exists && m.BaseRevision != "" && cur.Revision != m.BaseRevision {
		writeJSON(w, http.StatusConflict, map[string]any{"current": cur})
		return
	}

	r.rev++
	e := offsync.EntityState{
		EntityType: m.EntityType,
		EntityKey:  m.EntityKey,
		Revision:   strconv.FormatInt(r.rev, 10),
		UpdatedAt:  m.LocalTime,
		Deleted:    m.Kind == offsync.OpDelete,
		Body:       m.Payload,
	}
	r.entities[key] = e
	r.log = append(r.log, e)
	r.applied[opID] = true
	r.order = append(r.order, m.EntityKey+":"+string(m.Kind))
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied", "revision": e.Revision})
}

func (r *testRemote) changes(w http.ResponseWriter, req *http.Request) {
	coll := req.URL.Query().Get("collection")
	since, _ := strconv.ParseInt(req.URL.Query().Get("since"), 10, 64)

	r.mu.Lock()
	defer r.mu.Unlock()
	var out []offsync.EntityState
	for _, e := range r.log {
		rev, _ := strconv.ParseInt(e.Revision, 10, 64)
		if e.EntityType == coll && rev > since {
			out = append(out, e)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": out, "cursor": r.rev})
}

// seed inserts a remote-side write as if another client made it.
func (r *testRemote) seed(typ, key, body string, at time.Time) offsync.EntityState {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rev++
	e := offsync.EntityState{
		EntityType: typ,
		EntityKey:  key,
		Revision:   strconv.FormatInt(r.rev, 10),
		UpdatedAt:  at,
		Body:       json.RawMessage(body),
	}
	r.entities[typ+"/"+key] = e
	r.log = append(r.log, e)
	return e
}

func (r *testRemote) Order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
