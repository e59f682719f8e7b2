package localapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maintrack/offsync/internal/domain"
	"github.com/maintrack/offsync/internal/ports"
)

const (
	capturedAtHeader = "X-Offsync-Captured-At"
	expiresHeader    = "X-Offsync-Expires"
	staleHeader      = "X-Offsync-Stale"
)

type statusResponse struct {
	Connectivity string       `json:"connectivity"`
	Phase        string       `json:"phase"`
	Stats        domain.Stats `json:"stats"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Connectivity: s.svc.Connectivity().String(),
		Phase:        s.svc.Phase().String(),
		Stats:        stats,
	})
}

func (s *Server) handleSync(w http.ResponseWriter, _ *http.Request) {
	s.svc.SyncNow()
	w.WriteHeader(http.StatusAccepted)
}

// handleGetPage serves a cached page as the remote served it. Metadata
// travels in headers so the body stays byte-identical.
func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	key := "/" + chi.URLParam(r, "*")
	page, err := s.svc.GetPage(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	h := w.Header()
	h.Set("Content-Type", page.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(page.Body)))
	h.Set(capturedAtHeader, page.CapturedAt.UTC().Format(http.TimeFormat))
	if page.Revision != "" {
		h.Set("ETag", strconv.Quote(page.Revision))
	}
	if !page.ExpiresAt.IsZero() {
		h.Set(expiresHeader, page.ExpiresAt.UTC().Format(http.TimeFormat))
	}
	if page.Stale(s.now()) {
		h.Set(staleHeader, "1")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page.Body)
}

// maxPageBytes bounds a single page written through the API.
const maxPageBytes = 32 << 20

// handlePutPage caches a page the UI fetched itself. The body is stored
// as sent; ETag becomes the revision and X-Offsync-Expires (an HTTP date)
// the freshness hint.
func (s *Server) handlePutPage(w http.ResponseWriter, r *http.Request) {
	page := domain.CachedPage{
		Key:         "/" + chi.URLParam(r, "*"),
		ContentType: r.Header.Get("Content-Type"),
		Revision:    parseETag(r.Header.Get("ETag")),
		CapturedAt:  s.now(),
	}
	if page.ContentType == "" {
		page.ContentType = "application/octet-stream"
	}
	if v := r.Header.Get(expiresHeader); v != "" {
		t, err := http.ParseTime(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid " + expiresHeader + ": " + err.Error()})
			return
		}
		page.ExpiresAt = t
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPageBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	page.Body = body
	if err := s.svc.PutPage(r.Context(), page); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseETag strips the weak prefix and quotes from an entity tag.
func parseETag(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "W/")
	if u, err := strconv.Unquote(v); err == nil {
		return u
	}
	return v
}

func (s *Server) handleClearPages(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearCache(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.Pending(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(items))
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var m domain.Mutation
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20)).Decode(&m); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed mutation: " + err.Error()})
		return
	}
	id, err := s.svc.Enqueue(r.Context(), m)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"op_id": id})
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.DeadLetters(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(items))
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Requeue(r.Context(), chi.URLParam(r, "opID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Purge(r.Context(), chi.URLParam(r, "opID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDiscards(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.Discards(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(items))
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidMutation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrStoreCorrupted):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("local api request failed", ports.Err(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
