package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maintrack/offsync/internal/adapters/log"
	"github.com/maintrack/offsync/internal/domain"
	"github.com/maintrack/offsync/internal/ports"
)

func newTestRemote(t *testing.T, h http.HandlerFunc) *Remote {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewRemote(srv.Client(), RemoteConfig{
		ServiceURL: srv.URL + "/",
		AuthToken:  "secret",
		ClientID:   "client-1",
	}, log.NewNoopLogger())
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"ok", http.StatusOK, false},
		{"no content", http.StatusNoContent, false},
		{"unavailable", http.StatusServiceUnavailable, true},
		{"unauthorized", http.StatusUnauthorized, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRemote(t, func(w http.ResponseWriter, req *http.Request) {
				if req.URL.Path != healthEndpoint {
					t.Errorf("path = %s", req.URL.Path)
				}
				w.WriteHeader(tt.status)
			})
			err := r.Probe(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Probe() err = %v, wantErr %v", err, tt.wantErr)
			}
			var pe *domain.ProbeError
			if err != nil && !errors.As(err, &pe) {
				t.Fatalf("error %T is not a ProbeError", err)
			}
		})
	}
}

func TestProbe_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r := NewRemote(http.DefaultClient, RemoteConfig{ServiceURL: url}, log.NewNoopLogger())
	var pe *domain.ProbeError
	if err := r.Probe(context.Background()); !errors.As(err, &pe) {
		t.Fatalf("Probe() = %v, want ProbeError", err)
	}
}

func TestPush_Headers(t *testing.T) {
	m := domain.Mutation{
		OpID: "op-1", EntityType: "work_order", EntityKey: "R1", Kind: domain.OpUpdate,
		Payload: json.RawMessage(`{"status":"done"}`), LocalTime: time.Unix(100, 0),
	}
	r := newTestRemote(t, func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost || req.URL.Path != mutationsEndpoint {
			t.Errorf("request = %s %s", req.Method, req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if got := req.Header.Get("Idempotency-Key"); got != "op-1" {
			t.Errorf("Idempotency-Key = %q", got)
		}
		if got := req.Header.Get("X-Offsync-Client-Id"); got != "client-1" {
			t.Errorf("X-Offsync-Client-Id = %q", got)
		}
		var got domain.Mutation
		body, _ := io.ReadAll(req.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if got.EntityKey != "R1" || string(got.Payload) != `{"status":"done"}` {
			t.Errorf("body = %s", body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"applied"}`))
	})

	res, err := r.Push(context.Background(), m)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if res.Outcome != ports.Applied {
		t.Fatalf("outcome = %s", res.Outcome)
	}
}

func TestPush_Outcomes(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		want        ports.PushOutcome
		wantReason  string
		wantCurrent string
		wantRev     string
		wantServer  bool
	}{
		{name: "applied", status: 200, body: `{"status":"applied"}`, want: ports.Applied},
		{name: "applied with revision", status: 201, body: `{"status":"applied","revision":"r10"}`, want: ports.Applied, wantRev: "r10"},
		{name: "already applied", status: 200, body: `{"status":"already_applied"}`, want: ports.AlreadyApplied},
		{name: "conflict", status: 409, body: `{"status":"conflict","current":{"revision":"r9","updated_at":"2026-01-02T03:04:05Z","body":{"a":1}}}`, want: ports.Conflict, wantCurrent: "r9"},
		{name: "rejected", status: 422, body: `{"status":"rejected","reason":"closed orders are read-only"}`, want: ports.Rejected, wantReason: "closed orders are read-only"},
		{name: "bad request without body", status: 400, body: ``, wantServer: true},
		{name: "conflict without current", status: 409, body: `{"status":"conflict"}`, wantServer: true},
		{name: "server error", status: 500, body: `boom`, wantServer: true},
		{name: "forbidden", status: 403, body: `nope`, wantServer: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRemote(t, func(w http.ResponseWriter, req *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			m := domain.Mutation{OpID: "op", EntityType: "work_order", EntityKey: "R1", Kind: domain.OpUpdate}
			res, err := r.Push(context.Background(), m)
			if tt.wantServer {
				var se *domain.ServerError
				if !errors.As(err, &se) || se.Status != tt.status {
					t.Fatalf("Push() err = %v, want ServerError %d", err, tt.status)
				}
				return
			}
			if err != nil {
				t.Fatalf("Push: %v", err)
			}
			if res.Outcome != tt.want {
				t.Fatalf("outcome = %s, want %s", res.Outcome, tt.want)
			}
			if res.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", res.Reason, tt.wantReason)
			}
			if res.Revision != tt.wantRev {
				t.Errorf("revision = %q, want %q", res.Revision, tt.wantRev)
			}
			if tt.wantCurrent != "" {
				if res.Current == nil || res.Current.Revision != tt.wantCurrent {
					t.Fatalf("current = %+v", res.Current)
				}
				if res.Current.EntityKey != "R1" || res.Current.EntityType != "work_order" {
					t.Errorf("current ref not filled: %+v", res.Current)
				}
			}
		})
	}
}

func TestPush_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r := NewRemote(http.DefaultClient, RemoteConfig{ServiceURL: url}, log.NewNoopLogger())
	_, err := r.Push(context.Background(), domain.Mutation{OpID: "op", EntityType: "a", EntityKey: "b", Kind: domain.OpCreate})
	if !domain.IsTransient(err) {
		t.Fatalf("Push() err = %v, want TransientError", err)
	}
}

func TestPull(t *testing.T) {
	r := newTestRemote(t, func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		if req.URL.Path != changesEndpoint || q.Get("collection") != "asset" || q.Get("limit") != "50" {
			t.Errorf("request = %s", req.URL)
		}
		switch q.Get("since") {
		case "0":
			_, _ = w.Write([]byte(`{"changes":[{"entity_key":"A1","revision":"3","body":{"n":1}},{"entity_key":"A2","deleted":true}],"cursor":7,"has_more":true}`))
		case "7":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("since = %s", q.Get("since"))
		}
	})

	res, err := r.Pull(context.Background(), "asset", 0, 50)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(res.Changes) != 2 || res.NextCursor != 7 || !res.HasMore {
		t.Fatalf("result = %+v", res)
	}
	if res.Changes[0].EntityType != "asset" || res.Changes[0].CacheKey() != "/api/asset/A1" {
		t.Errorf("change[0] = %+v", res.Changes[0])
	}
	if !res.Changes[1].Deleted {
		t.Errorf("change[1] should be a delete")
	}

	res, err = r.Pull(context.Background(), "asset", 7, 50)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(res.Changes) != 0 || res.NextCursor != 7 || res.HasMore {
		t.Fatalf("no-content result = %+v", res)
	}
}

func TestPull_ServerError(t *testing.T) {
	r := newTestRemote(t, func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	})
	_, err := r.Pull(context.Background(), "asset", 0, 0)
	var se *domain.ServerError
	if !errors.As(err, &se) || se.Status != http.StatusServiceUnavailable || se.Body != "maintenance" {
		t.Fatalf("Pull() err = %v", err)
	}
}
