package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"

	"github.com/maintrack/offsync/internal/domain"
	"github.com/maintrack/offsync/internal/ports"
)

const (
	healthEndpoint    = "/api/health"
	mutationsEndpoint = "/api/sync/mutations"
	changesEndpoint   = "/api/sync/changes"

	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 4 << 10
)

// RemoteConfig identifies the remote service and this client to it.
type RemoteConfig struct {
	ServiceURL string
	AuthToken  string
	ClientID   string
	Version    string
}

// Remote implements ports.Remote over the sync HTTP API.
type Remote struct {
	client ports.HTTPClient
	cfg    RemoteConfig
	logger ports.Logger
}

// NewRemote creates a new HTTP remote.
func NewRemote(client ports.HTTPClient, cfg RemoteConfig, logger ports.Logger) *Remote {
	cfg.ServiceURL = strings.TrimRight(cfg.ServiceURL, "/")
	return &Remote{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// Probe checks that the health endpoint answers with 2xx.
func (r *Remote) Probe(ctx context.Context) error {
	req, err := r.newRequest(ctx, http.MethodGet, healthEndpoint, nil)
	if err != nil {
		return &domain.ProbeError{Err: err}
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return &domain.ProbeError{Err: err}
	}
	defer drain(resp.Body)

	if resp.StatusCode/100 != 2 {
		r.logger.Debug("health check failed", ports.Int("status", resp.StatusCode))
		return &domain.ProbeError{Err: fmt.Errorf("health returned %d", resp.StatusCode)}
	}
	return nil
}

type pushResponse struct {
	Status   string              `json:"status"`
	Current  *domain.EntityState `json:"current,omitempty"`
	Reason   string              `json:"reason,omitempty"`
	Revision string              `json:"revision,omitempty"`
}

// Push submits a mutation tagged with its operation id.
func (r *Remote) Push(ctx context.Context, m domain.Mutation) (ports.PushResult, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return ports.PushResult{}, fmt.Errorf("marshal mutation: %w", err)
	}
	req, err := r.newRequest(ctx, http.MethodPost, mutationsEndpoint, bytes.NewReader(body))
	if err != nil {
		return ports.PushResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", m.OpID)

	resp, err := r.client.Do(req)
	if err != nil {
		return ports.PushResult{}, &domain.TransientError{Op: "push " + m.OpID, Err: err}
	}
	defer drain(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ports.PushResult{}, &domain.TransientError{Op: "read push response", Err: err}
	}

	var pr pushResponse
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusConflict,
		http.StatusBadRequest, http.StatusUnprocessableEntity:
		if err := json.Unmarshal(raw, &pr); err != nil && resp.StatusCode/100 != 2 {
			return ports.PushResult{}, serverError(resp.StatusCode, raw)
		}
	default:
		return ports.PushResult{}, serverError(resp.StatusCode, raw)
	}

	switch resp.StatusCode {
	case http.StatusConflict:
		if pr.Current == nil {
			return ports.PushResult{}, serverError(resp.StatusCode, raw)
		}
		if pr.Current.EntityType == "" {
			pr.Current.EntityType = m.EntityType
		}
		if pr.Current.EntityKey == "" {
			pr.Current.EntityKey = m.EntityKey
		}
		return ports.PushResult{Outcome: ports.Conflict, Current: pr.Current}, nil
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		reason := pr.Reason
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return ports.PushResult{Outcome: ports.Rejected, Reason: reason}, nil
	}

	if pr.Status == "already_applied" {
		r.logger.Debug("mutation already applied", ports.String("op_id", m.OpID))
		return ports.PushResult{Outcome: ports.AlreadyApplied, Revision: pr.Revision}, nil
	}
	return ports.PushResult{Outcome: ports.Applied, Revision: pr.Revision}, nil
}

type changesResponse struct {
	Changes []domain.Change `json:"changes"`
	Cursor  int64           `json:"cursor"`
	HasMore bool            `json:"has_more"`
}

// Pull requests one batch of a collection's changes since the cursor.
func (r *Remote) Pull(ctx context.Context, collection string, since int64, limit int) (ports.PullResult, error) {
	q := url.Values{}
	q.Set("collection", collection)
	q.Set("since", strconv.FormatInt(since, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	req, err := r.newRequest(ctx, http.MethodGet, changesEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return ports.PullResult{}, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return ports.PullResult{}, &domain.TransientError{Op: "pull " + collection, Err: err}
	}
	defer drain(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return ports.PullResult{NextCursor: since}, nil
	case resp.StatusCode != http.StatusOK:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return ports.PullResult{}, serverError(resp.StatusCode, raw)
	}

	var cr changesResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return ports.PullResult{}, &domain.TransientError{Op: "decode changes", Err: err}
	}
	for i := range cr.Changes {
		if cr.Changes[i].EntityType == "" {
			cr.Changes[i].EntityType = collection
		}
	}
	return ports.PullResult{Changes: cr.Changes, NextCursor: cr.Cursor, HasMore: cr.HasMore}, nil
}

func (r *Remote) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.ServiceURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if r.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.AuthToken)
	}
	req.Header.Set("Accept", "application/json")
	if r.cfg.ClientID != "" {
		req.Header.Set("X-Offsync-Client-Id", r.cfg.ClientID)
	}
	req.Header.Set("X-Offsync-OSArch", runtime.GOOS+"/"+runtime.GOARCH)
	if r.cfg.Version != "" {
		req.Header.Set("User-Agent", "offsync/"+r.cfg.Version)
	}
	return req, nil
}

func serverError(status int, body []byte) error {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &domain.ServerError{Status: status, Body: strings.TrimSpace(string(body))}
}

// drain consumes the rest of the body so the connection can be reused.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBody))
	_ = body.Close()
}
