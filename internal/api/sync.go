package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/harper/till/internal/envelope"
	"github.com/harper/till/internal/serverdb"
	"github.com/harper/till/internal/syncerr"
)

// PushRequest is the JSON body for POST /v1/stores/{store}/sync/push.
type PushRequest struct {
	StoreID  string              `json:"store_id"`
	DeviceID string              `json:"device_id"`
	Events   []envelope.Envelope `json:"events"`
}

// PushResult is one per-event outcome in a push response.
type PushResult struct {
	EventID string                `json:"event_id"`
	Status  envelope.ResultStatus `json:"status"`
	Data    json.RawMessage       `json:"data,omitempty"`
	Error   *APIError             `json:"error,omitempty"`
}

// PushResponse is the JSON response for a push request.
type PushResponse struct {
	Results    []PushResult `json:"results"`
	ServerTime string       `json:"server_time"`
}

// PullRequest is the JSON body for POST /v1/stores/{store}/sync/pull.
type PullRequest struct {
	StoreID  string `json:"store_id"`
	DeviceID string `json:"device_id"`
	Cursor   string `json:"cursor"`
}

// PullUpdates carries the changed rows of one pull window.
type PullUpdates struct {
	Products      []serverdb.ChangedRow   `json:"products"`
	Customers     []serverdb.ChangedRow   `json:"customers"`
	Categories    []serverdb.ChangedRow   `json:"categories"`
	StoreSettings *serverdb.StoreSettings `json:"store_settings"`
	Tombstones    serverdb.Tombstones     `json:"tombstones"`
}

// PullResponse is the JSON response for a pull request.
type PullResponse struct {
	NewCursor string      `json:"new_cursor"`
	Updates   PullUpdates `json:"updates"`
}

// handleSyncPush handles POST /v1/stores/{store}/sync/push.
func (s *Server) handleSyncPush(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}

	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "device_id is required")
		return
	}
	// The token is bound to exactly one device; a batch claiming another
	// device is refused outright regardless of store membership.
	if req.DeviceID != identity.DeviceID {
		writeError(w, http.StatusForbidden, ErrCodeForbidden, "device mismatch: token is bound to another device")
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "events array is empty")
		return
	}
	if len(req.Events) > s.config.MaxPushBatch {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "batch exceeds maximum size")
		return
	}

	results := s.applier.ApplyBatch(identity, req.Events)

	resp := PushResponse{
		Results:    make([]PushResult, len(results)),
		ServerTime: time.Now().UTC().Format(time.RFC3339Nano),
	}
	for i, res := range results {
		pr := PushResult{EventID: res.EventID, Status: res.Status, Data: res.Data}
		if res.Err != nil {
			pr.Error = &APIError{Code: syncerr.CodeOf(res.Err), Message: res.Err.Error()}
		}
		s.metrics.RecordPushOutcome(res.Status == envelope.StatusApplied, res.Status == envelope.StatusDuplicate)
		resp.Results[i] = pr
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleSyncPull handles POST /v1/stores/{store}/sync/pull.
func (s *Server) handleSyncPull(w http.ResponseWriter, r *http.Request) {
	s.metrics.RecordPullRequest()
	identity := identityFrom(r.Context())

	var req PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}
	if req.DeviceID != "" && req.DeviceID != identity.DeviceID {
		writeError(w, http.StatusForbidden, ErrCodeForbidden, "device mismatch: token is bound to another device")
		return
	}

	// Absent or unparseable cursors fall back to the epoch: a full pull
	// is always correct, just larger.
	cursor := time.Unix(0, 0).UTC()
	if req.Cursor != "" {
		if t, err := serverdb.ParseStamp(req.Cursor); err == nil {
			cursor = t
		} else {
			logFor(r.Context()).Warn("unparseable cursor, full pull", "cursor", req.Cursor)
		}
	}

	changes, err := s.store.ChangesSince(identity.StoreID, cursor)
	if err != nil {
		logFor(r.Context()).Error("changes since", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to collect changes")
		return
	}

	writeJSON(w, http.StatusOK, PullResponse{
		NewCursor: changes.NewCursor,
		Updates: PullUpdates{
			Products:      changes.Products,
			Customers:     changes.Customers,
			Categories:    changes.Categories,
			StoreSettings: changes.Settings,
			Tombstones:    changes.Tombstones,
		},
	})
}
