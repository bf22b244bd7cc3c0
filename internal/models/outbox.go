package models

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RequestKind names the mutation an outbox request performs.
type RequestKind string

const (
	RequestAddEntry    RequestKind = "entry.add"
	RequestDeleteEntry RequestKind = "entry.delete"
	RequestRenameRoom  RequestKind = "room.rename"
	RequestCreateRoom  RequestKind = "room.create"
	RequestJoinRoom    RequestKind = "room.join"
	RequestLeaveRoom   RequestKind = "room.leave"
)

// OutboxRequest is a mutating HTTP request waiting for server
// acknowledgment. Requests replay in EnqueuedAt order; ID only addresses
// the stored record.
type OutboxRequest struct {
	ID         string          `json:"id"`
	Kind       RequestKind     `json:"kind"`
	URL        string          `json:"url"` // path relative to the server base URL
	Method     string          `json:"method"`
	Body       json.RawMessage `json:"body,omitempty"`
	AuthToken  string          `json:"authToken"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`

	// Bookkeeping used to reconcile local state once the request settles.
	RoomID      int64       `json:"roomId,omitempty"`
	TempEntryID TempID      `json:"tempEntryId,omitempty"`
	EntryID     PersistedID `json:"entryId,omitempty"`
}

// NewOutboxRequest builds a request with a JSON body. body may be nil.
func NewOutboxRequest(kind RequestKind, method, url string, body any) (*OutboxRequest, error) {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return nil, fmt.Errorf("unsupported outbox method %q", method)
	}
	req := &OutboxRequest{Kind: kind, Method: method, URL: url}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		req.Body = data
	}
	return req, nil
}
