// Package api defines the sync server interface the core consumes and its
// JSON-over-HTTP implementation.
package api

import (
	"context"

	"github.com/mkosyakov/notesync/internal/keys"
	"github.com/mkosyakov/notesync/internal/payload"
)

// Version is the sync API revision carried on every request.
const Version = "20200115"

// DefaultUpLimit is the number of payloads posted per round.
const DefaultUpLimit = 150

// SyncRequest is the POST body of one sync round.
type SyncRequest struct {
	API              string        `json:"api"`
	Items            []payload.Raw `json:"items"`
	SyncToken        string        `json:"sync_token,omitempty"`
	CursorToken      string        `json:"cursor_token,omitempty"`
	Limit            int           `json:"limit"`
	ComputeIntegrity bool          `json:"compute_integrity"`
}

// Conflict is a server-reported collision on one uuid.
type Conflict struct {
	Type        string       `json:"type,omitempty"`
	ServerItem  *payload.Raw `json:"server_item,omitempty"`
	UnsavedItem *payload.Raw `json:"unsaved_item,omitempty"`
}

// ServerRaw returns the server-side version carried by the conflict.
func (c Conflict) ServerRaw() *payload.Raw {
	if c.ServerItem != nil {
		return c.ServerItem
	}
	return c.UnsavedItem
}

// SyncResponse is the server's answer to one round.
type SyncResponse struct {
	RetrievedItems []payload.Raw `json:"retrieved_items"`
	SavedItems     []payload.Raw `json:"saved_items"`
	Conflicts      []Conflict    `json:"conflicts"`
	SyncToken      string        `json:"sync_token"`
	CursorToken    string        `json:"cursor_token,omitempty"`
	IntegrityHash  string        `json:"integrity_hash,omitempty"`
}

// RegisterRequest creates an account: the server stores the key params and
// the server password, never the real password.
type RegisterRequest struct {
	Email          string        `json:"email"`
	ServerPassword string        `json:"password"`
	KeyParams      keys.KeyParams `json:"key_params"`
}

// SignInResponse carries the session token.
type SignInResponse struct {
	AccessToken string `json:"access_token"`
}

// Client is the transport surface consumed by the sync engine. A 401 from
// any call surfaces as common.ErrInvalidSession.
type Client interface {
	Register(ctx context.Context, req RegisterRequest) error
	SignIn(ctx context.Context, email, serverPassword string) (*SignInResponse, error)
	KeyParams(ctx context.Context, email string) (keys.KeyParams, error)
	Sync(ctx context.Context, req SyncRequest) (*SyncResponse, error)
}
