// Package storage is the persistent store consumed by the sync engine and
// the startup loader: serialized payloads keyed by uuid plus a small
// key/value table for sync bookkeeping.
package storage

import (
	"context"

	"github.com/mkosyakov/notesync/internal/payload"
)

// Reserved key/value keys.
const (
	KeyLastSyncToken   = "LAST_SYNC_TOKEN"
	KeyPaginationToken = "PAGINATION_TOKEN"
	KeyRootKeyParams   = "ROOT_KEY_PARAMS"
	KeyLastPreSyncSave = "LAST_PRE_SYNC_SAVE"
)

// Store persists encrypted payload projections and engine state. Values are
// opaque strings; missing keys yield common.ErrNotFound.
type Store interface {
	GetAllRawPayloads(ctx context.Context) ([]payload.Raw, error)
	SavePayloads(ctx context.Context, raws []payload.Raw) error
	DeletePayloads(ctx context.Context, uuids []string) error

	GetValue(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key, value string) error
	RemoveValue(ctx context.Context, key string) error
}
