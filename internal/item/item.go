// Package item maintains the live object graph mirrored from decrypted
// payloads: the authoritative items map, the inverse reference index and the
// dirty set. All mutation of the graph goes through the Manager.
package item

import (
	"time"

	"github.com/mkosyakov/notesync/internal/payload"
)

// Item is the mutable object view of a decrypted payload. Items live for
// the session; payloads are the ephemeral vehicles that update them.
type Item struct {
	UUID        string
	ContentType string
	Content     payload.Content

	Deleted bool
	// Dummy marks a placeholder created for a reference whose target has
	// not arrived yet. Promoted when the real payload maps.
	Dummy bool

	Dirty     bool
	DirtiedAt time.Time

	ErrorDecrypting bool
	WaitingForKey   bool

	CreatedAt time.Time
	UpdatedAt time.Time

	LastSyncBegan time.Time
	LastSyncEnd   time.Time

	// EncItemKey and ItemsKeyID survive on the item so an undecryptable
	// payload can be retried when its key arrives.
	EncItemKey string
	ItemsKeyID string
}

// References returns the outgoing edges of this item.
func (i *Item) References() []payload.Reference {
	if i.Content == nil {
		return nil
	}
	return i.Content.References()
}

// UpdatedAtTimestamp returns the server timestamp in unix milliseconds.
func (i *Item) UpdatedAtTimestamp() int64 { return i.UpdatedAt.UnixMilli() }

// PayloadValues projects the item back into payload values for snapshots.
func (i *Item) PayloadValues() payload.Values {
	var content any
	if i.Content != nil {
		content = i.Content.Copy()
	}
	return payload.Values{
		UUID:            i.UUID,
		ContentType:     i.ContentType,
		Content:         content,
		EncItemKey:      i.EncItemKey,
		ItemsKeyID:      i.ItemsKeyID,
		Deleted:         i.Deleted,
		CreatedAt:       i.CreatedAt,
		UpdatedAt:       i.UpdatedAt,
		Dirty:           i.Dirty,
		DirtiedAt:       i.DirtiedAt,
		ErrorDecrypting: i.ErrorDecrypting,
		WaitingForKey:   i.WaitingForKey,
		LastSyncBegan:   i.LastSyncBegan,
		LastSyncEnd:     i.LastSyncEnd,
	}
}
