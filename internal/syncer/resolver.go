package syncer

import (
	"time"

	"github.com/mkosyakov/notesync/internal/payload"
)

// ResponseResolver turns one server response into per-category collections
// ready for mapping. The base collection is a snapshot of local state taken
// at response time, before any category is applied, so comparisons cannot
// observe partially applied results.
type ResponseResolver struct {
	retrieved []*payload.Payload
	saved     []*payload.Payload
	conflicts []*payload.Payload

	base    *payload.Collection
	newUUID payload.UUIDFunc
	now     time.Time
}

func NewResponseResolver(retrieved, saved, conflicts []*payload.Payload, base *payload.Collection, newUUID payload.UUIDFunc, now time.Time) *ResponseResolver {
	return &ResponseResolver{
		retrieved: retrieved,
		saved:     saved,
		conflicts: conflicts,
		base:      base,
		newUUID:   newUUID,
		now:       now,
	}
}

// Collections resolves every category against the same base snapshot, in
// the order they must be applied: retrieved, saved, conflicts. Applying
// per-category (not per-payload) keeps the inverse indexes internally
// consistent between categories.
func (r *ResponseResolver) Collections() []*payload.Collection {
	var out []*payload.Collection
	if len(r.retrieved) > 0 {
		apply := payload.NewCollection(r.retrieved, payload.SourceRemoteRetrieved)
		out = append(out, payload.DeltaRemoteRetrieved(r.base, apply, r.newUUID, r.now))
	}
	if len(r.saved) > 0 {
		apply := payload.NewCollection(r.saved, payload.SourceRemoteSaved)
		out = append(out, payload.DeltaRemoteSaved(r.base, apply, r.now))
	}
	if len(r.conflicts) > 0 {
		apply := payload.NewCollection(r.conflicts, payload.SourceRemoteConflict)
		out = append(out, payload.DeltaRemoteConflicts(r.base, apply, r.newUUID, r.now))
	}
	return out
}
