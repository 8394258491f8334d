package payload

import "time"

// UUIDFunc supplies fresh uuids for duplicated payloads.
type UUIDFunc func() string

// copyAsDuplicate derives a new-uuid duplicate of p carrying its content.
// The duplicate is dirty and has no server timestamp yet, so the next sync
// uploads it as a new item.
func copyAsDuplicate(p *Payload, newUUID UUIDFunc, source Source, now time.Time) *Payload {
	return p.WithSource(source,
		WithUUID(newUUID()),
		WithDirty(true),
		WithDirtiedAt(now),
		WithUpdatedAt(time.Time{}),
	)
}

// referencesUpdated returns derived copies of every base payload whose
// references include originalUUID, extended to also reference the
// duplicate. This keeps back-links intact when an item forks.
func referencesUpdated(base *Collection, originalUUID string, dup *Payload, source Source, now time.Time) []*Payload {
	var out []*Payload
	for _, candidate := range base.All() {
		content := candidate.ContentObject()
		if content == nil {
			continue
		}
		refs := content.References()
		for _, r := range refs {
			if r.UUID != originalUUID {
				continue
			}
			extended := append(refs, Reference{UUID: dup.UUID(), ContentType: dup.ContentType()})
			out = append(out, candidate.WithSource(source,
				WithContent(content.WithReferences(extended)),
				WithDirty(true),
				WithDirtiedAt(now),
			))
			break
		}
	}
	return out
}

// DeltaRemoteRetrieved merges payloads retrieved from the server against the
// local base snapshot. A dirty local copy whose content diverges from the
// incoming one forks: the server version is adopted under the original uuid
// and the local content survives as a new-uuid duplicate.
func DeltaRemoteRetrieved(base, apply *Collection, newUUID UUIDFunc, now time.Time) *Collection {
	var results []*Payload
	for _, incoming := range apply.All() {
		local := base.Get(incoming.UUID())
		adopted := incoming.WithSource(SourceRemoteRetrieved)

		if local == nil || !local.Dirty() {
			results = append(results, adopted)
			continue
		}
		if EqualContent(local.RawContent(), incoming.RawContent()) {
			results = append(results, adopted)
			continue
		}

		dup := copyAsDuplicate(local, newUUID, SourceRemoteRetrieved, now)
		results = append(results, adopted, dup)
		results = append(results, referencesUpdated(base, local.UUID(), dup, SourceRemoteRetrieved, now)...)
	}
	return NewCollection(results, SourceRemoteRetrieved)
}

// DeltaRemoteSaved acknowledges uploads. Saved payloads lack content; the
// local copy is retained and marked clean with its sync-cycle end stamped.
func DeltaRemoteSaved(base, apply *Collection, now time.Time) *Collection {
	var results []*Payload
	for _, saved := range apply.All() {
		local := base.Get(saved.UUID())
		if local == nil {
			results = append(results, saved.WithSource(SourceRemoteSaved,
				WithDirty(false),
				WithLastSyncEnd(now),
			))
			continue
		}
		opts := []Option{
			WithDirty(false),
			WithLastSyncEnd(now),
		}
		if !saved.UpdatedAt().IsZero() {
			opts = append(opts, WithUpdatedAt(saved.UpdatedAt()))
		}
		if !saved.CreatedAt().IsZero() {
			opts = append(opts, WithCreatedAt(saved.CreatedAt()))
		}
		if saved.HasField(FieldDeleted) && saved.Deleted() {
			opts = append(opts, WithDeleted(true))
		}
		results = append(results, local.WithSource(SourceRemoteSaved, opts...))
	}
	return NewCollection(results, SourceRemoteSaved)
}

// DeltaRemoteConflicts handles server-reported uuid conflicts: the local
// version moves to a fresh uuid and the server version takes the original.
func DeltaRemoteConflicts(base, apply *Collection, newUUID UUIDFunc, now time.Time) *Collection {
	var results []*Payload
	for _, server := range apply.All() {
		adopted := server.WithSource(SourceRemoteConflict)
		local := base.Get(server.UUID())
		if local == nil {
			results = append(results, adopted)
			continue
		}
		dup := copyAsDuplicate(local, newUUID, SourceRemoteConflict, now)
		results = append(results, dup, adopted)
	}
	return NewCollection(results, SourceRemoteConflict)
}

// DeltaOutOfSync reconciles a full server download against local state. Any
// uuid whose contents differ forks a local duplicate; the remote copy then
// overwrites the original uuid.
func DeltaOutOfSync(base, apply *Collection, newUUID UUIDFunc, now time.Time) *Collection {
	var results []*Payload
	for _, remote := range apply.All() {
		adopted := remote.WithSource(SourceRemoteRetrieved)
		local := base.Get(remote.UUID())
		if local != nil && !local.ErrorDecrypting() &&
			!EqualContent(local.RawContent(), remote.RawContent()) {
			dup := copyAsDuplicate(local, newUUID, SourceRemoteRetrieved, now)
			results = append(results, dup)
		}
		results = append(results, adopted)
	}
	return NewCollection(results, SourceRemoteRetrieved)
}
