package item

import (
	"context"
	"sort"

	"github.com/mkosyakov/notesync/internal/payload"
)

// SingletonPredicate selects the candidates of a singleton set.
type SingletonPredicate func(*Item) bool

// SingletonByContentType is the common predicate: one instance per
// content type.
func SingletonByContentType(contentType string) SingletonPredicate {
	return func(it *Item) bool { return it.ContentType == contentType }
}

// FindOrCreateSingleton enforces uniqueness for single-instance content
// types. The earliest-created valid candidate survives; every later
// candidate is tombstoned dirty so the cull propagates. When only
// undecryptable candidates exist, a fresh instance is created from
// createPayload.
func (m *Manager) FindOrCreateSingleton(ctx context.Context, predicate SingletonPredicate, createPayload func() (*payload.Payload, error)) (*Item, error) {
	m.mu.Lock()
	var valid []*Item
	for _, it := range m.items {
		if it.Deleted || it.Dummy || !predicate(it) {
			continue
		}
		// An errorDecrypting candidate never wins; if nothing else
		// matches, a fresh instance is created below.
		if it.ErrorDecrypting {
			continue
		}
		valid = append(valid, it)
	}
	m.mu.Unlock()

	if len(valid) > 0 {
		sort.Slice(valid, func(i, j int) bool {
			if valid[i].CreatedAt.Equal(valid[j].CreatedAt) {
				return valid[i].UUID < valid[j].UUID
			}
			return valid[i].CreatedAt.Before(valid[j].CreatedAt)
		})
		winner := valid[0]
		if len(valid) > 1 {
			m.mu.Lock()
			now := m.now()
			losers := make([]string, 0, len(valid)-1)
			for _, loser := range valid[1:] {
				loser.Deleted = true
				loser.Dirty = true
				loser.DirtiedAt = now
				m.dirty[loser.UUID] = struct{}{}
				losers = append(losers, loser.UUID)
			}
			m.mu.Unlock()
			m.log.Debug(ctx, "singleton candidates culled", "kept", winner.UUID, "removed", len(losers))
		}
		return winner, nil
	}

	p, err := createPayload()
	if err != nil {
		return nil, err
	}
	dirtied := p.With(payload.WithDirty(true), payload.WithDirtiedAt(m.now()))
	mapped := m.MapPayloadsToLocalItems(ctx, []*payload.Payload{dirtied}, payload.SourceConstructor)
	if len(mapped) == 0 {
		return nil, nil
	}
	return mapped[0], nil
}
