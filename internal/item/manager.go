package item

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkosyakov/notesync/internal/common"
	"github.com/mkosyakov/notesync/internal/logging"
	"github.com/mkosyakov/notesync/internal/payload"
)

// ChangeObserver receives the items affected by one mapping batch.
type ChangeObserver func(ctx context.Context, changed []*Item, source payload.Source)

// Manager owns the item graph. Items are held in a single uuid-keyed map;
// references are stored as target uuids and the inverse index is rebuilt
// incrementally as payloads map.
type Manager struct {
	mu    sync.Mutex
	items map[string]*Item
	// referencing maps a target uuid to the set of uuids referencing it.
	referencing map[string]map[string]struct{}
	dirty       map[string]struct{}

	observers map[string]ChangeObserver
	newUUID   func() string
	now       func() time.Time
	log       logging.Logger
}

func NewManager(log logging.Logger) *Manager {
	if log == nil {
		log = logging.NewDefault()
	}
	return &Manager{
		items:       make(map[string]*Item),
		referencing: make(map[string]map[string]struct{}),
		dirty:       make(map[string]struct{}),
		observers:   make(map[string]ChangeObserver),
		newUUID:     uuid.NewString,
		now:         time.Now,
		log:         log,
	}
}

// RegisterChangeObserver adds a named observer; re-registering replaces it.
func (m *Manager) RegisterChangeObserver(name string, fn ChangeObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers[name] = fn
}

func (m *Manager) UnregisterChangeObserver(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.observers, name)
}

// Item returns the item with the given uuid, or nil.
func (m *Manager) Item(uuid string) *Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[uuid]
}

// Items returns every live item, dummies included.
func (m *Manager) Items() []*Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	return out
}

// NonDeletedItems returns items that are neither deleted nor dummies.
func (m *Manager) NonDeletedItems() []*Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Item, 0, len(m.items))
	for _, it := range m.items {
		if !it.Deleted && !it.Dummy {
			out = append(out, it)
		}
	}
	return out
}

// ItemsByType returns non-deleted items of one content type.
func (m *Manager) ItemsByType(contentType string) []*Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Item
	for _, it := range m.items {
		if it.ContentType == contentType && !it.Deleted && !it.Dummy {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// DirtyItems returns the items awaiting upload.
func (m *Manager) DirtyItems() []*Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Item, 0, len(m.dirty))
	for id := range m.dirty {
		if it, ok := m.items[id]; ok {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}

// ReferencingItemsCount returns how many items reference the given uuid.
func (m *Manager) ReferencingItemsCount(uuid string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.referencing[uuid])
}

// ItemsReferencing returns the items referencing the given uuid.
func (m *Manager) ItemsReferencing(uuid string) []*Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Item
	for id := range m.referencing[uuid] {
		if it, ok := m.items[id]; ok {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}

// updateReferenceIndex reconciles the inverse index for one referrer.
func (m *Manager) updateReferenceIndex(referrer string, old, new []payload.Reference) {
	for _, r := range old {
		if set, ok := m.referencing[r.UUID]; ok {
			delete(set, referrer)
			if len(set) == 0 {
				delete(m.referencing, r.UUID)
			}
		}
	}
	for _, r := range new {
		set, ok := m.referencing[r.UUID]
		if !ok {
			set = make(map[string]struct{})
			m.referencing[r.UUID] = set
		}
		set[referrer] = struct{}{}
		// A reference to an unknown item creates a dummy placeholder so
		// back-links resolve once the target arrives.
		if _, known := m.items[r.UUID]; !known {
			m.items[r.UUID] = &Item{UUID: r.UUID, ContentType: r.ContentType, Dummy: true}
		}
	}
}

// MapPayloadsToLocalItems creates or updates items from payloads and emits
// one change notification for the whole batch.
func (m *Manager) MapPayloadsToLocalItems(ctx context.Context, payloads []*payload.Payload, source payload.Source) []*Item {
	m.mu.Lock()
	changed := make([]*Item, 0, len(payloads))
	for _, p := range payloads {
		if p == nil {
			continue
		}
		it := m.applyPayloadLocked(p)
		if it != nil {
			changed = append(changed, it)
		}
	}
	observers := make([]ChangeObserver, 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	m.log.Debug(ctx, "payloads mapped", "count", len(changed), "source", source.String())
	for _, fn := range observers {
		fn(ctx, changed, source)
	}
	return changed
}

func (m *Manager) applyPayloadLocked(p *payload.Payload) *Item {
	existing := m.items[p.UUID()]

	if p.Discardable() {
		if existing != nil {
			m.updateReferenceIndex(existing.UUID, existing.References(), nil)
			delete(m.items, existing.UUID)
			delete(m.dirty, existing.UUID)
		}
		return existing
	}

	it := existing
	if it == nil {
		it = &Item{UUID: p.UUID()}
		m.items[it.UUID] = it
	}
	oldRefs := it.References()

	// Promotion: a dummy becomes real once an actual payload maps onto it.
	it.Dummy = false
	if p.HasField(payload.FieldContentType) && p.ContentType() != "" {
		it.ContentType = p.ContentType()
	}
	if p.HasField(payload.FieldContent) {
		switch p.Format() {
		case payload.FormatDecryptedBareObject:
			it.Content = p.ContentObject()
		case payload.FormatEncryptedString, payload.FormatDecryptedBase64String:
			// Content not yet usable; retained on the payload only.
		}
	}
	if p.HasField(payload.FieldEncItemKey) {
		it.EncItemKey = p.EncItemKey()
	}
	if p.HasField(payload.FieldItemsKeyID) {
		it.ItemsKeyID = p.ItemsKeyID()
	}
	if p.HasField(payload.FieldDeleted) {
		it.Deleted = p.Deleted()
		if it.Deleted {
			it.Content = nil
		}
	}
	if p.HasField(payload.FieldCreatedAt) && !p.CreatedAt().IsZero() {
		it.CreatedAt = p.CreatedAt()
	}
	if p.HasField(payload.FieldUpdatedAt) && !p.UpdatedAt().IsZero() {
		it.UpdatedAt = p.UpdatedAt()
	}
	if p.HasField(payload.FieldDirty) {
		it.Dirty = p.Dirty()
		if it.Dirty {
			m.dirty[it.UUID] = struct{}{}
		} else {
			delete(m.dirty, it.UUID)
		}
	}
	if p.HasField(payload.FieldDirtiedAt) {
		it.DirtiedAt = p.DirtiedAt()
	}
	if p.HasField(payload.FieldErrorDecrypting) {
		it.ErrorDecrypting = p.ErrorDecrypting()
	}
	if p.HasField(payload.FieldWaitingForKey) {
		it.WaitingForKey = p.WaitingForKey()
	}
	if p.HasField(payload.FieldLastSyncBegan) && !p.LastSyncBegan().IsZero() {
		it.LastSyncBegan = p.LastSyncBegan()
	}
	if p.HasField(payload.FieldLastSyncEnd) && !p.LastSyncEnd().IsZero() {
		it.LastSyncEnd = p.LastSyncEnd()
	}

	m.updateReferenceIndex(it.UUID, oldRefs, it.References())
	return it
}

// SetItemsDirty stamps items for upload and notifies observers.
func (m *Manager) SetItemsDirty(ctx context.Context, uuids ...string) []*Item {
	now := m.now()
	m.mu.Lock()
	var changed []*Item
	for _, id := range uuids {
		it, ok := m.items[id]
		if !ok {
			continue
		}
		it.Dirty = true
		it.DirtiedAt = now
		m.dirty[id] = struct{}{}
		changed = append(changed, it)
	}
	observers := make([]ChangeObserver, 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	for _, fn := range observers {
		fn(ctx, changed, payload.SourceLocalDirtied)
	}
	return changed
}

// MarkAllItemsAsNeedingSync stamps every non-dummy item dirty, as after a
// password change.
func (m *Manager) MarkAllItemsAsNeedingSync(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.items))
	for id, it := range m.items {
		if !it.Dummy {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	m.SetItemsDirty(ctx, ids...)
}

// AlternateUUIDForItem moves an item to a fresh uuid: every referrer is
// rewritten to point at the new uuid and the old item becomes a dirty
// tombstone so the rename propagates to the server.
func (m *Manager) AlternateUUIDForItem(ctx context.Context, oldUUID string) (*Item, error) {
	m.mu.Lock()
	old, ok := m.items[oldUUID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: item %s", common.ErrNotFound, oldUUID)
	}
	newUUID := m.newUUID()
	now := m.now()

	replacement := &Item{
		UUID:        newUUID,
		ContentType: old.ContentType,
		Content:     old.Content.Copy(),
		CreatedAt:   old.CreatedAt,
		Dirty:       true,
		DirtiedAt:   now,
		EncItemKey:  "",
		ItemsKeyID:  old.ItemsKeyID,
	}
	m.items[newUUID] = replacement
	m.dirty[newUUID] = struct{}{}
	m.updateReferenceIndex(newUUID, nil, replacement.References())

	// Rewrite every referrer edge old -> new.
	referrerIDs := make([]string, 0, len(m.referencing[oldUUID]))
	for id := range m.referencing[oldUUID] {
		referrerIDs = append(referrerIDs, id)
	}
	for _, referrerID := range referrerIDs {
		referrer, ok := m.items[referrerID]
		if !ok || referrer.Content == nil {
			continue
		}
		oldRefs := referrer.References()
		rewritten := make([]payload.Reference, 0, len(oldRefs))
		for _, r := range oldRefs {
			if r.UUID == oldUUID {
				r.UUID = newUUID
			}
			rewritten = append(rewritten, r)
		}
		referrer.Content = referrer.Content.WithReferences(rewritten)
		referrer.Dirty = true
		referrer.DirtiedAt = now
		m.dirty[referrerID] = struct{}{}
		m.updateReferenceIndex(referrerID, oldRefs, rewritten)
	}

	m.updateReferenceIndex(oldUUID, old.References(), nil)
	old.Deleted = true
	old.Dirty = true
	old.DirtiedAt = now
	old.Content = nil
	m.dirty[oldUUID] = struct{}{}

	observers := make([]ChangeObserver, 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	m.log.Debug(ctx, "item uuid alternated", "old", oldUUID, "new", newUUID)
	for _, fn := range observers {
		fn(ctx, []*Item{replacement, old}, payload.SourceLocalDirtied)
	}
	return replacement, nil
}

// ImportItemsFromRaw maps a batch of external decrypted payloads. Every
// comparison uses the local-content snapshot taken before any payload in
// the batch maps, so cascading updates cannot trigger false duplicates.
// Returns the items that were newly created (including duplicates).
func (m *Manager) ImportItemsFromRaw(ctx context.Context, incoming []*payload.Payload) ([]*Item, error) {
	m.mu.Lock()
	snapshot := make(map[string]payload.Content, len(m.items))
	existingContents := make([]payload.Content, 0, len(m.items))
	for id, it := range m.items {
		if it.Dummy {
			continue
		}
		c := it.Content.Copy()
		snapshot[id] = c
		if c != nil {
			existingContents = append(existingContents, c)
		}
	}
	m.mu.Unlock()

	var toMap []*payload.Payload
	var created []string
	importedDuplicates := make([]payload.Content, 0)

	for _, p := range incoming {
		if p == nil {
			continue
		}
		local, exists := snapshot[p.UUID()]
		if !exists {
			toMap = append(toMap, p.WithSource(payload.SourceFileImport))
			created = append(created, p.UUID())
			snapshot[p.UUID()] = p.ContentObject()
			continue
		}
		if payload.EqualContent(payload.Content(local), payload.Content(p.ContentObject())) {
			continue
		}
		// Keep local; the incoming copy becomes a standalone duplicate,
		// unless an equal duplicate already exists from a prior import.
		if contentAlreadyPresent(p.ContentObject(), existingContents, importedDuplicates) {
			continue
		}
		dupUUID := m.newUUID()
		dup := p.WithSource(payload.SourceFileImport,
			payload.WithUUID(dupUUID),
			payload.WithDirty(true),
			payload.WithDirtiedAt(m.now()),
			payload.WithUpdatedAt(time.Time{}),
		)
		toMap = append(toMap, dup)
		created = append(created, dupUUID)
		importedDuplicates = append(importedDuplicates, p.ContentObject())
	}

	m.MapPayloadsToLocalItems(ctx, toMap, payload.SourceFileImport)

	out := make([]*Item, 0, len(created))
	m.mu.Lock()
	for _, id := range created {
		if it, ok := m.items[id]; ok {
			out = append(out, it)
		}
	}
	m.mu.Unlock()
	return out, nil
}

func contentAlreadyPresent(c payload.Content, pools ...[]payload.Content) bool {
	if c == nil {
		return false
	}
	for _, pool := range pools {
		for _, candidate := range pool {
			if payload.EqualContent(candidate, c) {
				return true
			}
		}
	}
	return false
}

// SnapshotCollection projects the current item graph into a payload
// collection, the base for delta resolution.
func (m *Manager) SnapshotCollection(source payload.Source) *payload.Collection {
	m.mu.Lock()
	defer m.mu.Unlock()
	payloads := make([]*payload.Payload, 0, len(m.items))
	for _, it := range m.items {
		if it.Dummy {
			continue
		}
		p, err := payload.New(it.PayloadValues(), source, payload.MaxPayloadFields())
		if err != nil {
			continue
		}
		payloads = append(payloads, p)
	}
	return payload.NewCollection(payloads, source)
}
