package keys

import (
	"context"
	"sync"

	"github.com/mkosyakov/notesync/internal/logging"
	"github.com/mkosyakov/notesync/internal/payload"
)

// KeyMode describes what protects the root key at rest.
type KeyMode int

const (
	// KeyModeRootKeyNone means no account and no passcode.
	KeyModeRootKeyNone KeyMode = iota
	// KeyModeRootKeyOnly means an account root key with no passcode wrapper.
	KeyModeRootKeyOnly
	// KeyModeWrapperOnly means a local passcode only (no account).
	KeyModeWrapperOnly
	// KeyModeRootKeyPlusWrapper means an account root key wrapped by a passcode.
	KeyModeRootKeyPlusWrapper
)

// ItemsKeyObserver is notified when new items keys become available.
type ItemsKeyObserver func(added []*ItemsKey)

// Manager owns the root key and the items-key collection and selects the
// key for encrypting or decrypting any given payload. It is the only
// component that mutates key state.
type Manager struct {
	mu         sync.Mutex
	rootKey    *RootKey
	keyMode    KeyMode
	hasWrapper bool

	itemsKeys map[string]*ItemsKey
	defaultID string

	observers map[string]ItemsKeyObserver
	log       logging.Logger
}

func NewManager(log logging.Logger) *Manager {
	if log == nil {
		log = logging.NewDefault()
	}
	return &Manager{
		itemsKeys: make(map[string]*ItemsKey),
		observers: make(map[string]ItemsKeyObserver),
		log:       log,
	}
}

// SetRootKey installs the account root key and recomputes the key mode.
func (m *Manager) SetRootKey(k *RootKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rootKey = k
	m.recomputeMode()
}

// ClearRootKey drops the root key and every items key, as on sign-out.
func (m *Manager) ClearRootKey() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rootKey = nil
	m.itemsKeys = make(map[string]*ItemsKey)
	m.defaultID = ""
	m.recomputeMode()
}

// SetWrapper records the presence of a local passcode wrapper.
func (m *Manager) SetWrapper(present bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasWrapper = present
	m.recomputeMode()
}

func (m *Manager) recomputeMode() {
	switch {
	case m.rootKey != nil && m.hasWrapper:
		m.keyMode = KeyModeRootKeyPlusWrapper
	case m.rootKey != nil:
		m.keyMode = KeyModeRootKeyOnly
	case m.hasWrapper:
		m.keyMode = KeyModeWrapperOnly
	default:
		m.keyMode = KeyModeRootKeyNone
	}
}

func (m *Manager) RootKey() *RootKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rootKey
}

func (m *Manager) Mode() KeyMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keyMode
}

// AddItemsKeys merges newly decrypted items keys into the collection and
// notifies observers. The most recently added default wins.
func (m *Manager) AddItemsKeys(ctx context.Context, added ...*ItemsKey) {
	if len(added) == 0 {
		return
	}
	m.mu.Lock()
	for _, k := range added {
		m.itemsKeys[k.UUID] = k
		if k.Default {
			m.defaultID = k.UUID
		}
	}
	observers := make([]ItemsKeyObserver, 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	m.log.Debug(ctx, "items keys added", "count", len(added))
	for _, fn := range observers {
		fn(added)
	}
}

// RemoveItemsKey drops a key, e.g. when its item is deleted.
func (m *Manager) RemoveItemsKey(uuid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.itemsKeys, uuid)
	if m.defaultID == uuid {
		m.defaultID = ""
	}
}

// ItemsKeyByID returns the items key with the given uuid, or nil.
func (m *Manager) ItemsKeyByID(uuid string) *ItemsKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.itemsKeys[uuid]
}

// DefaultItemsKey returns the key new encryptions use, or nil.
func (m *Manager) DefaultItemsKey() *ItemsKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.defaultID != "" {
		return m.itemsKeys[m.defaultID]
	}
	// Any key beats none when no default is flagged.
	for _, k := range m.itemsKeys {
		return k
	}
	return nil
}

// ItemsKeys returns all known items keys.
func (m *Manager) ItemsKeys() []*ItemsKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ItemsKey, 0, len(m.itemsKeys))
	for _, k := range m.itemsKeys {
		out = append(out, k)
	}
	return out
}

// RegisterItemsKeyObserver adds a named observer; re-registering a name
// replaces it.
func (m *Manager) RegisterItemsKeyObserver(name string, fn ItemsKeyObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers[name] = fn
}

// UnregisterItemsKeyObserver removes the named observer.
func (m *Manager) UnregisterItemsKeyObserver(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.observers, name)
}

// KeyToUseForEncryptionOfPayload selects the wrapping key. Items-key
// content is always encrypted under the root key; everything else uses the
// default items key on 004 or the root key on legacy versions. A nil result
// means no key material is available for the intent.
func (m *Manager) KeyToUseForEncryptionOfPayload(p *payload.Payload, intent payload.Intent) *Key {
	m.mu.Lock()
	root := m.rootKey
	m.mu.Unlock()

	if p.ContentType() == payload.ContentTypeItemsKey {
		if root == nil {
			return nil
		}
		return root.EncryptionKey()
	}
	if root != nil && root.Version != "" && root.Version < "004" {
		return root.EncryptionKey()
	}
	if ik := m.DefaultItemsKey(); ik != nil {
		return ik.EncryptionKey()
	}
	if root != nil {
		return root.EncryptionKey()
	}
	return nil
}

// KeyToUseForDecryptionOfPayload selects the unwrapping key. A nil result
// with a populated items_key_id means the key has not arrived yet; callers
// mark the payload waitingForKey.
func (m *Manager) KeyToUseForDecryptionOfPayload(p *payload.Payload) *Key {
	m.mu.Lock()
	root := m.rootKey
	m.mu.Unlock()

	if p.ContentType() == payload.ContentTypeItemsKey {
		if root == nil {
			return nil
		}
		return root.EncryptionKey()
	}
	if id := p.ItemsKeyID(); id != "" {
		if ik := m.ItemsKeyByID(id); ik != nil {
			return ik.EncryptionKey()
		}
		return nil
	}
	if root != nil {
		return root.EncryptionKey()
	}
	return nil
}
