package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkosyakov/notesync/internal/api"
	"github.com/mkosyakov/notesync/internal/common"
	"github.com/mkosyakov/notesync/internal/item"
	"github.com/mkosyakov/notesync/internal/keys"
	"github.com/mkosyakov/notesync/internal/logging"
	"github.com/mkosyakov/notesync/internal/payload"
	"github.com/mkosyakov/notesync/internal/protocol"
	"github.com/mkosyakov/notesync/internal/storage"
)

// TimingStrategy routes sync attempts that arrive while a sync is already
// running or before the database has loaded.
type TimingStrategy int

const (
	// TimingResolveOnNext enqueues the caller; callers queued while a sync
	// runs resolve together when the follow-up sync, started after the
	// running one ends, completes.
	TimingResolveOnNext TimingStrategy = iota
	// TimingForceSpawnNew enqueues a dedicated follow-up sync for the caller.
	TimingForceSpawnNew
)

// Options tune one sync call.
type Options struct {
	Timing         TimingStrategy
	CheckIntegrity bool
}

// DefaultMajorChangeThreshold is the items-involved count at or above which
// a completed sync announces a major data change.
const DefaultMajorChangeThreshold = 15

type spawnEntry struct {
	opts Options
	done chan error
}

// Engine is the sync arbiter: it owns the operation lifecycle, serializes
// concurrent sync requests through the two queues, resolves responses and
// tracks integrity.
type Engine struct {
	store      storage.Store
	client     api.Client
	session    *api.Session
	protocol   *protocol.Manager
	keyManager *keys.Manager
	models     *item.Manager
	log        logging.Logger

	mu              sync.Mutex
	dbLoaded        bool
	syncing         bool
	online          bool
	lastPreSyncSave time.Time
	syncToken       string
	cursorToken     string

	resolveQueue       []chan error
	currentResolutions []chan error
	spawnQueue         []spawnEntry
	currentOp          *Operation

	observers map[string]EventObserver
	state     *State

	majorChangeThreshold int
	now                  func() time.Time
	newUUID              func() string
}

// Config wires the engine's collaborators.
type Config struct {
	Store    storage.Store
	Client   api.Client
	Session  *api.Session
	Protocol *protocol.Manager
	Keys     *keys.Manager
	Models   *item.Manager
	Log      logging.Logger
}

func NewEngine(cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = logging.NewDefault()
	}
	e := &Engine{
		store:                cfg.Store,
		client:               cfg.Client,
		session:              cfg.Session,
		protocol:             cfg.Protocol,
		keyManager:           cfg.Keys,
		models:               cfg.Models,
		log:                  log.With("component", "syncer"),
		observers:            make(map[string]EventObserver),
		state:                NewState(),
		majorChangeThreshold: DefaultMajorChangeThreshold,
		now:                  time.Now,
		newUUID:              uuid.NewString,
	}
	// New items keys unblock payloads that were waiting for them.
	e.keyManager.RegisterItemsKeyObserver("syncer", func(added []*keys.ItemsKey) {
		e.retryWaitingPayloads(context.Background())
	})
	return e
}

// RegisterObserver adds a named event listener; re-registering replaces it.
func (e *Engine) RegisterObserver(name string, fn EventObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers[name] = fn
}

func (e *Engine) UnregisterObserver(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.observers, name)
}

func (e *Engine) notify(ctx context.Context, event Event, data any) {
	e.mu.Lock()
	observers := make([]EventObserver, 0, len(e.observers))
	for _, fn := range e.observers {
		observers = append(observers, fn)
	}
	e.mu.Unlock()
	for _, fn := range observers {
		fn(ctx, event, data)
	}
}

// SetOnline switches between account sync and offline persistence.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.online = online
}

// State exposes the integrity tracker.
func (e *Engine) State() *State { return e.state }

// Models exposes the item graph manager.
func (e *Engine) Models() *item.Manager { return e.models }

// CurrentOperation returns the running operation, if any; used to cancel
// between rounds.
func (e *Engine) CurrentOperation() *Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentOp
}

// LoadDatabase loads persisted payloads into the item graph. Items keys
// load and decrypt before everything else so subsequent payloads can be
// decrypted. Loading twice is a programmer error.
func (e *Engine) LoadDatabase(ctx context.Context) error {
	e.mu.Lock()
	if e.dbLoaded {
		e.mu.Unlock()
		return fmt.Errorf("%w: database already loaded", common.ErrProgrammer)
	}
	e.mu.Unlock()

	raws, err := e.store.GetAllRawPayloads(ctx)
	if err != nil {
		return fmt.Errorf("load database: %w", err)
	}

	payloads := make([]*payload.Payload, 0, len(raws))
	for _, raw := range raws {
		p, err := payload.FromRaw(raw, payload.SourceLocalRetrieved)
		if err != nil {
			e.log.Warn(ctx, "skipping corrupt stored payload", "uuid", raw.UUID, "error", err)
			continue
		}
		payloads = append(payloads, p)
	}

	// Content-type priority first (items keys before all), then newest.
	sort.SliceStable(payloads, func(i, j int) bool {
		pi, pj := loadPriority(payloads[i]), loadPriority(payloads[j])
		if pi != pj {
			return pi < pj
		}
		return payloads[i].UpdatedAt().After(payloads[j].UpdatedAt())
	})

	decrypted, err := e.decryptWithItemsKeysFirst(ctx, payloads)
	if err != nil {
		return err
	}
	e.models.MapPayloadsToLocalItems(ctx, decrypted, payload.SourceLocalRetrieved)

	if v, err := e.store.GetValue(ctx, storage.KeyLastSyncToken); err == nil {
		e.mu.Lock()
		e.syncToken = v
		e.mu.Unlock()
	}
	if v, err := e.store.GetValue(ctx, storage.KeyPaginationToken); err == nil {
		e.mu.Lock()
		e.cursorToken = v
		e.mu.Unlock()
	}
	if v, err := e.store.GetValue(ctx, storage.KeyLastPreSyncSave); err == nil {
		if ts, perr := time.Parse(time.RFC3339Nano, v); perr == nil {
			e.mu.Lock()
			e.lastPreSyncSave = ts
			e.mu.Unlock()
		}
	}

	e.mu.Lock()
	e.dbLoaded = true
	e.mu.Unlock()

	e.notify(ctx, EventDatabaseLoaded, len(decrypted))
	return nil
}

func loadPriority(p *payload.Payload) int {
	if p.ContentType() == payload.ContentTypeItemsKey {
		return 0
	}
	return 1
}

// decryptWithItemsKeysFirst decrypts a batch in two passes: items keys
// under the root key, then everything else once the fresh keys are
// registered. Input order is preserved.
func (e *Engine) decryptWithItemsKeysFirst(ctx context.Context, payloads []*payload.Payload) ([]*payload.Payload, error) {
	keyFn := func(p *payload.Payload) *keys.Key {
		return e.keyManager.KeyToUseForDecryptionOfPayload(p)
	}

	out := make([]*payload.Payload, len(payloads))
	var rest []int

	var freshKeys []*keys.ItemsKey
	for i, p := range payloads {
		if p == nil {
			continue
		}
		if p.ContentType() != payload.ContentTypeItemsKey {
			rest = append(rest, i)
			continue
		}
		dec, err := e.protocol.DecryptPayload(p, keyFn(p))
		if err != nil {
			return nil, err
		}
		out[i] = dec
		if !dec.ErrorDecrypting() && !dec.WaitingForKey() && dec.ContentObject() != nil {
			if ik, kerr := keys.ItemsKeyFromPayload(dec); kerr == nil {
				freshKeys = append(freshKeys, ik)
			}
		}
	}
	if len(freshKeys) > 0 {
		e.keyManager.AddItemsKeys(ctx, freshKeys...)
	}

	for _, i := range rest {
		dec, err := e.protocol.DecryptPayload(payloads[i], keyFn(payloads[i]))
		if err != nil {
			return nil, err
		}
		out[i] = dec
	}
	return out, nil
}

// Sync runs (or enqueues) one full sync. At most one sync executes at a
// time; concurrent attempts are routed by the timing strategy.
func (e *Engine) Sync(ctx context.Context, opts Options) error {
	e.mu.Lock()
	if e.syncing || !e.dbLoaded {
		switch opts.Timing {
		case TimingForceSpawnNew:
			done := make(chan error, 1)
			e.spawnQueue = append(e.spawnQueue, spawnEntry{opts: opts, done: done})
			e.mu.Unlock()
			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			done := make(chan error, 1)
			e.resolveQueue = append(e.resolveQueue, done)
			e.mu.Unlock()
			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	e.syncing = true
	// Snapshot the resolve queue before the run begins: callers enqueued
	// during the run defer to the next one, preventing self-retrigger
	// starvation.
	e.currentResolutions = e.resolveQueue
	e.resolveQueue = nil
	e.mu.Unlock()

	err := e.performSync(ctx, opts)
	e.finishSync(ctx, err)
	return err
}

func (e *Engine) finishSync(ctx context.Context, result error) {
	e.mu.Lock()
	e.syncing = false
	e.currentOp = nil
	resolutions := e.currentResolutions
	e.currentResolutions = nil
	pendingResolve := len(e.resolveQueue) > 0
	var spawn *spawnEntry
	if len(e.spawnQueue) > 0 {
		entry := e.spawnQueue[0]
		e.spawnQueue = e.spawnQueue[1:]
		spawn = &entry
	}
	e.mu.Unlock()

	for _, done := range resolutions {
		done <- result
	}
	if pendingResolve {
		go func() {
			_ = e.Sync(context.Background(), Options{Timing: TimingResolveOnNext})
		}()
	}
	if spawn != nil {
		go func(entry spawnEntry) {
			entry.done <- e.Sync(context.Background(), entry.opts)
		}(*spawn)
	}
}

func (e *Engine) performSync(ctx context.Context, opts Options) error {
	if err := e.preSyncSave(ctx); err != nil {
		return err
	}

	now := e.now()
	dirty := e.models.DirtyItems()
	uploads := make([]*payload.Payload, 0, len(dirty))
	for _, it := range dirty {
		// An item whose content never decrypted cannot be re-encrypted;
		// it stays dirty until its key arrives or the user discards it.
		if it.ErrorDecrypting || it.WaitingForKey {
			continue
		}
		values := it.PayloadValues()
		values.LastSyncBegan = now
		p, err := payload.New(values, payload.SourceLocalDirtied, payload.MaxPayloadFields())
		if err != nil {
			return err
		}
		uploads = append(uploads, p)
	}

	e.mu.Lock()
	online := e.online && e.client != nil
	e.mu.Unlock()

	if !online {
		return e.performOfflineSync(ctx, uploads, now)
	}

	encrypted := make([]*payload.Payload, 0, len(uploads))
	for _, p := range uploads {
		key := e.keyManager.KeyToUseForEncryptionOfPayload(p, payload.IntentSync)
		enc, err := e.protocol.EncryptPayload(p, key, payload.IntentSync)
		if err != nil {
			return err
		}
		encrypted = append(encrypted, enc)
	}

	op := NewOperation(encrypted, opts.CheckIntegrity)
	e.mu.Lock()
	e.currentOp = op
	e.mu.Unlock()

	for {
		if op.Cancelled() {
			e.log.Info(ctx, "sync cancelled between rounds")
			break
		}
		batch := op.PopPayloads()

		e.mu.Lock()
		req := api.SyncRequest{
			API:              api.Version,
			Items:            ejectAll(batch),
			SyncToken:        e.syncToken,
			CursorToken:      e.cursorToken,
			Limit:            api.DefaultUpLimit,
			ComputeIntegrity: op.CheckIntegrity(),
		}
		e.mu.Unlock()

		op.LockCancelation()
		resp, err := e.client.Sync(ctx, req)
		op.UnlockCancelation()
		if err != nil {
			if errors.Is(err, common.ErrInvalidSession) {
				e.notify(ctx, EventInvalidSession, err)
				return err
			}
			e.notify(ctx, EventSyncError, err)
			return err
		}

		if err := e.handleResponse(ctx, op, resp); err != nil {
			return err
		}
		e.notify(ctx, EventSingleSyncCompleted, nil)

		e.mu.Lock()
		cursor := e.cursorToken
		e.mu.Unlock()
		if op.PendingUploadCount() == 0 && cursor == "" {
			break
		}
	}

	if op.ItemsInvolved() >= e.majorChangeThreshold {
		e.notify(ctx, EventMajorDataChange, op.ItemsInvolved())
	}
	e.notify(ctx, EventFullSyncCompleted, op.ItemsInvolved())
	return nil
}

// performOfflineSync persists dirty payloads locally and marks them clean;
// there is no server to talk to.
func (e *Engine) performOfflineSync(ctx context.Context, uploads []*payload.Payload, now time.Time) error {
	cleaned := make([]*payload.Payload, 0, len(uploads))
	for _, p := range uploads {
		cleaned = append(cleaned, p.WithSource(payload.SourceLocalSaved,
			payload.WithDirty(false),
			payload.WithLastSyncEnd(now),
		))
	}
	if err := e.persistPayloads(ctx, cleaned); err != nil {
		return err
	}
	e.models.MapPayloadsToLocalItems(ctx, cleaned, payload.SourceLocalSaved)
	e.notify(ctx, EventFullSyncCompleted, len(uploads))
	return nil
}

// preSyncSave persists anything dirtied since the last save so an
// interrupted upload cannot lose local edits.
func (e *Engine) preSyncSave(ctx context.Context) error {
	e.mu.Lock()
	since := e.lastPreSyncSave
	e.mu.Unlock()

	var toSave []*payload.Payload
	for _, it := range e.models.DirtyItems() {
		if !it.DirtiedAt.After(since) {
			continue
		}
		if it.ErrorDecrypting || it.WaitingForKey {
			continue
		}
		p, err := payload.New(it.PayloadValues(), payload.SourceLocalDirtied, payload.MaxPayloadFields())
		if err != nil {
			return err
		}
		toSave = append(toSave, p)
	}
	if err := e.persistPayloads(ctx, toSave); err != nil {
		return err
	}

	now := e.now()
	e.mu.Lock()
	e.lastPreSyncSave = now
	e.mu.Unlock()
	return e.store.SetValue(ctx, storage.KeyLastPreSyncSave, now.Format(time.RFC3339Nano))
}

// persistPayloads writes payloads to the store under the prefer-encrypted
// intent and evicts discardable ones.
func (e *Engine) persistPayloads(ctx context.Context, payloads []*payload.Payload) error {
	var raws []payload.Raw
	var evict []string
	for _, p := range payloads {
		if p == nil {
			continue
		}
		if p.Discardable() {
			evict = append(evict, p.UUID())
			continue
		}
		toStore := p
		if p.Format() == payload.FormatDecryptedBareObject && p.ContentObject() != nil {
			key := e.keyManager.KeyToUseForEncryptionOfPayload(p, payload.IntentLocalStoragePreferEncrypted)
			enc, err := e.protocol.EncryptPayload(p, key, payload.IntentLocalStoragePreferEncrypted)
			if err != nil {
				return err
			}
			toStore = enc
		}
		stored, err := toStore.CopyAsFields(payload.StoragePayloadFields(), payload.SourceLocalSaved)
		if err != nil {
			return err
		}
		raws = append(raws, stored.Ejected())
	}
	if err := e.store.SavePayloads(ctx, raws); err != nil {
		return err
	}
	return e.store.DeletePayloads(ctx, evict)
}

func (e *Engine) handleResponse(ctx context.Context, op *Operation, resp *api.SyncResponse) error {
	op.AddItemsInvolved(len(resp.RetrievedItems) + len(resp.SavedItems) + len(resp.Conflicts))

	retrieved := make([]*payload.Payload, 0, len(resp.RetrievedItems))
	for _, raw := range resp.RetrievedItems {
		p, err := payload.FromRaw(raw, payload.SourceRemoteRetrieved)
		if err != nil {
			e.log.Warn(ctx, "skipping malformed retrieved payload", "uuid", raw.UUID, "error", err)
			continue
		}
		retrieved = append(retrieved, p)
	}
	decryptedRetrieved, err := e.decryptWithItemsKeysFirst(ctx, retrieved)
	if err != nil {
		return err
	}

	saved := make([]*payload.Payload, 0, len(resp.SavedItems))
	for _, raw := range resp.SavedItems {
		p, err := payload.FromRaw(raw, payload.SourceRemoteSaved)
		if err != nil {
			continue
		}
		saved = append(saved, p)
	}

	conflicts := make([]*payload.Payload, 0, len(resp.Conflicts))
	for _, c := range resp.Conflicts {
		raw := c.ServerRaw()
		if raw == nil {
			continue
		}
		p, err := payload.FromRaw(*raw, payload.SourceRemoteConflict)
		if err != nil {
			continue
		}
		conflicts = append(conflicts, p)
	}
	decryptedConflicts, err := e.decryptWithItemsKeysFirst(ctx, conflicts)
	if err != nil {
		return err
	}

	// The base snapshot is taken once, at response time, before any
	// category maps.
	base := e.models.SnapshotCollection(payload.SourceLocalRetrieved)
	resolver := NewResponseResolver(decryptedRetrieved, saved, decryptedConflicts, base, e.newUUID, e.now())
	for _, coll := range resolver.Collections() {
		mapped := coll.All()
		e.models.MapPayloadsToLocalItems(ctx, mapped, coll.Source())
		if err := e.persistPayloads(ctx, mapped); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.syncToken = resp.SyncToken
	e.cursorToken = resp.CursorToken
	e.mu.Unlock()
	if resp.SyncToken != "" {
		if err := e.store.SetValue(ctx, storage.KeyLastSyncToken, resp.SyncToken); err != nil {
			return err
		}
	}
	if resp.CursorToken != "" {
		if err := e.store.SetValue(ctx, storage.KeyPaginationToken, resp.CursorToken); err != nil {
			return err
		}
	} else if err := e.store.RemoveValue(ctx, storage.KeyPaginationToken); err != nil {
		return err
	}

	if resp.IntegrityHash != "" {
		clientHash := ComputeIntegrityHash(e.models.Items())
		entered, exited := e.state.UpdateHashes(clientHash, resp.IntegrityHash)
		if entered {
			e.log.Warn(ctx, "integrity discordance threshold reached")
			e.notify(ctx, EventEnterOutOfSync, nil)
		}
		if exited {
			e.notify(ctx, EventExitOutOfSync, nil)
		}
	}
	return nil
}

// retryWaitingPayloads re-attempts decryption of stored payloads whose
// items key has just arrived.
func (e *Engine) retryWaitingPayloads(ctx context.Context) {
	waiting := make(map[string]struct{})
	for _, it := range e.models.Items() {
		if it.WaitingForKey {
			waiting[it.UUID] = struct{}{}
		}
	}
	if len(waiting) == 0 {
		return
	}

	raws, err := e.store.GetAllRawPayloads(ctx)
	if err != nil {
		e.log.Error(ctx, "waiting-for-key retry failed to read store", "error", err)
		return
	}
	var stale []*payload.Payload
	for _, raw := range raws {
		if _, ok := waiting[raw.UUID]; !ok {
			continue
		}
		p, err := payload.FromRaw(raw, payload.SourceLocalRetrieved)
		if err != nil {
			continue
		}
		stale = append(stale, p.With(payload.WithWaitingForKey(true)))
	}
	decrypted, err := e.decryptWithItemsKeysFirst(ctx, stale)
	if err != nil {
		e.log.Error(ctx, "waiting-for-key retry decrypt failed", "error", err)
		return
	}
	e.models.MapPayloadsToLocalItems(ctx, decrypted, payload.SourceLocalRetrieved)
}

// ChangePassword derives a fresh root key from the new password, rotates in
// a new default items key and marks everything for re-upload.
func (e *Engine) ChangePassword(ctx context.Context, identifier, newPassword string) (keys.KeyParams, error) {
	op := e.protocol.DefaultOperator()
	rootKey, params, err := op.CreateRootKey(identifier, newPassword)
	if err != nil {
		return keys.KeyParams{}, err
	}
	e.keyManager.SetRootKey(rootKey)

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return keys.KeyParams{}, err
	}
	if err := e.store.SetValue(ctx, storage.KeyRootKeyParams, string(paramsJSON)); err != nil {
		return keys.KeyParams{}, err
	}

	if _, err := e.CreateNewDefaultItemsKey(ctx); err != nil {
		return keys.KeyParams{}, err
	}
	e.models.MarkAllItemsAsNeedingSync(ctx)
	return params, nil
}

// CreateNewDefaultItemsKey mints a fresh items key, maps it as a dirty item
// and registers it as the default for new encryptions.
func (e *Engine) CreateNewDefaultItemsKey(ctx context.Context) (*keys.ItemsKey, error) {
	ik, err := e.protocol.DefaultOperator().CreateItemsKey()
	if err != nil {
		return nil, err
	}
	p, err := payload.New(payload.Values{
		UUID:        ik.UUID,
		ContentType: payload.ContentTypeItemsKey,
		Content:     ik.Content(),
		Dirty:       true,
		DirtiedAt:   e.now(),
	}, payload.SourceConstructor, payload.MaxPayloadFields())
	if err != nil {
		return nil, err
	}
	e.models.MapPayloadsToLocalItems(ctx, []*payload.Payload{p}, payload.SourceConstructor)
	e.keyManager.AddItemsKeys(ctx, ik)
	return ik, nil
}

// SignOut clears the session, root key and sync bookkeeping. The encrypted
// payload cache stays so the account can come back offline-first.
func (e *Engine) SignOut(ctx context.Context) error {
	e.keyManager.ClearRootKey()
	if e.session != nil {
		e.session.Clear()
	}
	e.state.Reset()
	e.SetOnline(false)

	e.mu.Lock()
	e.syncToken = ""
	e.cursorToken = ""
	e.mu.Unlock()

	for _, key := range []string{storage.KeyLastSyncToken, storage.KeyPaginationToken, storage.KeyRootKeyParams} {
		if err := e.store.RemoveValue(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func ejectAll(payloads []*payload.Payload) []payload.Raw {
	out := make([]payload.Raw, 0, len(payloads))
	for _, p := range payloads {
		server, err := p.CopyAsFields(payload.ServerPayloadFields(), p.Source())
		if err != nil {
			continue
		}
		out = append(out, server.Ejected())
	}
	return out
}
