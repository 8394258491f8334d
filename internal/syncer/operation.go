package syncer

import (
	"sync"

	"github.com/mkosyakov/notesync/internal/api"
	"github.com/mkosyakov/notesync/internal/payload"
)

// Operation is the state machine of one sync run: a queue of encrypted
// upload payloads drained in rounds of up to upLimit, plus cancellation
// bookkeeping. Cancellation is honored between rounds only; a round in
// flight locks it out.
type Operation struct {
	mu      sync.Mutex
	pending []*payload.Payload
	upLimit int

	checkIntegrity bool

	cancelLocked bool
	cancelled    bool

	itemsInvolved int
}

func NewOperation(uploads []*payload.Payload, checkIntegrity bool) *Operation {
	return &Operation{
		pending:        uploads,
		upLimit:        api.DefaultUpLimit,
		checkIntegrity: checkIntegrity,
	}
}

// PopPayloads removes and returns up to upLimit payloads for one round.
func (o *Operation) PopPayloads() []*payload.Payload {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := o.upLimit
	if n > len(o.pending) {
		n = len(o.pending)
	}
	batch := o.pending[:n]
	o.pending = o.pending[n:]
	return batch
}

// PendingUploadCount returns how many payloads still await upload.
func (o *Operation) PendingUploadCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

func (o *Operation) CheckIntegrity() bool { return o.checkIntegrity }

// LockCancelation brackets the start of an HTTP round; cancel requests
// arriving while locked are rejected.
func (o *Operation) LockCancelation() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelLocked = true
}

// UnlockCancelation ends the round bracket.
func (o *Operation) UnlockCancelation() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelLocked = false
}

// TryCancel requests cancellation and reports whether it took effect.
// Mid-round requests are rejected, not deferred.
func (o *Operation) TryCancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelLocked {
		return false
	}
	o.cancelled = true
	return true
}

// Cancelled reports whether the operation should stop before its next round.
func (o *Operation) Cancelled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled
}

// AddItemsInvolved accumulates the response sizes for completion events.
func (o *Operation) AddItemsInvolved(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.itemsInvolved += n
}

// ItemsInvolved returns the total items touched across all rounds.
func (o *Operation) ItemsInvolved() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.itemsInvolved
}
