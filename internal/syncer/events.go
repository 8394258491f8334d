// Package syncer drives the multi-round incremental sync: operation state
// machine, queue serialization, response resolution, integrity tracking and
// out-of-sync recovery.
package syncer

import "context"

// Event identifies a sync lifecycle notification.
type Event string

const (
	EventFullSyncCompleted   Event = "FullSyncCompleted"
	EventSingleSyncCompleted Event = "SingleSyncCompleted"
	EventMajorDataChange     Event = "MajorDataChange"
	EventSyncError           Event = "SyncError"
	EventInvalidSession      Event = "InvalidSession"
	EventEnterOutOfSync      Event = "EnterOutOfSync"
	EventExitOutOfSync       Event = "ExitOutOfSync"
	EventDatabaseLoaded      Event = "DatabaseLoaded"
)

// EventObserver receives sync lifecycle events. Data is event-specific:
// item counts for EventFullSyncCompleted, EventMajorDataChange and
// EventDatabaseLoaded, the error for EventSyncError and EventInvalidSession,
// nil otherwise.
type EventObserver func(ctx context.Context, event Event, data any)
