package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkosyakov/notesync/internal/api"
	"github.com/mkosyakov/notesync/internal/item"
	"github.com/mkosyakov/notesync/internal/payload"
)

// TestIntegrityRecovery walks the full out-of-sync cycle: five mismatched
// integrity checks enter the out-of-sync state, ResolveOutOfSync downloads
// the server set, duplicates the divergent local copy, and the follow-up
// integrity check exits the state.
func TestIntegrityRecovery(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t).loaded(t)
	env.withAccount(t)
	env.addDirtyNote(t, "n1", "local content")

	t1 := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 7, 1, 11, 0, 0, 0, time.UTC)
	t3 := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

	var events []Event
	env.engine.RegisterObserver("test", func(ctx context.Context, ev Event, data any) {
		events = append(events, ev)
	})

	// Initial upload: server acknowledges everything at t1.
	env.client.onSync = func(req api.SyncRequest) (*api.SyncResponse, error) {
		resp := &api.SyncResponse{SyncToken: "st"}
		for _, raw := range req.Items {
			resp.SavedItems = append(resp.SavedItems, payload.Raw{
				UUID: raw.UUID, ContentType: raw.ContentType, UpdatedAt: &t1,
			})
		}
		return resp, nil
	}
	require.NoError(t, env.engine.Sync(ctx, Options{}))
	require.Empty(t, env.models.DirtyItems())

	// The server drifts: its copy of n1 changed at t2, but the change never
	// reaches the client. Every integrity check mismatches.
	env.client.onSync = func(req api.SyncRequest) (*api.SyncResponse, error) {
		return &api.SyncResponse{SyncToken: "st", IntegrityHash: "server-hash-that-never-matches"}, nil
	}
	for i := 0; i < DefaultMaxDiscordance; i++ {
		require.NoError(t, env.engine.Sync(ctx, Options{CheckIntegrity: true}))
	}
	assert.Contains(t, events, EventEnterOutOfSync)
	require.True(t, env.engine.State().IsOutOfSync())

	// Server-side n1 diverged: encrypt its version under the account key.
	ik := env.keys.DefaultItemsKey()
	serverContent := payload.NewContent()
	serverContent["text"] = "server content"
	sp, err := payload.New(payload.Values{
		UUID: "n1", ContentType: payload.ContentTypeNote, Content: serverContent,
	}, payload.SourceConstructor, payload.MaxPayloadFields())
	require.NoError(t, err)
	encServer, err := env.protocol.EncryptPayload(sp, ik.EncryptionKey(), payload.IntentSync)
	require.NoError(t, err)
	serverP, err := encServer.CopyAsFields(payload.ServerPayloadFields(), payload.SourceRemoteRetrieved)
	require.NoError(t, err)
	serverRaw := serverP.Ejected()
	serverRaw.UpdatedAt = &t2

	env.client.onSync = func(req api.SyncRequest) (*api.SyncResponse, error) {
		if len(req.Items) == 0 && !req.ComputeIntegrity {
			// The recovery downloader: hand over the full server set.
			return &api.SyncResponse{SyncToken: "st", RetrievedItems: []payload.Raw{serverRaw}}, nil
		}
		// The re-sync after recovery: acknowledge the duplicate at t3 and
		// report the hash of the now-shared item set.
		resp := &api.SyncResponse{SyncToken: "st"}
		for _, raw := range req.Items {
			resp.SavedItems = append(resp.SavedItems, payload.Raw{
				UUID: raw.UUID, ContentType: raw.ContentType, UpdatedAt: &t3,
			})
		}
		if req.ComputeIntegrity {
			resp.IntegrityHash = ComputeIntegrityHash([]*item.Item{
				{UUID: "ik", UpdatedAt: t1},
				{UUID: "n1", UpdatedAt: t2},
				{UUID: "dup", UpdatedAt: t3},
			})
		}
		return resp, nil
	}

	require.NoError(t, env.engine.ResolveOutOfSync(ctx))

	// The server copy took the original uuid; local divergent content
	// survived as a duplicate.
	assert.Equal(t, "server content", env.models.Item("n1").Content["text"])
	dup := env.models.Item("dup-1")
	require.NotNil(t, dup)
	assert.Equal(t, "local content", dup.Content["text"])

	assert.Contains(t, events, EventExitOutOfSync)
	assert.False(t, env.engine.State().IsOutOfSync())
}
