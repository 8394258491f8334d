package syncer

import (
	"context"

	"github.com/mkosyakov/notesync/internal/api"
	"github.com/mkosyakov/notesync/internal/payload"
)

// downloadAllPayloads pulls every server payload through pagination,
// accumulating rounds until the cursor token runs dry. The engine's own
// sync tokens are not touched.
func (e *Engine) downloadAllPayloads(ctx context.Context) ([]*payload.Payload, error) {
	var all []*payload.Payload
	cursor := ""
	for {
		resp, err := e.client.Sync(ctx, api.SyncRequest{
			API:         api.Version,
			CursorToken: cursor,
			Limit:       api.DefaultUpLimit,
		})
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.RetrievedItems {
			p, perr := payload.FromRaw(raw, payload.SourceRemoteRetrieved)
			if perr != nil {
				e.log.Warn(ctx, "skipping malformed downloaded payload", "uuid", raw.UUID, "error", perr)
				continue
			}
			all = append(all, p)
		}
		if resp.CursorToken == "" {
			break
		}
		cursor = resp.CursorToken
	}
	return all, nil
}

// ResolveOutOfSync recovers from integrity divergence: download everything,
// fork every divergent uuid into a local duplicate, overwrite with the
// server copy, then re-sync with an integrity check. ExitOutOfSync is
// emitted by the integrity update once the hashes agree again.
func (e *Engine) ResolveOutOfSync(ctx context.Context) error {
	downloaded, err := e.downloadAllPayloads(ctx)
	if err != nil {
		return err
	}
	decrypted, err := e.decryptWithItemsKeysFirst(ctx, downloaded)
	if err != nil {
		return err
	}

	base := e.models.SnapshotCollection(payload.SourceLocalRetrieved)
	apply := payload.NewCollection(decrypted, payload.SourceRemoteRetrieved)
	result := payload.DeltaOutOfSync(base, apply, e.newUUID, e.now())

	mapped := result.All()
	e.models.MapPayloadsToLocalItems(ctx, mapped, result.Source())
	if err := e.persistPayloads(ctx, mapped); err != nil {
		return err
	}

	return e.Sync(ctx, Options{CheckIntegrity: true})
}
