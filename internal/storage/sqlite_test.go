package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkosyakov/notesync/internal/common"
	"github.com/mkosyakov/notesync/internal/payload"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), "file:storage_tests?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func rawFor(uuid, content string) payload.Raw {
	return payload.Raw{UUID: uuid, ContentType: payload.ContentTypeNote, Content: content}
}

func TestSQLiteStore_PayloadUpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SavePayloads(ctx, []payload.Raw{
		rawFor("a", "004:1"),
		rawFor("b", "004:2"),
	}))
	require.NoError(t, s.SavePayloads(ctx, []payload.Raw{rawFor("a", "004:updated")}))

	raws, err := s.GetAllRawPayloads(ctx)
	require.NoError(t, err)
	require.Len(t, raws, 2)

	byUUID := map[string]payload.Raw{}
	for _, r := range raws {
		byUUID[r.UUID] = r
	}
	assert.Equal(t, "004:updated", byUUID["a"].Content)

	require.NoError(t, s.DeletePayloads(ctx, []string{"a"}))
	raws, err = s.GetAllRawPayloads(ctx)
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, "b", raws[0].UUID)
}

func TestSQLiteStore_Values(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.GetValue(ctx, KeyLastSyncToken)
	assert.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, s.SetValue(ctx, KeyLastSyncToken, "token-1"))
	require.NoError(t, s.SetValue(ctx, KeyLastSyncToken, "token-2"))

	v, err := s.GetValue(ctx, KeyLastSyncToken)
	require.NoError(t, err)
	assert.Equal(t, "token-2", v)

	require.NoError(t, s.RemoveValue(ctx, KeyLastSyncToken))
	_, err = s.GetValue(ctx, KeyLastSyncToken)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestMemoryStore_MirrorsInterface(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.SavePayloads(ctx, []payload.Raw{rawFor("a", "x"), rawFor("b", "y")}))
	raws, err := s.GetAllRawPayloads(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, []string{raws[0].UUID, raws[1].UUID})

	require.NoError(t, s.DeletePayloads(ctx, []string{"a"}))
	raws, _ = s.GetAllRawPayloads(ctx)
	require.Len(t, raws, 1)

	require.NoError(t, s.SetValue(ctx, "k", "v"))
	v, err := s.GetValue(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}
