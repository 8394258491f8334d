package syncer

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkosyakov/notesync/internal/item"
	"github.com/mkosyakov/notesync/internal/payload"
)

func makeUploadPayloads(t *testing.T, n int) []*payload.Payload {
	t.Helper()
	out := make([]*payload.Payload, 0, n)
	for i := 0; i < n; i++ {
		p, err := payload.New(payload.Values{
			UUID:        fmt.Sprintf("u-%d", i),
			ContentType: payload.ContentTypeNote,
			Content:     "004:n:c:a",
		}, payload.SourceLocalDirtied, payload.MaxPayloadFields())
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func TestComputeIntegrityHash_StableUnderReordering(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	a := &item.Item{UUID: "a", UpdatedAt: base}
	b := &item.Item{UUID: "b", UpdatedAt: base.Add(time.Minute)}
	c := &item.Item{UUID: "c", UpdatedAt: base.Add(2 * time.Minute)}

	h1 := ComputeIntegrityHash([]*item.Item{a, b, c})
	h2 := ComputeIntegrityHash([]*item.Item{c, a, b})
	assert.Equal(t, h1, h2)

	// Deleted and dummy items are excluded.
	d := &item.Item{UUID: "d", UpdatedAt: base.Add(3 * time.Minute), Deleted: true}
	e := &item.Item{UUID: "e", UpdatedAt: base.Add(4 * time.Minute), Dummy: true}
	assert.Equal(t, h1, ComputeIntegrityHash([]*item.Item{a, b, c, d, e}))

	// A single updated_at mutation changes the digest.
	b2 := &item.Item{UUID: "b", UpdatedAt: base.Add(90 * time.Second)}
	assert.NotEqual(t, h1, ComputeIntegrityHash([]*item.Item{a, b2, c}))
}

func TestState_DiscordanceThreshold(t *testing.T) {
	s := NewState()

	for i := 0; i < DefaultMaxDiscordance-1; i++ {
		entered, exited := s.UpdateHashes("client", "server")
		assert.False(t, entered)
		assert.False(t, exited)
	}
	entered, _ := s.UpdateHashes("client", "server")
	assert.True(t, entered)
	assert.True(t, s.IsOutOfSync())

	// Further mismatches do not re-enter.
	entered, _ = s.UpdateHashes("client", "server")
	assert.False(t, entered)

	// A match exits and resets the counter.
	_, exited := s.UpdateHashes("same", "same")
	assert.True(t, exited)
	assert.False(t, s.IsOutOfSync())
}

func TestState_MatchResetsCounter(t *testing.T) {
	s := NewState()
	s.UpdateHashes("a", "b")
	s.UpdateHashes("a", "b")
	s.UpdateHashes("x", "x")
	for i := 0; i < DefaultMaxDiscordance-1; i++ {
		entered, _ := s.UpdateHashes("a", "b")
		assert.False(t, entered)
	}
}

func TestOperation_PopAndPendingCount(t *testing.T) {
	uploads := makeUploadPayloads(t, 200)
	op := NewOperation(uploads, false)

	batch := op.PopPayloads()
	assert.Len(t, batch, 150)
	assert.Equal(t, 50, op.PendingUploadCount())

	batch = op.PopPayloads()
	assert.Len(t, batch, 50)
	assert.Equal(t, 0, op.PendingUploadCount())
	assert.Empty(t, op.PopPayloads())
}

func TestOperation_CancelBetweenRoundsOnly(t *testing.T) {
	op := NewOperation(nil, false)

	op.LockCancelation()
	assert.False(t, op.TryCancel())
	assert.False(t, op.Cancelled())
	op.UnlockCancelation()

	assert.True(t, op.TryCancel())
	assert.True(t, op.Cancelled())
}
