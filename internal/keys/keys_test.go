package keys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkosyakov/notesync/internal/common"
	"github.com/mkosyakov/notesync/internal/payload"
)

func TestRootKey_EqualConstantTimeSemantics(t *testing.T) {
	a := &RootKey{MasterKey: []byte{1, 2}, ServerPassword: []byte{3, 4}, Version: "004"}
	b := &RootKey{MasterKey: []byte{1, 2}, ServerPassword: []byte{3, 4}, Version: "004"}
	c := &RootKey{MasterKey: []byte{9, 9}, ServerPassword: []byte{3, 4}, Version: "004"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(&RootKey{MasterKey: []byte{1, 2}, ServerPassword: []byte{3, 4}, Version: "003"}))
	assert.False(t, a.Equal(nil))
}

func TestKeyParams_ValidatePerVersion(t *testing.T) {
	assert.NoError(t, NewKeyParams004("user@test.com", "nonce").Validate())
	assert.NoError(t, NewKeyParams003("user@test.com", "nonce", 110000).Validate())
	assert.NoError(t, NewKeyParams002("user@test.com", "salt", 3000).Validate())

	bad := NewKeyParams004("user@test.com", "nonce")
	bad.PwCost = 5000
	assert.Error(t, bad.Validate())

	legacy := NewKeyParams002("user@test.com", "salt", 3000)
	legacy.PwNonce = "nope"
	assert.Error(t, legacy.Validate())

	unknown := KeyParams{Version: "005"}
	assert.ErrorIs(t, unknown.Validate(), common.ErrUnsupportedVersion)
}

func itemsKeyPayload(t *testing.T, uuid string, content payload.Content) *payload.Payload {
	t.Helper()
	p, err := payload.New(payload.Values{
		UUID:        uuid,
		ContentType: payload.ContentTypeItemsKey,
		Content:     content,
	}, payload.SourceConstructor, payload.MaxPayloadFields())
	require.NoError(t, err)
	return p
}

func TestItemsKey_ContentRoundTrip(t *testing.T) {
	ik := &ItemsKey{
		UUID:    "ik1",
		Key:     []byte{0xaa, 0xbb},
		AuthKey: []byte{0xcc},
		Version: "004",
		Default: true,
	}

	p := itemsKeyPayload(t, "ik1", ik.Content())
	got, err := ItemsKeyFromPayload(p)
	require.NoError(t, err)

	assert.Equal(t, ik.Key, got.Key)
	assert.Equal(t, ik.AuthKey, got.AuthKey)
	assert.Equal(t, "004", got.Version)
	assert.True(t, got.Default)
}

func TestItemsKeyFromPayload_RejectsWrongType(t *testing.T) {
	p, err := payload.New(payload.Values{UUID: "n1", ContentType: payload.ContentTypeNote},
		payload.SourceConstructor, payload.MaxPayloadFields())
	require.NoError(t, err)

	_, err = ItemsKeyFromPayload(p)
	assert.ErrorIs(t, err, common.ErrProgrammer)
}

func TestManager_ModeTransitions(t *testing.T) {
	m := NewManager(nil)
	assert.Equal(t, KeyModeRootKeyNone, m.Mode())

	m.SetRootKey(&RootKey{MasterKey: []byte{1}, Version: "004"})
	assert.Equal(t, KeyModeRootKeyOnly, m.Mode())

	m.SetWrapper(true)
	assert.Equal(t, KeyModeRootKeyPlusWrapper, m.Mode())

	m.ClearRootKey()
	assert.Equal(t, KeyModeWrapperOnly, m.Mode())

	m.SetWrapper(false)
	assert.Equal(t, KeyModeRootKeyNone, m.Mode())
}

func TestManager_KeySelection(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil)
	root := &RootKey{MasterKey: []byte{1, 2, 3}, Version: "004"}
	m.SetRootKey(root)

	ik := &ItemsKey{UUID: "ik1", Key: []byte{9, 9}, Version: "004", Default: true}
	m.AddItemsKeys(ctx, ik)

	keyItem := itemsKeyPayload(t, "ik1", ik.Content())
	note, err := payload.New(payload.Values{
		UUID: "n1", ContentType: payload.ContentTypeNote, ItemsKeyID: "ik1",
	}, payload.SourceConstructor, payload.MaxPayloadFields())
	require.NoError(t, err)

	// Items-key content wraps under the root key.
	k := m.KeyToUseForEncryptionOfPayload(keyItem, payload.IntentSync)
	require.NotNil(t, k)
	assert.True(t, k.Root)

	// Regular items wrap under the default items key on 004.
	k = m.KeyToUseForEncryptionOfPayload(note, payload.IntentSync)
	require.NotNil(t, k)
	assert.Equal(t, "ik1", k.ID)

	// Decryption resolves items_key_id.
	k = m.KeyToUseForDecryptionOfPayload(note)
	require.NotNil(t, k)
	assert.Equal(t, "ik1", k.ID)

	// Unknown items key: nil, caller marks waitingForKey.
	orphan := note.With(payload.WithItemsKeyID("missing"))
	assert.Nil(t, m.KeyToUseForDecryptionOfPayload(orphan))
}

func TestManager_LegacyRootKeyWrapsContentDirectly(t *testing.T) {
	m := NewManager(nil)
	m.SetRootKey(&RootKey{MasterKey: []byte{1}, DataAuthenticationKey: []byte{2}, Version: "003"})

	note, err := payload.New(payload.Values{UUID: "n1", ContentType: payload.ContentTypeNote},
		payload.SourceConstructor, payload.MaxPayloadFields())
	require.NoError(t, err)

	k := m.KeyToUseForEncryptionOfPayload(note, payload.IntentSync)
	require.NotNil(t, k)
	assert.True(t, k.Root)
	assert.Equal(t, "003", k.Version)
}

func TestManager_ItemsKeyObserverFires(t *testing.T) {
	m := NewManager(nil)
	var got []*ItemsKey
	m.RegisterItemsKeyObserver("test", func(added []*ItemsKey) { got = added })

	m.AddItemsKeys(context.Background(), &ItemsKey{UUID: "ik1", Key: []byte{1}})
	require.Len(t, got, 1)
	assert.Equal(t, "ik1", got[0].UUID)

	m.UnregisterItemsKeyObserver("test")
	got = nil
	m.AddItemsKeys(context.Background(), &ItemsKey{UUID: "ik2", Key: []byte{2}})
	assert.Nil(t, got)
}
