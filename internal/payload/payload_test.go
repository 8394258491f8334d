package payload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNew(t *testing.T, v Values, source Source, fields []Field) *Payload {
	t.Helper()
	p, err := New(v, source, fields)
	require.NoError(t, err)
	return p
}

func noteContent(text string, refs ...Reference) Content {
	c := NewContent()
	c["text"] = text
	if len(refs) > 0 {
		c = c.WithReferences(refs)
	}
	return c
}

func TestNew_RequiresUUID(t *testing.T) {
	_, err := New(Values{ContentType: ContentTypeNote}, SourceConstructor, MaxPayloadFields())
	assert.Error(t, err)
}

func TestFormat_Derivation(t *testing.T) {
	tests := []struct {
		name    string
		content any
		deleted bool
		want    Format
	}{
		{"encrypted string", "004:abc:def:ghi", false, FormatEncryptedString},
		{"legacy encrypted string", "003:hmac:uuid:iv:ct", false, FormatEncryptedString},
		{"base64 string", "000eyJ0ZXh0IjoiaGkifQ==", false, FormatDecryptedBase64String},
		{"bare object", noteContent("hi"), false, FormatDecryptedBareObject},
		{"tombstone", nil, true, FormatDeleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustNew(t, Values{
				UUID: "u1", ContentType: ContentTypeNote,
				Content: tt.content, Deleted: tt.deleted,
			}, SourceConstructor, MaxPayloadFields())
			assert.Equal(t, tt.want, p.Format())
		})
	}

	p := mustNew(t, Values{UUID: "u1", ContentType: ContentTypeNote, Content: "003:h:u:i:c"},
		SourceConstructor, MaxPayloadFields())
	assert.Equal(t, "003", p.Version())
}

func TestPayload_ContentObjectIsACopy(t *testing.T) {
	p := mustNew(t, Values{
		UUID: "u1", ContentType: ContentTypeNote, Content: noteContent("original"),
	}, SourceConstructor, MaxPayloadFields())

	c := p.ContentObject()
	c["text"] = "mutated"

	assert.Equal(t, "original", p.ContentObject()["text"])
}

func TestWith_UnionsFields(t *testing.T) {
	p := mustNew(t, Values{UUID: "u1", ContentType: ContentTypeNote},
		SourceConstructor, []Field{FieldUUID, FieldContentType})

	derived := p.With(WithDirty(true), WithDirtiedAt(time.Now()))

	assert.True(t, derived.HasField(FieldDirty))
	assert.True(t, derived.HasField(FieldDirtiedAt))
	assert.True(t, derived.Dirty())
	// Base is untouched.
	assert.False(t, p.HasField(FieldDirty))
}

func TestDiscardable(t *testing.T) {
	p := mustNew(t, Values{UUID: "u1", ContentType: ContentTypeNote, Deleted: true},
		SourceConstructor, MaxPayloadFields())
	assert.True(t, p.Discardable())
	assert.False(t, p.With(WithDirty(true)).Discardable())
}

func TestEjected_OmitsNonPersistableAndNullOptionals(t *testing.T) {
	now := time.Now()
	p := mustNew(t, Values{
		UUID: "u1", ContentType: ContentTypeNote,
		Content:         "004:a:b:c",
		Dirty:           true,
		DirtiedAt:       now,
		ErrorDecrypting: true,
		LastSyncBegan:   now,
	}, SourceConstructor, MaxPayloadFields())

	raw := p.Ejected()
	assert.Equal(t, "u1", raw.UUID)
	assert.Equal(t, "004:a:b:c", raw.Content)
	assert.Nil(t, raw.Deleted)
	assert.Empty(t, raw.AuthHash)
	// dirtiedDate, errorDecrypting and cycle stamps never persist; Raw has
	// no carriers for them at all, and dirty survives only as a flag.
	require.NotNil(t, raw.Dirty)
	assert.True(t, *raw.Dirty)
}

func TestFromRaw_RoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	del := true
	raw := Raw{
		UUID:        "u1",
		ContentType: ContentTypeNote,
		Content:     "004:n:c:a",
		EncItemKey:  "004:n2:c2:a2",
		ItemsKeyID:  "ik1",
		Deleted:     &del,
		UpdatedAt:   &now,
	}
	p, err := FromRaw(raw, SourceRemoteRetrieved)
	require.NoError(t, err)

	assert.Equal(t, "u1", p.UUID())
	assert.Equal(t, "ik1", p.ItemsKeyID())
	assert.True(t, p.Deleted())
	assert.Equal(t, now, p.UpdatedAt())
	assert.Equal(t, SourceRemoteRetrieved, p.Source())
}

func TestEqualContent_IgnoresOrdering(t *testing.T) {
	a := Content{"references": []any{}, "text": "hi", "n": 1}
	b := Content{"n": 1, "text": "hi", "references": []any{}}
	assert.True(t, EqualContent(a, b))

	c := Content{"references": []any{}, "text": "bye"}
	assert.False(t, EqualContent(a, c))
}

func TestCollection_LookupAndOrder(t *testing.T) {
	p1 := mustNew(t, Values{UUID: "a", ContentType: ContentTypeNote}, SourceConstructor, MaxPayloadFields())
	p2 := mustNew(t, Values{UUID: "b", ContentType: ContentTypeNote}, SourceConstructor, MaxPayloadFields())

	c := NewCollection([]*Payload{p1, p2}, SourceLocalRetrieved)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"a", "b"}, c.UUIDs())
	assert.Same(t, p2, c.Get("b"))
	assert.Nil(t, c.Get("missing"))

	// Replacement keeps order, derivation does not mutate the base.
	p1b := p1.With(WithDirty(true))
	c2 := c.Merged(p1b)
	assert.Equal(t, []string{"a", "b"}, c2.UUIDs())
	assert.Same(t, p1, c.Get("a"))
	assert.Same(t, p1b, c2.Get("a"))
}
