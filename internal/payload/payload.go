package payload

import (
	"fmt"
	"strings"
	"time"

	"github.com/mkosyakov/notesync/internal/common"
)

// Payload is the immutable vehicle flowing through the sync pipeline. All
// fields are unexported; construction goes through New or FromRaw, and every
// "change" produces a new payload via With. Content objects are deep-copied
// on the way in and out, so holders of a Payload can never mutate it.
type Payload struct {
	uuid        string
	contentType string

	// content is one of: string (encrypted or base64-encoded), Content
	// (decrypted bare object), or nil.
	content    any
	encItemKey string
	itemsKeyID string
	deleted    bool
	authHash   string

	createdAt time.Time
	updatedAt time.Time

	dirty     bool
	dirtiedAt time.Time

	errorDecrypting        bool
	errorDecryptingChanged bool
	waitingForKey          bool

	lastSyncBegan time.Time
	lastSyncEnd   time.Time

	fields map[Field]struct{}
	source Source
	format Format
}

// Values carries the attribute values for constructing a payload. Only
// values whose field name appears in the presence set are retained.
type Values struct {
	UUID                   string
	ContentType            string
	Content                any
	EncItemKey             string
	ItemsKeyID             string
	Deleted                bool
	AuthHash               string
	CreatedAt              time.Time
	UpdatedAt              time.Time
	Dirty                  bool
	DirtiedAt              time.Time
	ErrorDecrypting        bool
	ErrorDecryptingChanged bool
	WaitingForKey          bool
	LastSyncBegan          time.Time
	LastSyncEnd            time.Time
}

// New constructs a payload from values, a provenance source and a
// field-presence set. UUID is required whenever the uuid field is present.
func New(v Values, source Source, fields []Field) (*Payload, error) {
	p := &Payload{source: source, fields: make(map[Field]struct{}, len(fields))}
	for _, f := range fields {
		p.fields[f] = struct{}{}
	}

	if p.has(FieldUUID) {
		if v.UUID == "" {
			return nil, fmt.Errorf("%w: payload requires uuid", common.ErrProgrammer)
		}
		p.uuid = v.UUID
	}
	if p.has(FieldContentType) {
		p.contentType = v.ContentType
	}
	if p.has(FieldContent) {
		p.content = copyContentValue(v.Content)
	}
	if p.has(FieldEncItemKey) {
		p.encItemKey = v.EncItemKey
	}
	if p.has(FieldItemsKeyID) {
		p.itemsKeyID = v.ItemsKeyID
	}
	if p.has(FieldDeleted) {
		p.deleted = v.Deleted
	}
	if p.has(FieldAuthHash) {
		p.authHash = v.AuthHash
	}
	if p.has(FieldCreatedAt) {
		p.createdAt = v.CreatedAt
	}
	if p.has(FieldUpdatedAt) {
		p.updatedAt = v.UpdatedAt
	}
	if p.has(FieldDirty) {
		p.dirty = v.Dirty
	}
	if p.has(FieldDirtiedAt) {
		p.dirtiedAt = v.DirtiedAt
	}
	if p.has(FieldErrorDecrypting) {
		p.errorDecrypting = v.ErrorDecrypting
	}
	if p.has(FieldErrorDecryptingChanged) {
		p.errorDecryptingChanged = v.ErrorDecryptingChanged
	}
	if p.has(FieldWaitingForKey) {
		p.waitingForKey = v.WaitingForKey
	}
	if p.has(FieldLastSyncBegan) {
		p.lastSyncBegan = v.LastSyncBegan
	}
	if p.has(FieldLastSyncEnd) {
		p.lastSyncEnd = v.LastSyncEnd
	}

	p.format = deriveFormat(p.content, p.deleted)
	return p, nil
}

func (p *Payload) has(f Field) bool {
	_, ok := p.fields[f]
	return ok
}

func copyContentValue(v any) any {
	switch c := v.(type) {
	case nil:
		return nil
	case string:
		return c
	case Content:
		return c.Copy()
	case map[string]any:
		return Content(c).Copy()
	default:
		return c
	}
}

func deriveFormat(content any, deleted bool) Format {
	switch c := content.(type) {
	case string:
		if strings.HasPrefix(c, Base64Prefix) {
			return FormatDecryptedBase64String
		}
		return FormatEncryptedString
	case Content:
		return FormatDecryptedBareObject
	default:
		if deleted {
			return FormatDeleted
		}
		return FormatDecryptedBareObject
	}
}

// Accessors. Content objects are returned as deep copies.

func (p *Payload) UUID() string        { return p.uuid }
func (p *Payload) ContentType() string { return p.contentType }
func (p *Payload) EncItemKey() string  { return p.encItemKey }
func (p *Payload) ItemsKeyID() string  { return p.itemsKeyID }
func (p *Payload) Deleted() bool       { return p.deleted }
func (p *Payload) AuthHash() string    { return p.authHash }

func (p *Payload) CreatedAt() time.Time { return p.createdAt }
func (p *Payload) UpdatedAt() time.Time { return p.updatedAt }

func (p *Payload) Dirty() bool          { return p.dirty }
func (p *Payload) DirtiedAt() time.Time { return p.dirtiedAt }

func (p *Payload) ErrorDecrypting() bool        { return p.errorDecrypting }
func (p *Payload) ErrorDecryptingChanged() bool { return p.errorDecryptingChanged }
func (p *Payload) WaitingForKey() bool          { return p.waitingForKey }

func (p *Payload) LastSyncBegan() time.Time { return p.lastSyncBegan }
func (p *Payload) LastSyncEnd() time.Time   { return p.lastSyncEnd }

func (p *Payload) Source() Source { return p.source }
func (p *Payload) Format() Format { return p.format }

// Fields returns the presence set in stable order.
func (p *Payload) Fields() []Field {
	out := make([]Field, 0, len(p.fields))
	for _, f := range MaxPayloadFields() {
		if p.has(f) {
			out = append(out, f)
		}
	}
	return out
}

// HasField reports whether the named field is present in this payload class.
func (p *Payload) HasField(f Field) bool { return p.has(f) }

// ContentString returns the string content for encrypted or base64 formats.
func (p *Payload) ContentString() string {
	if s, ok := p.content.(string); ok {
		return s
	}
	return ""
}

// ContentObject returns a deep copy of the decrypted content object, or nil.
func (p *Payload) ContentObject() Content {
	if c, ok := p.content.(Content); ok {
		return c.Copy()
	}
	return nil
}

// RawContent returns the content value as stored: a string, a copied
// Content, or nil.
func (p *Payload) RawContent() any { return copyContentValue(p.content) }

// Version returns the 3-char protocol tag of encrypted content, or the
// current version for decrypted payloads.
func (p *Payload) Version() string {
	if p.format == FormatEncryptedString {
		s := p.ContentString()
		if len(s) >= 3 {
			return s[:3]
		}
	}
	return "004"
}

// Discardable reports whether the payload is safe to evict from the
// persistent store.
func (p *Payload) Discardable() bool { return p.deleted && !p.dirty }

// UpdatedAtTimestamp returns the server timestamp in unix milliseconds, the
// unit used by the integrity hash.
func (p *Payload) UpdatedAtTimestamp() int64 { return p.updatedAt.UnixMilli() }

// values exports the current state for derivation.
func (p *Payload) values() Values {
	return Values{
		UUID:                   p.uuid,
		ContentType:            p.contentType,
		Content:                p.content,
		EncItemKey:             p.encItemKey,
		ItemsKeyID:             p.itemsKeyID,
		Deleted:                p.deleted,
		AuthHash:               p.authHash,
		CreatedAt:              p.createdAt,
		UpdatedAt:              p.updatedAt,
		Dirty:                  p.dirty,
		DirtiedAt:              p.dirtiedAt,
		ErrorDecrypting:        p.errorDecrypting,
		ErrorDecryptingChanged: p.errorDecryptingChanged,
		WaitingForKey:          p.waitingForKey,
		LastSyncBegan:          p.lastSyncBegan,
		LastSyncEnd:            p.lastSyncEnd,
	}
}

// Option overrides a single field during derivation. Applying an option adds
// the field to the presence set of the derived payload.
type Option func(*Values, map[Field]struct{})

func set(fields map[Field]struct{}, f Field) { fields[f] = struct{}{} }

func WithUUID(v string) Option {
	return func(vals *Values, fs map[Field]struct{}) { vals.UUID = v; set(fs, FieldUUID) }
}

func WithContentType(v string) Option {
	return func(vals *Values, fs map[Field]struct{}) { vals.ContentType = v; set(fs, FieldContentType) }
}

func WithContent(v any) Option {
	return func(vals *Values, fs map[Field]struct{}) { vals.Content = v; set(fs, FieldContent) }
}

func WithEncItemKey(v string) Option {
	return func(vals *Values, fs map[Field]struct{}) { vals.EncItemKey = v; set(fs, FieldEncItemKey) }
}

func WithItemsKeyID(v string) Option {
	return func(vals *Values, fs map[Field]struct{}) { vals.ItemsKeyID = v; set(fs, FieldItemsKeyID) }
}

func WithDeleted(v bool) Option {
	return func(vals *Values, fs map[Field]struct{}) { vals.Deleted = v; set(fs, FieldDeleted) }
}

func WithCreatedAt(v time.Time) Option {
	return func(vals *Values, fs map[Field]struct{}) { vals.CreatedAt = v; set(fs, FieldCreatedAt) }
}

func WithUpdatedAt(v time.Time) Option {
	return func(vals *Values, fs map[Field]struct{}) { vals.UpdatedAt = v; set(fs, FieldUpdatedAt) }
}

func WithDirty(v bool) Option {
	return func(vals *Values, fs map[Field]struct{}) { vals.Dirty = v; set(fs, FieldDirty) }
}

func WithDirtiedAt(v time.Time) Option {
	return func(vals *Values, fs map[Field]struct{}) { vals.DirtiedAt = v; set(fs, FieldDirtiedAt) }
}

func WithErrorDecrypting(v bool) Option {
	return func(vals *Values, fs map[Field]struct{}) { vals.ErrorDecrypting = v; set(fs, FieldErrorDecrypting) }
}

func WithErrorDecryptingChanged(v bool) Option {
	return func(vals *Values, fs map[Field]struct{}) {
		vals.ErrorDecryptingChanged = v
		set(fs, FieldErrorDecryptingChanged)
	}
}

func WithWaitingForKey(v bool) Option {
	return func(vals *Values, fs map[Field]struct{}) { vals.WaitingForKey = v; set(fs, FieldWaitingForKey) }
}

func WithLastSyncBegan(v time.Time) Option {
	return func(vals *Values, fs map[Field]struct{}) { vals.LastSyncBegan = v; set(fs, FieldLastSyncBegan) }
}

func WithLastSyncEnd(v time.Time) Option {
	return func(vals *Values, fs map[Field]struct{}) { vals.LastSyncEnd = v; set(fs, FieldLastSyncEnd) }
}

// With derives a new payload by override-merge: the result carries the union
// of the base presence set and the overridden fields.
func (p *Payload) With(opts ...Option) *Payload {
	return p.WithSource(p.source, opts...)
}

// WithSource derives a new payload under a different provenance tag.
func (p *Payload) WithSource(source Source, opts ...Option) *Payload {
	vals := p.values()
	fields := make(map[Field]struct{}, len(p.fields))
	for f := range p.fields {
		fields[f] = struct{}{}
	}
	for _, opt := range opts {
		opt(&vals, fields)
	}

	names := make([]Field, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	out, err := New(vals, source, names)
	if err != nil {
		// The base payload already satisfied the invariants; an override
		// can only violate them by clearing uuid, which no option allows.
		panic(err)
	}
	return out
}

// CopyAsFields re-projects the payload onto a different field-presence set.
func (p *Payload) CopyAsFields(fields []Field, source Source) (*Payload, error) {
	return New(p.values(), source, fields)
}
