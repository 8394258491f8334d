package payload

import (
	"time"
)

// Raw is the JSON projection of a payload used on the wire and in the
// persistent store. Optional fields are pointers so absent and zero-valued
// can be told apart.
type Raw struct {
	UUID        string     `json:"uuid"`
	ContentType string     `json:"content_type"`
	Content     any        `json:"content,omitempty"`
	EncItemKey  string     `json:"enc_item_key,omitempty"`
	ItemsKeyID  string     `json:"items_key_id,omitempty"`
	Deleted     *bool      `json:"deleted,omitempty"`
	AuthHash    string     `json:"auth_hash,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	Dirty       *bool      `json:"dirty,omitempty"`
}

// FromRaw builds a payload from its JSON projection. The presence set is
// derived from which raw fields are populated, extended with uuid and
// content type which are always required on raws.
func FromRaw(raw Raw, source Source) (*Payload, error) {
	fields := []Field{FieldUUID, FieldContentType}
	v := Values{UUID: raw.UUID, ContentType: raw.ContentType}

	if raw.Content != nil {
		fields = append(fields, FieldContent)
		if m, ok := raw.Content.(map[string]any); ok {
			v.Content = Content(m)
		} else {
			v.Content = raw.Content
		}
	}
	if raw.EncItemKey != "" {
		fields = append(fields, FieldEncItemKey)
		v.EncItemKey = raw.EncItemKey
	}
	if raw.ItemsKeyID != "" {
		fields = append(fields, FieldItemsKeyID)
		v.ItemsKeyID = raw.ItemsKeyID
	}
	if raw.Deleted != nil {
		fields = append(fields, FieldDeleted)
		v.Deleted = *raw.Deleted
	}
	if raw.AuthHash != "" {
		fields = append(fields, FieldAuthHash)
		v.AuthHash = raw.AuthHash
	}
	if raw.CreatedAt != nil {
		fields = append(fields, FieldCreatedAt)
		v.CreatedAt = *raw.CreatedAt
	}
	if raw.UpdatedAt != nil {
		fields = append(fields, FieldUpdatedAt)
		v.UpdatedAt = *raw.UpdatedAt
	}
	if raw.Dirty != nil {
		fields = append(fields, FieldDirty)
		v.Dirty = *raw.Dirty
	}

	return New(v, source, fields)
}

// Ejected is the wire projection: every present field except the
// non-persistable set, with null optionals omitted.
func (p *Payload) Ejected() Raw {
	raw := Raw{}
	for f := range p.fields {
		if _, skip := nonPersistable[f]; skip {
			continue
		}
		switch f {
		case FieldUUID:
			raw.UUID = p.uuid
		case FieldContentType:
			raw.ContentType = p.contentType
		case FieldContent:
			raw.Content = copyContentValue(p.content)
		case FieldEncItemKey:
			raw.EncItemKey = p.encItemKey
		case FieldItemsKeyID:
			raw.ItemsKeyID = p.itemsKeyID
		case FieldDeleted:
			if p.deleted {
				v := true
				raw.Deleted = &v
			}
		case FieldAuthHash:
			raw.AuthHash = p.authHash
		case FieldCreatedAt:
			if !p.createdAt.IsZero() {
				t := p.createdAt
				raw.CreatedAt = &t
			}
		case FieldUpdatedAt:
			if !p.updatedAt.IsZero() {
				t := p.updatedAt
				raw.UpdatedAt = &t
			}
		case FieldDirty:
			if p.dirty {
				v := true
				raw.Dirty = &v
			}
		}
	}
	return raw
}
