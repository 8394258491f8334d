// Package payload defines the immutable typed record that flows through the
// encrypt/decrypt/merge pipeline, grouped collections of records, and the
// delta algorithms that merge server responses into local state.
package payload

// Field names a payload attribute. A payload carries a presence set of
// fields so consumers can distinguish "unset" from "omitted by this payload
// class".
type Field string

const (
	FieldUUID                   Field = "uuid"
	FieldContentType            Field = "content_type"
	FieldContent                Field = "content"
	FieldEncItemKey             Field = "enc_item_key"
	FieldItemsKeyID             Field = "items_key_id"
	FieldDeleted                Field = "deleted"
	FieldCreatedAt              Field = "created_at"
	FieldUpdatedAt              Field = "updated_at"
	FieldDirty                  Field = "dirty"
	FieldDirtiedAt              Field = "dirtiedDate"
	FieldErrorDecrypting        Field = "errorDecrypting"
	FieldErrorDecryptingChanged Field = "errorDecryptingValueChanged"
	FieldWaitingForKey          Field = "waitingForKey"
	FieldLastSyncBegan          Field = "lastSyncBegan"
	FieldLastSyncEnd            Field = "lastSyncEnd"
	FieldAuthHash               Field = "auth_hash"
)

// nonPersistable lists fields excluded from the wire and disk projections.
var nonPersistable = map[Field]struct{}{
	FieldDirtiedAt:              {},
	FieldErrorDecrypting:        {},
	FieldErrorDecryptingChanged: {},
	FieldWaitingForKey:          {},
	FieldLastSyncBegan:          {},
	FieldLastSyncEnd:            {},
}

// MaxPayloadFields carries every field. Used for in-memory snapshots that
// must preserve full state.
func MaxPayloadFields() []Field {
	return []Field{
		FieldUUID, FieldContentType, FieldContent, FieldEncItemKey,
		FieldItemsKeyID, FieldDeleted, FieldCreatedAt, FieldUpdatedAt,
		FieldDirty, FieldDirtiedAt, FieldErrorDecrypting,
		FieldErrorDecryptingChanged, FieldWaitingForKey,
		FieldLastSyncBegan, FieldLastSyncEnd, FieldAuthHash,
	}
}

// ServerPayloadFields carries only what the server exchanges.
func ServerPayloadFields() []Field {
	return []Field{
		FieldUUID, FieldContentType, FieldContent, FieldEncItemKey,
		FieldItemsKeyID, FieldDeleted, FieldCreatedAt, FieldUpdatedAt,
		FieldAuthHash,
	}
}

// StoragePayloadFields carries the server fields plus the local dirty flag;
// decrypt-state and cycle bookkeeping never persist.
func StoragePayloadFields() []Field {
	return []Field{
		FieldUUID, FieldContentType, FieldContent, FieldEncItemKey,
		FieldItemsKeyID, FieldDeleted, FieldCreatedAt, FieldUpdatedAt,
		FieldDirty, FieldAuthHash,
	}
}

// EncryptionParametersFields carries only the encrypted projection produced
// or consumed by a protocol operator.
func EncryptionParametersFields() []Field {
	return []Field{
		FieldUUID, FieldContent, FieldEncItemKey, FieldItemsKeyID,
		FieldErrorDecrypting, FieldErrorDecryptingChanged, FieldWaitingForKey,
	}
}

// Source tags the provenance of a payload.
type Source int

const (
	SourceConstructor Source = iota
	SourceLocalRetrieved
	SourceLocalSaved
	SourceRemoteRetrieved
	SourceRemoteSaved
	SourceRemoteConflict
	SourceLocalDirtied
	SourceComponentRetrieved
	SourceFileImport
)

func (s Source) String() string {
	switch s {
	case SourceConstructor:
		return "constructor"
	case SourceLocalRetrieved:
		return "local_retrieved"
	case SourceLocalSaved:
		return "local_saved"
	case SourceRemoteRetrieved:
		return "remote_retrieved"
	case SourceRemoteSaved:
		return "remote_saved"
	case SourceRemoteConflict:
		return "remote_conflict"
	case SourceLocalDirtied:
		return "local_dirtied"
	case SourceComponentRetrieved:
		return "component_retrieved"
	case SourceFileImport:
		return "file_import"
	default:
		return "unknown"
	}
}

// Format classifies the shape of a payload's content.
type Format int

const (
	FormatEncryptedString Format = iota
	FormatDecryptedBareObject
	FormatDecryptedBase64String
	FormatDeleted
)

// Base64Prefix marks decrypted-but-encoded content (no key available at
// encryption time).
const Base64Prefix = "000"

// Content types understood by the core. Application types (notes, tags) are
// plain names; system types carry the reserved prefix.
const (
	ContentTypeNote            = "Note"
	ContentTypeTag             = "Tag"
	ContentTypeItemsKey        = "SN|ItemsKey"
	ContentTypePrivileges      = "SN|Privileges"
	ContentTypeUserPreferences = "SN|UserPreferences"
)
