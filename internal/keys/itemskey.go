package keys

import (
	"encoding/hex"
	"fmt"

	"github.com/mkosyakov/notesync/internal/common"
	"github.com/mkosyakov/notesync/internal/payload"
)

// ItemsKey is the decrypted view of an SN|ItemsKey item: a symmetric key
// that wraps per-item content keys. It is itself stored as a regular item
// encrypted under the root key.
type ItemsKey struct {
	UUID    string
	Key     []byte
	AuthKey []byte
	Version string
	Default bool
}

// EncryptionKey projects the items key into the uniform operator key shape.
func (k *ItemsKey) EncryptionKey() *Key {
	return &Key{
		ID:       k.UUID,
		Version:  k.Version,
		Material: k.Key,
		AuthKey:  k.AuthKey,
	}
}

// Content renders the items key as item content for encryption under the
// root key.
func (k *ItemsKey) Content() payload.Content {
	c := payload.NewContent()
	c["itemsKey"] = hex.EncodeToString(k.Key)
	if len(k.AuthKey) > 0 {
		c["dataAuthenticationKey"] = hex.EncodeToString(k.AuthKey)
	}
	c["version"] = k.Version
	c["isDefault"] = k.Default
	return c
}

// ItemsKeyFromPayload reads an items key out of a decrypted payload.
func ItemsKeyFromPayload(p *payload.Payload) (*ItemsKey, error) {
	if p.ContentType() != payload.ContentTypeItemsKey {
		return nil, fmt.Errorf("%w: payload %s is not an items key", common.ErrProgrammer, p.UUID())
	}
	content := p.ContentObject()
	if content == nil {
		return nil, fmt.Errorf("%w: items key %s has no decrypted content", common.ErrValidation, p.UUID())
	}

	keyHex, _ := content["itemsKey"].(string)
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) == 0 {
		return nil, fmt.Errorf("%w: items key %s has invalid key material", common.ErrValidation, p.UUID())
	}

	ik := &ItemsKey{UUID: p.UUID(), Key: key, Version: "004"}
	if v, ok := content["version"].(string); ok && v != "" {
		ik.Version = v
	}
	if authHex, ok := content["dataAuthenticationKey"].(string); ok && authHex != "" {
		auth, err := hex.DecodeString(authHex)
		if err != nil {
			return nil, fmt.Errorf("%w: items key %s has invalid auth key", common.ErrValidation, p.UUID())
		}
		ik.AuthKey = auth
	}
	if d, ok := content["isDefault"].(bool); ok {
		ik.Default = d
	}
	return ik, nil
}
