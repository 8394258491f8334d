package protocol

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mkosyakov/notesync/internal/common"
	"github.com/mkosyakov/notesync/internal/cryptox"
	"github.com/mkosyakov/notesync/internal/keys"
	"github.com/mkosyakov/notesync/internal/payload"
)

// operator004 is the current protocol: Argon2id root key derivation and
// AES-256-GCM item encryption with identity-bound additional data.
type operator004 struct {
	crypto cryptox.Provider
}

func newOperator004(crypto cryptox.Provider) *operator004 {
	return &operator004{crypto: crypto}
}

func (o *operator004) Version() string { return "004" }

// KDFIterations is the Argon2id time cost.
func (o *operator004) KDFIterations() int { return 5 }

const (
	saltBytes004  = 16
	nonceBytes004 = 24
)

// rootKeySalt derives the Argon2 salt from the identifier and the public
// seed, so the same (identifier, seed, password) always yields the same key.
func (o *operator004) rootKeySalt(identifier, seed string) ([]byte, error) {
	digest := o.crypto.SHA256Hex([]byte(identifier + ":" + seed))
	return hex.DecodeString(digest[:saltBytes004*2])
}

func (o *operator004) deriveRootKey(password string, params keys.KeyParams) (*keys.RootKey, error) {
	salt, err := o.rootKeySalt(params.Identifier, params.PwNonce)
	if err != nil {
		return nil, fmt.Errorf("derive salt: %w", err)
	}
	derived := o.crypto.Argon2id([]byte(password), salt, uint32(o.KDFIterations()), 64)
	return &keys.RootKey{
		MasterKey:      derived[:32],
		ServerPassword: derived[32:],
		Version:        "004",
	}, nil
}

func (o *operator004) CreateRootKey(identifier, password string) (*keys.RootKey, keys.KeyParams, error) {
	params := keys.NewKeyParams004(identifier, o.crypto.SHA256Hex(o.crypto.RandomBytes(32))[:32])
	key, err := o.deriveRootKey(password, params)
	if err != nil {
		return nil, keys.KeyParams{}, err
	}
	return key, params, nil
}

func (o *operator004) ComputeRootKey(password string, params keys.KeyParams) (*keys.RootKey, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return o.deriveRootKey(password, params)
}

func (o *operator004) CreateItemsKey() (*keys.ItemsKey, error) {
	return &keys.ItemsKey{
		UUID:    o.crypto.UUID(),
		Key:     o.crypto.RandomBytes(32),
		AuthKey: o.crypto.RandomBytes(32),
		Version: "004",
		Default: true,
	}, nil
}

// authenticatedData binds ciphertexts to item identity so swapping them
// across items fails AEAD.
func authenticatedData(uuid string) []byte {
	return []byte(`{"u":"` + uuid + `","v":"004"}`)
}

// encryptToString produces the wire form
// "004:" nonce_b64 ":" ciphertext_b64 ":" aad_b64.
func (o *operator004) encryptToString(plaintext, key, aad []byte) (string, error) {
	nonce := o.crypto.RandomBytes(nonceBytes004)
	ct, err := o.crypto.AESGCMEncrypt(plaintext, key, nonce, aad)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{
		"004",
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(ct),
		base64.StdEncoding.EncodeToString(aad),
	}, ":"), nil
}

func (o *operator004) decryptFromString(s string, key []byte) ([]byte, []byte, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 || parts[0] != "004" {
		return nil, nil, common.ErrDecryptFailed
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, common.ErrDecryptFailed
	}
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, nil, common.ErrDecryptFailed
	}
	aad, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return nil, nil, common.ErrDecryptFailed
	}
	pt, err := o.crypto.AESGCMDecrypt(ct, key, nonce, aad)
	if err != nil {
		return nil, nil, err
	}
	return pt, aad, nil
}

func (o *operator004) GenerateEncryptedParameters(p *payload.Payload, key *keys.Key) (*payload.Payload, error) {
	if key == nil {
		return nil, common.ErrMissingKey
	}
	content := p.ContentObject()
	if content == nil {
		return nil, fmt.Errorf("%w: payload %s has no decrypted content to encrypt", common.ErrProgrammer, p.UUID())
	}
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}

	contentKey := o.crypto.RandomBytes(32)
	aad := authenticatedData(p.UUID())

	contentString, err := o.encryptToString(contentJSON, contentKey, aad)
	if err != nil {
		return nil, err
	}
	encItemKey, err := o.encryptToString([]byte(hex.EncodeToString(contentKey)), key.Material, aad)
	if err != nil {
		return nil, err
	}

	opts := []payload.Option{
		payload.WithContent(contentString),
		payload.WithEncItemKey(encItemKey),
	}
	if !key.Root {
		opts = append(opts, payload.WithItemsKeyID(key.ID))
	}
	return p.With(opts...), nil
}

func (o *operator004) GenerateDecryptedParameters(p *payload.Payload, key *keys.Key) (*payload.Payload, error) {
	if key == nil {
		return nil, common.ErrMissingKey
	}

	contentKeyHex, aad, err := o.decryptFromString(p.EncItemKey(), key.Material)
	if err != nil {
		return decryptErrorParameters(p), nil
	}
	// Reject a wrapped key transplanted from another item even before
	// touching the content.
	if string(aad) != string(authenticatedData(p.UUID())) {
		return decryptErrorParameters(p), nil
	}
	contentKey, err := hex.DecodeString(string(contentKeyHex))
	if err != nil {
		return decryptErrorParameters(p), nil
	}

	contentJSON, _, err := o.decryptFromString(p.ContentString(), contentKey)
	if err != nil {
		return decryptErrorParameters(p), nil
	}
	var content payload.Content
	if err := json.Unmarshal(contentJSON, &content); err != nil {
		return decryptErrorParameters(p), nil
	}
	return decryptedParameters(p, content), nil
}
