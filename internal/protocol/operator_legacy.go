package protocol

import (
	"crypto/hmac"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mkosyakov/notesync/internal/common"
	"github.com/mkosyakov/notesync/internal/cryptox"
	"github.com/mkosyakov/notesync/internal/keys"
	"github.com/mkosyakov/notesync/internal/payload"
)

// Legacy operators 001–003: PBKDF2 key derivation and an AES-CBC + HMAC
// encrypt-then-MAC composition. They remain fully functional so historical
// data keeps decrypting, but new accounts never use them.

// legacyComposition is the shared item-encryption scheme. Versions 002 and
// 003 authenticate with HMAC-SHA256 and bind the item uuid into the
// authenticated string; 001 predates authentication.
type legacyComposition struct {
	crypto  cryptox.Provider
	version string
	// authenticated is false only for 001.
	authenticated bool
}

// encryptString produces "<ver>:<hmac_hex>:<uuid>:<iv_hex>:<ct_b64>" for
// authenticated versions and "<ver>:<iv_hex>:<ct_b64>" for 001.
func (l *legacyComposition) encryptString(plaintext, ek, ak []byte, uuid string) (string, error) {
	iv := l.crypto.RandomBytes(16)
	ct, err := l.crypto.AESCBCEncrypt(plaintext, ek, iv)
	if err != nil {
		return "", err
	}
	ivHex := hex.EncodeToString(iv)
	ctB64 := base64.StdEncoding.EncodeToString(ct)

	if !l.authenticated {
		return strings.Join([]string{l.version, ivHex, ctB64}, ":"), nil
	}
	toAuth := strings.Join([]string{l.version, uuid, ivHex, ctB64}, ":")
	mac := hex.EncodeToString(l.crypto.HMACSHA256([]byte(toAuth), ak))
	return strings.Join([]string{l.version, mac, uuid, ivHex, ctB64}, ":"), nil
}

func (l *legacyComposition) decryptString(s string, ek, ak []byte, uuid string) ([]byte, error) {
	parts := strings.Split(s, ":")

	if !l.authenticated {
		if len(parts) != 3 || parts[0] != l.version {
			return nil, common.ErrDecryptFailed
		}
		iv, err := hex.DecodeString(parts[1])
		if err != nil {
			return nil, common.ErrDecryptFailed
		}
		ct, err := base64.StdEncoding.DecodeString(parts[2])
		if err != nil {
			return nil, common.ErrDecryptFailed
		}
		return l.crypto.AESCBCDecrypt(ct, ek, iv)
	}

	if len(parts) != 5 || parts[0] != l.version {
		return nil, common.ErrDecryptFailed
	}
	mac, boundUUID, ivHex, ctB64 := parts[1], parts[2], parts[3], parts[4]
	if boundUUID != uuid {
		return nil, common.ErrDecryptFailed
	}
	toAuth := strings.Join([]string{l.version, boundUUID, ivHex, ctB64}, ":")
	expected := hex.EncodeToString(l.crypto.HMACSHA256([]byte(toAuth), ak))
	if !hmac.Equal([]byte(mac), []byte(expected)) {
		return nil, common.ErrDecryptFailed
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, common.ErrDecryptFailed
	}
	ct, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return nil, common.ErrDecryptFailed
	}
	return l.crypto.AESCBCDecrypt(ct, ek, iv)
}

// authKeyFor picks the HMAC key: the separated data-authentication key when
// the version carries one, the encryption key material otherwise.
func authKeyFor(key *keys.Key) []byte {
	if len(key.AuthKey) > 0 {
		return key.AuthKey
	}
	return key.Material
}

// generateEncrypted is the shared per-item flow: random item key split into
// encryption and auth halves, content under the item key, item key wrapped
// under the root key.
func (l *legacyComposition) generateEncrypted(p *payload.Payload, key *keys.Key) (*payload.Payload, error) {
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

	itemKey := l.crypto.RandomBytes(64)
	ek, ak := itemKey[:32], itemKey[32:]

	contentString, err := l.encryptString(contentJSON, ek, ak, p.UUID())
	if err != nil {
		return nil, err
	}
	encItemKey, err := l.encryptString([]byte(hex.EncodeToString(itemKey)), key.Material, authKeyFor(key), p.UUID())
	if err != nil {
		return nil, err
	}

	return p.With(
		payload.WithContent(contentString),
		payload.WithEncItemKey(encItemKey),
	), nil
}

func (l *legacyComposition) generateDecrypted(p *payload.Payload, key *keys.Key) (*payload.Payload, error) {
	if key == nil {
		return nil, common.ErrMissingKey
	}

	itemKeyHex, err := l.decryptString(p.EncItemKey(), key.Material, authKeyFor(key), p.UUID())
	if err != nil {
		return decryptErrorParameters(p), nil
	}
	itemKey, err := hex.DecodeString(string(itemKeyHex))
	if err != nil || len(itemKey) != 64 {
		return decryptErrorParameters(p), nil
	}
	ek, ak := itemKey[:32], itemKey[32:]

	contentJSON, err := l.decryptString(p.ContentString(), ek, ak, p.UUID())
	if err != nil {
		return decryptErrorParameters(p), nil
	}
	var content payload.Content
	if err := json.Unmarshal(contentJSON, &content); err != nil {
		return decryptErrorParameters(p), nil
	}
	return decryptedParameters(p, content), nil
}

// operator003 separates the data-authentication key from the master key.
type operator003 struct {
	legacyComposition
}

func newOperator003(crypto cryptox.Provider) *operator003 {
	return &operator003{legacyComposition{crypto: crypto, version: "003", authenticated: true}}
}

func (o *operator003) Version() string    { return "003" }
func (o *operator003) KDFIterations() int { return 110000 }

func (o *operator003) deriveRootKey(password string, params keys.KeyParams) (*keys.RootKey, error) {
	cost := params.PwCost
	if cost < o.KDFIterations() {
		cost = o.KDFIterations()
	}
	saltSeed := strings.Join([]string{
		params.Identifier, "SF", "003", strconv.Itoa(cost), params.PwNonce,
	}, ":")
	salt := []byte(o.crypto.SHA256Hex([]byte(saltSeed))[:32])

	base := o.crypto.PBKDF2SHA512([]byte(password), salt, cost, 64)
	split, err := o.crypto.HKDF(base[:32], salt, []byte("notesync-003-keys"), 64)
	if err != nil {
		return nil, err
	}
	return &keys.RootKey{
		MasterKey:             split[:32],
		DataAuthenticationKey: split[32:],
		ServerPassword:        base[32:],
		Version:               "003",
	}, nil
}

func (o *operator003) CreateRootKey(identifier, password string) (*keys.RootKey, keys.KeyParams, error) {
	params := keys.NewKeyParams003(identifier, common.MakeRandHexString(16), o.KDFIterations())
	key, err := o.deriveRootKey(password, params)
	if err != nil {
		return nil, keys.KeyParams{}, err
	}
	return key, params, nil
}

func (o *operator003) ComputeRootKey(password string, params keys.KeyParams) (*keys.RootKey, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return o.deriveRootKey(password, params)
}

// CreateItemsKey on legacy versions returns the composition's random item
// key material; 003 keys carry a separated auth key.
func (o *operator003) CreateItemsKey() (*keys.ItemsKey, error) {
	return &keys.ItemsKey{
		UUID:    o.crypto.UUID(),
		Key:     o.crypto.RandomBytes(32),
		AuthKey: o.crypto.RandomBytes(32),
		Version: "003",
	}, nil
}

func (o *operator003) GenerateEncryptedParameters(p *payload.Payload, key *keys.Key) (*payload.Payload, error) {
	return o.generateEncrypted(p, key)
}

func (o *operator003) GenerateDecryptedParameters(p *payload.Payload, key *keys.Key) (*payload.Payload, error) {
	return o.generateDecrypted(p, key)
}

// operator002 wraps content directly under the root key pair.
type operator002 struct {
	legacyComposition
}

func newOperator002(crypto cryptox.Provider) *operator002 {
	return &operator002{legacyComposition{crypto: crypto, version: "002", authenticated: true}}
}

func (o *operator002) Version() string    { return "002" }
func (o *operator002) KDFIterations() int { return 3000 }

func (o *operator002) deriveRootKey(password string, params keys.KeyParams) (*keys.RootKey, error) {
	cost := params.PwCost
	if cost < o.KDFIterations() {
		cost = o.KDFIterations()
	}
	derived := o.crypto.PBKDF2SHA512([]byte(password), []byte(params.PwSalt), cost, 64)
	return &keys.RootKey{
		ServerPassword: derived[:32],
		MasterKey:      derived[32:],
		Version:        "002",
	}, nil
}

func (o *operator002) CreateRootKey(identifier, password string) (*keys.RootKey, keys.KeyParams, error) {
	salt := o.crypto.SHA256Hex([]byte(identifier + ":" + common.MakeRandHexString(16)))[:32]
	params := keys.NewKeyParams002(identifier, salt, o.KDFIterations())
	key, err := o.deriveRootKey(password, params)
	if err != nil {
		return nil, keys.KeyParams{}, err
	}
	return key, params, nil
}

func (o *operator002) ComputeRootKey(password string, params keys.KeyParams) (*keys.RootKey, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return o.deriveRootKey(password, params)
}

func (o *operator002) CreateItemsKey() (*keys.ItemsKey, error) {
	return nil, fmt.Errorf("%w: version 002 has no items keys", common.ErrProgrammer)
}

func (o *operator002) GenerateEncryptedParameters(p *payload.Payload, key *keys.Key) (*payload.Payload, error) {
	return o.generateEncrypted(p, key)
}

func (o *operator002) GenerateDecryptedParameters(p *payload.Payload, key *keys.Key) (*payload.Payload, error) {
	return o.generateDecrypted(p, key)
}

// operator001 is the oldest read path: CBC without authentication.
type operator001 struct {
	legacyComposition
}

func newOperator001(crypto cryptox.Provider) *operator001 {
	return &operator001{legacyComposition{crypto: crypto, version: "001", authenticated: false}}
}

func (o *operator001) Version() string    { return "001" }
func (o *operator001) KDFIterations() int { return 3000 }

func (o *operator001) deriveRootKey(password string, params keys.KeyParams) (*keys.RootKey, error) {
	cost := params.PwCost
	if cost < o.KDFIterations() {
		cost = o.KDFIterations()
	}
	derived := o.crypto.PBKDF2SHA512([]byte(password), []byte(params.PwSalt), cost, 64)
	return &keys.RootKey{
		ServerPassword: derived[:32],
		MasterKey:      derived[32:],
		Version:        "001",
	}, nil
}

func (o *operator001) CreateRootKey(identifier, password string) (*keys.RootKey, keys.KeyParams, error) {
	salt := o.crypto.SHA256Hex([]byte(identifier + ":" + common.MakeRandHexString(16)))[:32]
	params := keys.NewKeyParams001(identifier, salt, o.KDFIterations())
	key, err := o.deriveRootKey(password, params)
	if err != nil {
		return nil, keys.KeyParams{}, err
	}
	return key, params, nil
}

func (o *operator001) ComputeRootKey(password string, params keys.KeyParams) (*keys.RootKey, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return o.deriveRootKey(password, params)
}

func (o *operator001) CreateItemsKey() (*keys.ItemsKey, error) {
	return nil, fmt.Errorf("%w: version 001 has no items keys", common.ErrProgrammer)
}

func (o *operator001) GenerateEncryptedParameters(p *payload.Payload, key *keys.Key) (*payload.Payload, error) {
	return o.generateEncrypted(p, key)
}

func (o *operator001) GenerateDecryptedParameters(p *payload.Payload, key *keys.Key) (*payload.Payload, error) {
	return o.generateDecrypted(p, key)
}
