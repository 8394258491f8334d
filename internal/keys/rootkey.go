// Package keys owns the root key, the items-key collection and the choice of
// key for any given payload.
package keys

import (
	"crypto/subtle"
	"encoding/hex"
)

// RootKey is derived from the account password and key params. It never
// leaves the client; only ServerPassword is sent for authentication.
type RootKey struct {
	MasterKey      []byte
	ServerPassword []byte
	// DataAuthenticationKey is carried by protocol version 003 only.
	DataAuthenticationKey []byte
	Version               string
}

// Equal compares two root keys structurally in constant time.
func (k *RootKey) Equal(o *RootKey) bool {
	if k == nil || o == nil {
		return k == o
	}
	same := subtle.ConstantTimeCompare(k.MasterKey, o.MasterKey) &
		subtle.ConstantTimeCompare(k.ServerPassword, o.ServerPassword) &
		subtle.ConstantTimeCompare(k.DataAuthenticationKey, o.DataAuthenticationKey)
	return same == 1 && k.Version == o.Version
}

// MasterKeyHex returns the master key in the hex form used by legacy
// compositions.
func (k *RootKey) MasterKeyHex() string {
	return hex.EncodeToString(k.MasterKey)
}

// EncryptionKey projects the root key into the uniform key shape operators
// consume.
func (k *RootKey) EncryptionKey() *Key {
	return &Key{
		Version:  k.Version,
		Material: k.MasterKey,
		AuthKey:  k.DataAuthenticationKey,
		Root:     true,
	}
}

// Key is the uniform key shape protocol operators encrypt and decrypt with:
// either root key material or an items key. ID is the items-key uuid and is
// empty for root keys.
type Key struct {
	ID       string
	Version  string
	Material []byte
	AuthKey  []byte
	Root     bool
}
