// Package protocol implements the versioned cryptographic operations: root
// key derivation, item-level authenticated encryption and key wrapping.
// Version 004 is the write path; 001–003 exist to decrypt historical data.
package protocol

import (
	"github.com/mkosyakov/notesync/internal/keys"
	"github.com/mkosyakov/notesync/internal/payload"
)

// Operator is the version-agnostic surface of one protocol version.
type Operator interface {
	// Version returns the 3-char protocol tag.
	Version() string

	// KDFIterations returns the static cost floor for the version's KDF.
	KDFIterations() int

	// CreateRootKey generates a fresh nonce/seed, derives key material and
	// returns both the key and the public params to rederive it.
	CreateRootKey(identifier, password string) (*keys.RootKey, keys.KeyParams, error)

	// ComputeRootKey deterministically rederives the root key.
	ComputeRootKey(password string, params keys.KeyParams) (*keys.RootKey, error)

	// CreateItemsKey generates a fresh items key.
	CreateItemsKey() (*keys.ItemsKey, error)

	// GenerateEncryptedParameters returns a derived payload carrying the
	// encrypted projection: content string, enc_item_key and items_key_id.
	// The input payload is never mutated.
	GenerateEncryptedParameters(p *payload.Payload, key *keys.Key) (*payload.Payload, error)

	// GenerateDecryptedParameters reverses encryption. Decrypt failures are
	// contained: the returned payload carries errorDecrypting=true and
	// errorDecryptingValueChanged relative to the input. An error return is
	// reserved for programmer mistakes.
	GenerateDecryptedParameters(p *payload.Payload, key *keys.Key) (*payload.Payload, error)
}

// decryptErrorParameters marks a payload as undecryptable, flipping the
// changed flag when the state transitions.
func decryptErrorParameters(p *payload.Payload) *payload.Payload {
	return p.With(
		payload.WithErrorDecrypting(true),
		payload.WithErrorDecryptingChanged(!p.ErrorDecrypting()),
		payload.WithWaitingForKey(false),
	)
}

// decryptedParameters attaches freshly decrypted content, clearing error
// state and noting a recovery when the payload previously failed.
func decryptedParameters(p *payload.Payload, content payload.Content) *payload.Payload {
	return p.With(
		payload.WithContent(content),
		payload.WithErrorDecrypting(false),
		payload.WithErrorDecryptingChanged(p.ErrorDecrypting()),
		payload.WithWaitingForKey(false),
	)
}
