package protocol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mkosyakov/notesync/internal/common"
	"github.com/mkosyakov/notesync/internal/cryptox"
	"github.com/mkosyakov/notesync/internal/keys"
	"github.com/mkosyakov/notesync/internal/logging"
	"github.com/mkosyakov/notesync/internal/payload"
)

// CurrentVersion is the protocol used for all new encryptions.
const CurrentVersion = "004"

// Manager is the façade over the versioned operators. It memoizes one
// operator per version and routes payloads by version tag and intent.
type Manager struct {
	crypto cryptox.Provider
	log    logging.Logger

	mu        sync.Mutex
	operators map[string]Operator
}

func NewManager(crypto cryptox.Provider, log logging.Logger) *Manager {
	if crypto == nil {
		crypto = cryptox.DefaultProvider{}
	}
	if log == nil {
		log = logging.NewDefault()
	}
	return &Manager{
		crypto:    crypto,
		log:       log,
		operators: make(map[string]Operator),
	}
}

// OperatorForVersion returns the memoized operator for a protocol tag.
func (m *Manager) OperatorForVersion(version string) (Operator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op, ok := m.operators[version]; ok {
		return op, nil
	}
	var op Operator
	switch version {
	case "001":
		op = newOperator001(m.crypto)
	case "002":
		op = newOperator002(m.crypto)
	case "003":
		op = newOperator003(m.crypto)
	case "004":
		op = newOperator004(m.crypto)
	default:
		return nil, fmt.Errorf("%w: %q", common.ErrUnsupportedVersion, version)
	}
	m.operators[version] = op
	return op, nil
}

// DefaultOperator returns the operator for the current version.
func (m *Manager) DefaultOperator() Operator {
	op, err := m.OperatorForVersion(CurrentVersion)
	if err != nil {
		panic(err)
	}
	return op
}

// CostMinimumForVersion returns the static KDF cost floor for a version.
func (m *Manager) CostMinimumForVersion(version string) (int, error) {
	op, err := m.OperatorForVersion(version)
	if err != nil {
		return 0, err
	}
	return op.KDFIterations(), nil
}

// VersionForPayload reads the protocol tag from the payload's content.
func VersionForPayload(p *payload.Payload) string {
	return p.Version()
}

// EncryptPayload derives the encrypted (or encoded) projection of a payload
// per the intent table. The input payload is never mutated.
func (m *Manager) EncryptPayload(p *payload.Payload, key *keys.Key, intent payload.Intent) (*payload.Payload, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: encrypting nil payload", common.ErrProgrammer)
	}
	if p.Format() == payload.FormatDeleted {
		return p, nil
	}

	if intent.RequiresEncryption() && key != nil {
		version := CurrentVersion
		if key.Version != "" {
			version = key.Version
		}
		op, err := m.OperatorForVersion(version)
		if err != nil {
			return nil, err
		}
		return op.GenerateEncryptedParameters(p, key)
	}

	switch intent {
	case payload.IntentLocalStoragePreferEncrypted,
		payload.IntentLocalStorageDecrypted,
		payload.IntentFileDecrypted:
		// Decrypted bare object, as constructed.
		return p, nil
	case payload.IntentSync:
		// No key: encode rather than encrypt so the server still receives
		// an opaque string.
		content := p.ContentObject()
		if content == nil {
			return p, nil
		}
		b, err := json.Marshal(content)
		if err != nil {
			return nil, err
		}
		encoded := payload.Base64Prefix + base64.StdEncoding.EncodeToString(b)
		return p.With(payload.WithContent(encoded)), nil
	default:
		return nil, common.ErrMissingKey
	}
}

// DecryptPayload reverses EncryptPayload. A nil key for an encrypted
// payload marks it waitingForKey; decrypt failures mark errorDecrypting.
func (m *Manager) DecryptPayload(p *payload.Payload, key *keys.Key) (*payload.Payload, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: decrypting nil payload", common.ErrProgrammer)
	}

	switch p.Format() {
	case payload.FormatDecryptedBareObject, payload.FormatDeleted:
		return p, nil
	case payload.FormatDecryptedBase64String:
		s := p.ContentString()
		b, err := base64.StdEncoding.DecodeString(s[len(payload.Base64Prefix):])
		if err != nil {
			return decryptErrorParameters(p), nil
		}
		var content payload.Content
		if err := json.Unmarshal(b, &content); err != nil {
			return decryptErrorParameters(p), nil
		}
		return decryptedParameters(p, content), nil
	}

	if key == nil {
		return p.With(payload.WithWaitingForKey(true)), nil
	}
	op, err := m.OperatorForVersion(p.Version())
	if err != nil {
		return decryptErrorParameters(p), nil
	}
	return op.GenerateDecryptedParameters(p, key)
}

// KeyFunc resolves the decryption key for a payload; nil means not
// available yet.
type KeyFunc func(p *payload.Payload) *keys.Key

// DecryptPayloads bulk-decrypts, preserving input order and length: nil
// inputs pass through and per-item errors become error-marked payloads.
// With throws set, the first such error aborts instead, for caller-driven
// recovery paths. Decrypt failures that DecryptPayload already returns as
// error-marked payloads are kept in the output either way.
func (m *Manager) DecryptPayloads(ctx context.Context, ps []*payload.Payload, keyFn KeyFunc, throws bool) ([]*payload.Payload, error) {
	out := make([]*payload.Payload, len(ps))
	for i, p := range ps {
		if p == nil {
			continue
		}
		var key *keys.Key
		if keyFn != nil {
			key = keyFn(p)
		}
		decrypted, err := m.DecryptPayload(p, key)
		if err != nil {
			if throws {
				return nil, err
			}
			m.log.Warn(ctx, "payload decrypt failed", "uuid", p.UUID(), "error", err)
			decrypted = decryptErrorParameters(p)
		}
		out[i] = decrypted
	}
	return out, nil
}
