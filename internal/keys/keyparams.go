package keys

import (
	"encoding/json"
	"fmt"

	"github.com/mkosyakov/notesync/internal/common"
)

// KeyParams are the public parameters needed to recompute the root key from
// a password. The server stores them; the client keeps a local copy. Field
// names are wire names; which fields may be set depends on the version.
type KeyParams struct {
	Identifier string `json:"identifier,omitempty"`
	// Email is the identifier field name used by versions 001 and 002.
	Email   string `json:"email,omitempty"`
	PwNonce string `json:"pw_nonce,omitempty"`
	// PwCost is the KDF iteration count for versions 001–003.
	PwCost int `json:"pw_cost,omitempty"`
	// PwSalt is the pre-derived salt carried by versions 001 and 002.
	PwSalt  string `json:"pw_salt,omitempty"`
	Version string `json:"version"`
}

// NewKeyParams001 builds 001 params.
func NewKeyParams001(email, pwSalt string, pwCost int) KeyParams {
	return KeyParams{Email: email, PwSalt: pwSalt, PwCost: pwCost, Version: "001"}
}

// NewKeyParams002 builds 002 params.
func NewKeyParams002(email, pwSalt string, pwCost int) KeyParams {
	return KeyParams{Email: email, PwSalt: pwSalt, PwCost: pwCost, Version: "002"}
}

// NewKeyParams003 builds 003 params.
func NewKeyParams003(identifier, pwNonce string, pwCost int) KeyParams {
	return KeyParams{Identifier: identifier, PwNonce: pwNonce, PwCost: pwCost, Version: "003"}
}

// NewKeyParams004 builds 004 params.
func NewKeyParams004(identifier, pwNonce string) KeyParams {
	return KeyParams{Identifier: identifier, PwNonce: pwNonce, Version: "004"}
}

// AccountIdentifier returns the identifier regardless of version vintage.
func (p KeyParams) AccountIdentifier() string {
	if p.Identifier != "" {
		return p.Identifier
	}
	return p.Email
}

// Validate checks that the params carry the fields their version requires
// and none that it forbids.
func (p KeyParams) Validate() error {
	switch p.Version {
	case "001", "002":
		if p.Email == "" || p.PwSalt == "" || p.PwCost == 0 {
			return fmt.Errorf("%w: %s params require email, pw_salt, pw_cost", common.ErrValidation, p.Version)
		}
		if p.PwNonce != "" {
			return fmt.Errorf("%w: %s params do not carry pw_nonce", common.ErrValidation, p.Version)
		}
	case "003":
		if p.Identifier == "" || p.PwNonce == "" || p.PwCost == 0 {
			return fmt.Errorf("%w: 003 params require identifier, pw_nonce, pw_cost", common.ErrValidation)
		}
	case "004":
		if p.Identifier == "" || p.PwNonce == "" {
			return fmt.Errorf("%w: 004 params require identifier, pw_nonce", common.ErrValidation)
		}
		if p.PwSalt != "" || p.PwCost != 0 {
			return fmt.Errorf("%w: 004 params do not carry pw_salt or pw_cost", common.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: %q", common.ErrUnsupportedVersion, p.Version)
	}
	return nil
}

// MarshalJSON keeps the wire projection stable.
func (p KeyParams) MarshalJSON() ([]byte, error) {
	type wire KeyParams
	return json.Marshal(wire(p))
}
