package syncer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/mkosyakov/notesync/internal/api"
	"github.com/mkosyakov/notesync/internal/common"
	"github.com/mkosyakov/notesync/internal/keys"
	"github.com/mkosyakov/notesync/internal/storage"
)

// MinPasswordLength is the floor enforced before any server round trip.
const MinPasswordLength = 8

// Register creates an account: derive a fresh 004 root key, send the server
// password and public key params (never the real password), install the key
// and mint the first default items key.
func (e *Engine) Register(ctx context.Context, email, password string) (keys.KeyParams, error) {
	if len(password) < MinPasswordLength {
		return keys.KeyParams{}, fmt.Errorf("%w: password must be at least %d characters", common.ErrValidation, MinPasswordLength)
	}

	op := e.protocol.DefaultOperator()
	rootKey, params, err := op.CreateRootKey(email, password)
	if err != nil {
		return keys.KeyParams{}, err
	}

	err = e.client.Register(ctx, api.RegisterRequest{
		Email:          email,
		ServerPassword: hex.EncodeToString(rootKey.ServerPassword),
		KeyParams:      params,
	})
	if err != nil {
		return keys.KeyParams{}, err
	}

	e.keyManager.SetRootKey(rootKey)
	if err := e.saveKeyParams(ctx, params); err != nil {
		return keys.KeyParams{}, err
	}
	if _, err := e.CreateNewDefaultItemsKey(ctx); err != nil {
		return keys.KeyParams{}, err
	}
	e.SetOnline(true)
	return params, nil
}

// SignIn fetches the account's key params, recomputes the root key with the
// version-appropriate operator and authenticates with the server password.
func (e *Engine) SignIn(ctx context.Context, email, password string) error {
	params, err := e.client.KeyParams(ctx, email)
	if err != nil {
		return err
	}
	op, err := e.protocol.OperatorForVersion(params.Version)
	if err != nil {
		return err
	}
	rootKey, err := op.ComputeRootKey(password, params)
	if err != nil {
		return err
	}

	if _, err := e.client.SignIn(ctx, email, hex.EncodeToString(rootKey.ServerPassword)); err != nil {
		return err
	}

	e.keyManager.SetRootKey(rootKey)
	if err := e.saveKeyParams(ctx, params); err != nil {
		return err
	}
	e.SetOnline(true)
	return nil
}

func (e *Engine) saveKeyParams(ctx context.Context, params keys.KeyParams) error {
	b, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return e.store.SetValue(ctx, storage.KeyRootKeyParams, string(b))
}
