package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mkosyakov/notesync/internal/common"
	"github.com/mkosyakov/notesync/internal/keys"
	"github.com/mkosyakov/notesync/internal/logging"
)

// AccessTokenHeaderName is the HTTP header carrying the session token.
const AccessTokenHeaderName = "Authorization"

// HTTPClient implements Client against a JSON-over-HTTP server.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	session *Session
	log     logging.Logger
}

func NewHTTPClient(baseURL string, session *Session, log logging.Logger) *HTTPClient {
	if log == nil {
		log = logging.NewDefault()
	}
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{},
		session: session,
		log:     log,
	}
}

// errorBody is the {error: {message}} shape validation failures come in.
type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	if c.session != nil && c.session.Expired() {
		return common.ErrInvalidSession
	}

	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.session != nil && c.session.Token() != "" {
		req.Header.Set(AccessTokenHeaderName, "Bearer "+c.session.Token())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrServerFailure, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrServerFailure, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.log.Warn(ctx, "server rejected session", "path", path)
		return common.ErrInvalidSession
	case resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError:
		var eb errorBody
		if err := json.Unmarshal(data, &eb); err == nil && eb.Error.Message != "" {
			return fmt.Errorf("%w: %s", common.ErrValidation, eb.Error.Message)
		}
		return fmt.Errorf("%w: status %d", common.ErrValidation, resp.StatusCode)
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", common.ErrServerFailure, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: malformed response: %v", common.ErrServerFailure, err)
	}
	return nil
}

func (c *HTTPClient) Register(ctx context.Context, req RegisterRequest) error {
	return c.post(ctx, "/v1/auth/register", req, nil)
}

func (c *HTTPClient) SignIn(ctx context.Context, email, serverPassword string) (*SignInResponse, error) {
	var out SignInResponse
	body := map[string]string{"email": email, "password": serverPassword}
	if err := c.post(ctx, "/v1/auth/sign_in", body, &out); err != nil {
		return nil, err
	}
	if c.session != nil {
		c.session.SetToken(out.AccessToken)
	}
	return &out, nil
}

func (c *HTTPClient) KeyParams(ctx context.Context, email string) (keys.KeyParams, error) {
	var out keys.KeyParams
	body := map[string]string{"email": email}
	if err := c.post(ctx, "/v1/auth/params", body, &out); err != nil {
		return keys.KeyParams{}, err
	}
	return out, nil
}

func (c *HTTPClient) Sync(ctx context.Context, req SyncRequest) (*SyncResponse, error) {
	var out SyncResponse
	if err := c.post(ctx, "/v1/items/sync", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
