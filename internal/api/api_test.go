package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkosyakov/notesync/internal/common"
	"github.com/mkosyakov/notesync/internal/payload"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestSession_Expired(t *testing.T) {
	s := NewSession()
	assert.False(t, s.Expired())

	s.SetToken(signedToken(t, time.Now().Add(time.Hour)))
	assert.False(t, s.Expired())

	s.SetToken(signedToken(t, time.Now().Add(-time.Hour)))
	assert.True(t, s.Expired())

	s.Clear()
	assert.False(t, s.Expired())
	assert.Empty(t, s.Token())
}

func TestHTTPClient_SyncRoundTrip(t *testing.T) {
	var gotReq SyncRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/items/sync", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(SyncResponse{
			RetrievedItems: []payload.Raw{{UUID: "a", ContentType: payload.ContentTypeNote}},
			SyncToken:      "st-1",
			IntegrityHash:  "deadbeef",
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, NewSession(), nil)
	resp, err := c.Sync(context.Background(), SyncRequest{
		API:   Version,
		Limit: DefaultUpLimit,
		Items: []payload.Raw{{UUID: "up-1", ContentType: payload.ContentTypeNote}},
	})
	require.NoError(t, err)

	assert.Equal(t, Version, gotReq.API)
	assert.Equal(t, DefaultUpLimit, gotReq.Limit)
	require.Len(t, resp.RetrievedItems, 1)
	assert.Equal(t, "st-1", resp.SyncToken)
	assert.Equal(t, "deadbeef", resp.IntegrityHash)
}

func TestHTTPClient_401IsInvalidSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, NewSession(), nil)
	_, err := c.Sync(context.Background(), SyncRequest{API: Version})
	assert.ErrorIs(t, err, common.ErrInvalidSession)
}

func TestHTTPClient_ExpiredSessionFailsFast(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	session := NewSession()
	session.SetToken(signedToken(t, time.Now().Add(-time.Minute)))

	c := NewHTTPClient(srv.URL, session, nil)
	_, err := c.Sync(context.Background(), SyncRequest{API: Version})
	assert.ErrorIs(t, err, common.ErrInvalidSession)
	assert.False(t, called)
}

func TestHTTPClient_ValidationErrorShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"password must be at least 8 characters"}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, NewSession(), nil)
	err := c.Register(context.Background(), RegisterRequest{Email: "a@b.c", ServerPassword: "x"})
	require.ErrorIs(t, err, common.ErrValidation)
	assert.Contains(t, err.Error(), "at least 8 characters")
}

func TestHTTPClient_ServerErrorWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, NewSession(), nil)
	_, err := c.Sync(context.Background(), SyncRequest{API: Version})
	assert.ErrorIs(t, err, common.ErrServerFailure)
}
