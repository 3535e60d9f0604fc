package mihealth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/phqovo/slimming/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef")

func testSession() *Session {
	return &Session{
		UserID:   42,
		Token:    "42:pass-token",
		Security: testKey,
		Cookies:  "serviceToken=svc-123",
	}
}

// decryptRequest recovers the plaintext params of a signed request the way
// the platform does: recompute signedNonce from the transmitted nonce.
func decryptRequest(t *testing.T, r *http.Request) (string, []byte) {
	t.Helper()
	require.NoError(t, r.ParseForm())

	nonce, err := base64.StdEncoding.DecodeString(r.FormValue("_nonce"))
	require.NoError(t, err)
	signedNonce := signNonce(testKey, nonce)

	params, err := decryptPayload(signedNonce, r.FormValue("data"))
	require.NoError(t, err)
	return string(params), signedNonce
}

func encryptResponse(t *testing.T, signedNonce []byte, payload any) string {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	enc, err := encryptPayload(signedNonce, string(body))
	require.NoError(t, err)
	return enc
}

func TestInvoke(t *testing.T) {
	var gotParams string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/app/v1/data/get_fitness_data_by_time", r.URL.Path)
		assert.Equal(t, "serviceToken=svc-123", r.Header.Get("Cookie"))

		params, signedNonce := decryptRequest(t, r)
		gotParams = params

		fmt.Fprint(w, encryptResponse(t, signedNonce, map[string]any{
			"code":   0,
			"result": map[string]any{"data_list": []any{}, "has_more": false},
		}))
	}))
	defer server.Close()

	client := NewClient(server.Client(), server.URL, testSession(), nil, nil)
	result, err := client.Invoke(context.Background(), "/app/v1/data/get_fitness_data_by_time",
		`{"start_time":1,"end_time":2,"key":"sleep"}`)
	require.NoError(t, err)

	assert.Equal(t, `{"start_time":1,"end_time":2,"key":"sleep"}`, gotParams)
	assert.JSONEq(t, `{"data_list":[],"has_more":false}`, string(result))
}

func TestInvokeRefreshOn401(t *testing.T) {
	var calls, refreshes atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Expired sessions get plaintext JSON with a 401.
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"code":3,"message":"auth err: token expired"}`)
			return
		}
		_, signedNonce := decryptRequest(t, r)
		fmt.Fprint(w, encryptResponse(t, signedNonce, map[string]any{
			"code": 0, "result": map[string]any{"ok": true},
		}))
	}))
	defer server.Close()

	refresh := func(ctx context.Context, token string) (*Session, error) {
		refreshes.Add(1)
		assert.Equal(t, "42:pass-token", token)
		s := testSession()
		s.Token = "42:new-pass-token"
		return s, nil
	}

	client := NewClient(server.Client(), server.URL, testSession(), refresh, nil)
	result, err := client.Invoke(context.Background(), "/app/v1/data/get_fitness_data_by_time", `{}`)
	require.NoError(t, err)

	assert.JSONEq(t, `{"ok":true}`, string(result))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, "42:new-pass-token", client.Session().Token)
}

func TestInvokeRefreshOnEncryptedExpiry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, signedNonce := decryptRequest(t, r)
		if calls.Add(1) == 1 {
			// The expiry signal also arrives inside decryptable envelopes.
			fmt.Fprint(w, encryptResponse(t, signedNonce, map[string]any{
				"code": 3, "message": "auth err again",
			}))
			return
		}
		fmt.Fprint(w, encryptResponse(t, signedNonce, map[string]any{
			"code": 0, "result": map[string]any{"ok": true},
		}))
	}))
	defer server.Close()

	refresh := func(ctx context.Context, token string) (*Session, error) {
		return testSession(), nil
	}

	client := NewClient(server.Client(), server.URL, testSession(), refresh, nil)
	_, err := client.Invoke(context.Background(), "/x", `{}`)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvokeRefreshOnlyOnce(t *testing.T) {
	var calls, refreshes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"code":3,"message":"auth err: still expired"}`)
	}))
	defer server.Close()

	refresh := func(ctx context.Context, token string) (*Session, error) {
		refreshes.Add(1)
		return testSession(), nil
	}

	client := NewClient(server.Client(), server.URL, testSession(), refresh, nil)
	_, err := client.Invoke(context.Background(), "/x", `{}`)
	require.Error(t, err)

	var expired *errors.ErrAuthExpired
	require.True(t, stderrors.As(err, &expired))
	assert.Equal(t, 3, expired.Code)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), refreshes.Load())
}

func TestInvokePlatformError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, signedNonce := decryptRequest(t, r)
		fmt.Fprint(w, encryptResponse(t, signedNonce, map[string]any{
			"code": 10005, "message": "rate limited",
		}))
	}))
	defer server.Close()

	client := NewClient(server.Client(), server.URL, testSession(), nil, nil)
	_, err := client.Invoke(context.Background(), "/x", `{}`)
	require.Error(t, err)

	var apiErr *errors.ErrPlatformAPI
	require.True(t, stderrors.As(err, &apiErr))
	assert.Equal(t, 10005, apiErr.Code)
	assert.Equal(t, "rate limited", apiErr.Message)
}

func TestInvokeGarbageResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not base64 at all!!!")
	}))
	defer server.Close()

	client := NewClient(server.Client(), server.URL, testSession(), nil, nil)
	_, err := client.Invoke(context.Background(), "/x", `{}`)
	require.Error(t, err)

	var protoErr *errors.ErrProtocol
	assert.True(t, stderrors.As(err, &protoErr))
}
