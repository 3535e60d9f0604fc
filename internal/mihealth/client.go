package mihealth

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/phqovo/slimming/internal/errors"
	"github.com/phqovo/slimming/internal/logging"
)

const authExpiredCode = 3

// RefreshFunc re-establishes a session from its current token. The client
// calls it at most once per Invoke when the platform signals session expiry.
type RefreshFunc func(ctx context.Context, token string) (*Session, error)

// Client issues signed, encrypted POST calls to the health data API.
// It is safe for concurrent use; the session is swapped atomically on refresh.
type Client struct {
	http    *http.Client
	apiBase string
	refresh RefreshFunc
	logger  *logging.Logger

	mu      sync.RWMutex
	session *Session
}

func NewClient(httpClient *http.Client, apiBase string, session *Session, refresh RefreshFunc, logger *logging.Logger) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(0, false)
	}
	return &Client{
		http:    httpClient,
		apiBase: strings.TrimRight(apiBase, "/"),
		session: session,
		refresh: refresh,
		logger:  logger,
	}
}

// Session returns the current session, which may have been replaced by a
// refresh since the client was built.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Invoke signs params, posts them to endpoint, and returns the decrypted
// result payload. On a session-expiry signal it refreshes the session and
// retries the call exactly once.
func (c *Client) Invoke(ctx context.Context, endpoint, params string) (json.RawMessage, error) {
	result, err := c.invokeOnce(ctx, endpoint, params)
	if err == nil {
		return result, nil
	}

	var expired *errors.ErrAuthExpired
	if !stderrors.As(err, &expired) || c.refresh == nil {
		return nil, err
	}

	if c.logger != nil {
		c.logger.WarnWithContext(ctx, "platform session expired, refreshing",
			"endpoint", endpoint, "code", expired.Code)
	}
	if err := c.refreshSession(ctx); err != nil {
		return nil, err
	}
	return c.invokeOnce(ctx, endpoint, params)
}

func (c *Client) refreshSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.refresh(ctx, c.session.Token)
	if err != nil {
		return err
	}
	c.session = session
	return nil
}

func (c *Client) invokeOnce(ctx context.Context, endpoint, params string) (json.RawMessage, error) {
	session := c.Session()
	if session == nil {
		return nil, &errors.ErrProtocol{Endpoint: endpoint, Detail: "no session"}
	}

	form, signedNonce, err := signRequest(session.Security, endpoint, params, time.Now())
	if err != nil {
		return nil, &errors.ErrProtocol{Endpoint: endpoint, Detail: "sign request", Err: err}
	}

	values := url.Values{
		"data":       {form.Data},
		"rc4_hash__": {form.RC4Hash},
		"signature":  {form.Signature},
		"_nonce":     {form.Nonce},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, &errors.ErrProtocol{Endpoint: endpoint, Detail: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cookie", session.Cookies)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &errors.ErrProtocol{Endpoint: endpoint, Detail: "http post", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.ErrProtocol{Endpoint: endpoint, Detail: "read response", Err: err}
	}

	// HTTP 401 responses arrive as plaintext JSON, bypassing the envelope
	// encryption entirely.
	if resp.StatusCode == http.StatusUnauthorized {
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, &errors.ErrProtocol{Endpoint: endpoint,
				Detail: fmt.Sprintf("unparseable 401 body: %.200s", body)}
		}
		if isAuthExpired(env.Code, env.Message) {
			return nil, &errors.ErrAuthExpired{Code: env.Code, Message: env.Message}
		}
		return nil, &errors.ErrPlatformAPI{Endpoint: endpoint, Code: env.Code, Message: env.Message}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &errors.ErrProtocol{Endpoint: endpoint,
			Detail: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	plaintext, err := decryptPayload(signedNonce, string(body))
	if err != nil {
		return nil, &errors.ErrProtocol{Endpoint: endpoint, Detail: "decrypt response", Err: err}
	}

	var env envelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return nil, &errors.ErrProtocol{Endpoint: endpoint, Detail: "decode envelope", Err: err}
	}

	if env.Code != 0 {
		// The expiry signal also appears inside successfully decrypted
		// envelopes.
		if isAuthExpired(env.Code, env.Message) {
			return nil, &errors.ErrAuthExpired{Code: env.Code, Message: env.Message}
		}
		return nil, &errors.ErrPlatformAPI{Endpoint: endpoint, Code: env.Code, Message: env.Message}
	}
	return env.Result, nil
}

func isAuthExpired(code int, message string) bool {
	return code == authExpiredCode && strings.Contains(strings.ToLower(message), "auth err")
}
