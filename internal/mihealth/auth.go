package mihealth

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"

	"github.com/phqovo/slimming/internal/errors"
	"github.com/phqovo/slimming/internal/logging"
)

// Session holds everything a signed API call needs after a successful login.
type Session struct {
	UserID   int64
	Token    string // "userID:passToken"
	Security []byte // decoded ssecurity, the signing key
	Cookies  string
}

// Authenticator implements the account-service login handshake. The flow has
// three steps: fetch the signed login parameters, submit the hashed password,
// then follow the issued location once to collect the service cookies.
type Authenticator struct {
	client  *http.Client
	baseURL string
	sid     string
	logger  *logging.Logger
}

const defaultSID = "miothealth"

// loginPrefix guards every account-service JSON body.
var loginPrefix = []byte("&&&START&&&")

func NewAuthenticator(client *http.Client, baseURL string, logger *logging.Logger) *Authenticator {
	if client == nil {
		client = NewHTTPClient(0, false)
	}
	return &Authenticator{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		sid:     defaultSID,
		logger:  logger,
	}
}

type loginParams struct {
	Sign     string `json:"_sign"`
	QS       string `json:"qs"`
	Callback string `json:"callback"`
	SID      string `json:"sid"`
}

type loginResult struct {
	Code            int    `json:"code"`
	Desc            string `json:"desc"`
	UserID          int64  `json:"userId"`
	PassToken       string `json:"passToken"`
	SSecurity       string `json:"ssecurity"`
	Location        string `json:"location"`
	NotificationURL string `json:"notificationUrl"`
	CaptchaURL      string `json:"captchaUrl"`
}

// Login performs the password login. A secondary-verification demand is
// returned as *errors.ErrSecondaryVerification so callers can surface the
// verification URL instead of treating it as a failure.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*Session, error) {
	params, err := a.fetchLoginParams(ctx, nil)
	if err != nil {
		return nil, &errors.ErrAuth{Stage: "login", Err: err}
	}

	result, err := a.submitCredentials(ctx, params, username, password)
	if err != nil {
		return nil, err
	}

	cookies, err := a.collectCookies(ctx, result.Location)
	if err != nil {
		return nil, &errors.ErrAuth{Stage: "login", Err: err}
	}

	return sessionFromResult(result, cookies)
}

// Refresh re-establishes a session using the stored token, without a password.
// The account service accepts userId/passToken cookies on the same endpoint
// that serves the login parameters.
func (a *Authenticator) Refresh(ctx context.Context, token string) (*Session, error) {
	userID, passToken, ok := strings.Cut(token, ":")
	if !ok {
		return nil, &errors.ErrAuth{Stage: "refresh", Err: fmt.Errorf("malformed token")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.serviceLoginURL(), nil)
	if err != nil {
		return nil, &errors.ErrAuth{Stage: "refresh", Err: err}
	}
	req.Header.Set("Cookie", fmt.Sprintf("userId=%s; passToken=%s", userID, passToken))

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &errors.ErrAuth{Stage: "refresh", Err: err}
	}
	defer resp.Body.Close()

	body, err := readLoginBody(resp.Body)
	if err != nil {
		return nil, &errors.ErrAuth{Stage: "refresh", Err: err}
	}

	var result loginResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &errors.ErrAuth{Stage: "refresh", Err: err}
	}
	if result.PassToken == "" {
		return nil, &errors.ErrAuth{Stage: "refresh", Err: fmt.Errorf("stored token rejected")}
	}

	cookies, err := a.collectCookies(ctx, result.Location)
	if err != nil {
		return nil, &errors.ErrAuth{Stage: "refresh", Err: err}
	}

	if a.logger != nil {
		a.logger.Info("platform session refreshed", "user_id", result.UserID)
	}
	return sessionFromResult(&result, cookies)
}

func (a *Authenticator) serviceLoginURL() string {
	return fmt.Sprintf("%s/pass/serviceLogin?_json=true&sid=%s", a.baseURL, a.sid)
}

// fetchLoginParams retrieves the _sign/qs/callback parameters for this login
// attempt. An error status in the body is ignored here: the response still
// carries the fields the second step needs.
func (a *Authenticator) fetchLoginParams(ctx context.Context, callbackURL *url.URL) (*loginParams, error) {
	target := a.serviceLoginURL()
	if callbackURL != nil {
		target += "&callback=" + url.QueryEscape(callbackURL.String())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readLoginBody(resp.Body)
	if err != nil {
		return nil, err
	}

	var params loginParams
	if err := json.Unmarshal(body, &params); err != nil {
		return nil, err
	}
	if params.Sign == "" {
		return nil, fmt.Errorf("login parameters missing _sign")
	}
	if params.SID == "" {
		params.SID = a.sid
	}
	return &params, nil
}

func (a *Authenticator) submitCredentials(ctx context.Context, params *loginParams, username, password string) (*loginResult, error) {
	hash := md5.Sum([]byte(password))
	form := url.Values{
		"_json":    {"true"},
		"hash":     {strings.ToUpper(hex.EncodeToString(hash[:]))},
		"sid":      {params.SID},
		"callback": {params.Callback},
		"_sign":    {params.Sign},
		"qs":       {params.QS},
		"user":     {username},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/pass/serviceLoginAuth2", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &errors.ErrAuth{Stage: "login", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cookie", "deviceId="+randomDeviceID())

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &errors.ErrAuth{Stage: "login", Err: err}
	}
	defer resp.Body.Close()

	body, err := readLoginBody(resp.Body)
	if err != nil {
		return nil, &errors.ErrAuth{Stage: "login", Err: err}
	}

	var result loginResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &errors.ErrAuth{Stage: "login", Err: err}
	}

	if result.Code != 0 {
		if result.CaptchaURL != "" || result.Code == 87001 {
			return nil, &errors.ErrAuth{Stage: "login", Err: fmt.Errorf("captcha challenge issued, log in via the official app once and retry")}
		}
		return nil, &errors.ErrAuth{Stage: "login", Err: fmt.Errorf("account service rejected login (code=%d): %s", result.Code, result.Desc)}
	}

	// A notification URL without a location means the account demands
	// out-of-band verification before issuing tokens.
	if result.NotificationURL != "" && result.Location == "" {
		return nil, &errors.ErrSecondaryVerification{NotificationURL: result.NotificationURL}
	}

	if result.PassToken == "" {
		return nil, &errors.ErrAuth{Stage: "login", Err: fmt.Errorf("invalid username or password")}
	}
	return &result, nil
}

// collectCookies follows the post-login location once and joins the name=value
// pairs of every Set-Cookie header into the session cookie string.
func (a *Authenticator) collectCookies(ctx context.Context, location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("login response missing location")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	var pairs []string
	for _, header := range resp.Header.Values("Set-Cookie") {
		pair, _, _ := strings.Cut(header, ";")
		if pair != "" {
			pairs = append(pairs, pair)
		}
	}
	return strings.Join(pairs, "; "), nil
}

func sessionFromResult(result *loginResult, cookies string) (*Session, error) {
	security, err := base64.StdEncoding.DecodeString(result.SSecurity)
	if err != nil {
		return nil, &errors.ErrAuth{Stage: "login", Err: fmt.Errorf("decode ssecurity: %w", err)}
	}
	return &Session{
		UserID:   result.UserID,
		Token:    fmt.Sprintf("%d:%s", result.UserID, result.PassToken),
		Security: security,
		Cookies:  cookies,
	}, nil
}

func readLoginBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(body, loginPrefix) {
		return nil, fmt.Errorf("unexpected login response format")
	}
	return bytes.TrimPrefix(body, loginPrefix), nil
}

const deviceIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomDeviceID() string {
	b := make([]byte, 16)
	for i := range b {
		b[i] = deviceIDAlphabet[rand.Intn(len(deviceIDAlphabet))]
	}
	return string(b)
}
