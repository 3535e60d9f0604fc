// Package mocks provides an in-process stand-in for the Mi Health platform:
// the account-service login handshake and the signed, RC4-encrypted data API.
package mocks

import (
	"crypto/md5"
	"crypto/rc4"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

const loginPrefix = "&&&START&&&"

// Record is one raw platform item as served by the data endpoints. Value is
// the double-encoded measurement document.
type Record struct {
	Time     int64  `json:"time"`
	Value    string `json:"value"`
	Category string `json:"category,omitempty"`
}

// PlatformServer simulates the platform over HTTP. Register records per
// data key, point an Authenticator and Client at URL(), and every signed
// call is verified and answered the way the real service would.
type PlatformServer struct {
	Username    string
	Password    string
	UserID      int64
	SecurityKey []byte
	PageSize    int

	mu              sync.Mutex
	server          *httptest.Server
	passToken       string
	tokenGeneration int
	sessionExpired  bool
	secondaryURL    string

	// records by data key: "weight", "sleep", "steps" or "sport" for the
	// sport-records endpoint.
	records map[string][]Record

	LoginCount   int
	RefreshCount int
	DataRequests int
}

// NewPlatformServer starts the mock with one valid account.
func NewPlatformServer() *PlatformServer {
	p := &PlatformServer{
		Username:    "user@example.com",
		Password:    "hunter2",
		UserID:      987654321,
		SecurityKey: []byte("0123456789abcdef"),
		PageSize:    2,
		passToken:   "pass-token-1",
		records:     make(map[string][]Record),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/pass/serviceLogin", p.handleServiceLogin)
	mux.HandleFunc("/pass/serviceLoginAuth2", p.handleLoginAuth)
	mux.HandleFunc("/sts", p.handleSTS)
	mux.HandleFunc("/app/v1/data/get_fitness_data_by_time", p.handleFitnessData)
	mux.HandleFunc("/app/v1/data/get_sport_records_by_time", p.handleSportRecords)
	p.server = httptest.NewServer(mux)
	return p
}

// URL is the base URL for both the account service and the data API.
func (p *PlatformServer) URL() string {
	return p.server.URL
}

// Close shuts the server down.
func (p *PlatformServer) Close() {
	p.server.Close()
}

// AddRecord registers a raw item under a data key. measurement is marshaled
// into the double-encoded value string.
func (p *PlatformServer) AddRecord(key string, ts int64, category string, measurement map[string]any) {
	value, _ := json.Marshal(measurement)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records[key] = append(p.records[key], Record{
		Time:     ts,
		Value:    string(value),
		Category: category,
	})
}

// ExpireSession makes the next data call fail with the auth-expired signal.
// The refresh that follows rotates the pass token.
func (p *PlatformServer) ExpireSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionExpired = true
}

// RequireSecondaryVerification makes password logins demand out-of-band
// verification at the given URL.
func (p *PlatformServer) RequireSecondaryVerification(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.secondaryURL = url
}

// PassToken returns the currently valid pass token.
func (p *PlatformServer) PassToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.passToken
}

func (p *PlatformServer) writeLoginJSON(w http.ResponseWriter, v any) {
	body, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, loginPrefix+string(body))
}

func (p *PlatformServer) loginSuccess() map[string]any {
	return map[string]any{
		"code":      0,
		"userId":    p.UserID,
		"passToken": p.passToken,
		"ssecurity": base64.StdEncoding.EncodeToString(p.SecurityKey),
		"location":  p.server.URL + "/sts",
	}
}

// handleServiceLogin serves the login parameters, or refreshes a session
// when valid userId/passToken cookies are presented.
func (p *PlatformServer) handleServiceLogin(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	userID, _ := r.Cookie("userId")
	passToken, _ := r.Cookie("passToken")
	if userID != nil && passToken != nil {
		if userID.Value != strconv.FormatInt(p.UserID, 10) {
			p.writeLoginJSON(w, map[string]any{"code": 70016, "desc": "unknown user"})
			return
		}
		p.RefreshCount++
		p.tokenGeneration++
		p.passToken = fmt.Sprintf("pass-token-%d", p.tokenGeneration+1)
		p.writeLoginJSON(w, p.loginSuccess())
		return
	}

	p.writeLoginJSON(w, map[string]any{
		"_sign":    "mock-sign",
		"qs":       "mock-qs",
		"callback": p.server.URL + "/callback",
		"sid":      "miothealth",
	})
}

func (p *PlatformServer) handleLoginAuth(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.LoginCount++

	if r.PostFormValue("_sign") != "mock-sign" {
		p.writeLoginJSON(w, map[string]any{"code": 87001, "desc": "missing sign"})
		return
	}

	wantHash := md5.Sum([]byte(p.Password))
	want := strings.ToUpper(hex.EncodeToString(wantHash[:]))
	if r.PostFormValue("user") != p.Username || r.PostFormValue("hash") != want {
		p.writeLoginJSON(w, map[string]any{"code": 70016, "desc": "invalid username or password"})
		return
	}

	if p.secondaryURL != "" {
		p.writeLoginJSON(w, map[string]any{
			"code":            0,
			"notificationUrl": p.secondaryURL,
		})
		return
	}

	p.writeLoginJSON(w, p.loginSuccess())
}

func (p *PlatformServer) handleSTS(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	token := p.passToken
	p.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "serviceToken", Value: "svc-" + token})
	http.SetCookie(w, &http.Cookie{Name: "userId", Value: strconv.FormatInt(p.UserID, 10)})
	w.WriteHeader(http.StatusOK)
}

// signedCall is the decoded state of one verified data request.
type signedCall struct {
	signedNonce []byte
	params      map[string]any
}

// verifyRequest checks the nonce, signature chain and ciphertext of a data
// call the same way the platform does.
func (p *PlatformServer) verifyRequest(r *http.Request) (*signedCall, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	data := r.PostFormValue("data")
	rc4Hash := r.PostFormValue("rc4_hash__")
	signature := r.PostFormValue("signature")
	nonceB64 := r.PostFormValue("_nonce")

	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil || len(nonce) != 12 {
		return nil, fmt.Errorf("malformed nonce")
	}

	h := sha256.New()
	h.Write(p.SecurityKey)
	h.Write(nonce)
	signedNonce := h.Sum(nil)
	signedNonceB64 := base64.StdEncoding.EncodeToString(signedNonce)

	secondStage := fmt.Sprintf("POST&%s&data=%s&rc4_hash__=%s&%s",
		r.URL.Path, data, rc4Hash, signedNonceB64)
	if sha1Base64(secondStage) != signature {
		return nil, fmt.Errorf("signature mismatch")
	}

	plaintext, err := rc4Decode(signedNonce, data)
	if err != nil {
		return nil, err
	}

	firstStage := fmt.Sprintf("POST&%s&data=%s&%s", r.URL.Path, plaintext, signedNonceB64)
	wantHash, err := rc4Decode(signedNonce, rc4Hash)
	if err != nil {
		return nil, err
	}
	if sha1Base64(firstStage) != string(wantHash) {
		return nil, fmt.Errorf("rc4 hash mismatch")
	}

	var params map[string]any
	if err := json.Unmarshal([]byte(plaintext), &params); err != nil {
		return nil, err
	}
	return &signedCall{signedNonce: signedNonce, params: params}, nil
}

func (p *PlatformServer) handleFitnessData(w http.ResponseWriter, r *http.Request) {
	p.serveData(w, r, "", "data_list")
}

func (p *PlatformServer) handleSportRecords(w http.ResponseWriter, r *http.Request) {
	p.serveData(w, r, "sport", "sport_records")
}

func (p *PlatformServer) serveData(w http.ResponseWriter, r *http.Request, fixedKey, listKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DataRequests++

	if p.sessionExpired {
		p.sessionExpired = false
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"code":3,"message":"auth err: token expired"}`)
		return
	}

	call, err := p.verifyRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := fixedKey
	if key == "" {
		key, _ = call.params["key"].(string)
	}
	start := int64(floatParam(call.params, "start_time"))
	end := int64(floatParam(call.params, "end_time"))

	var window []Record
	for _, rec := range p.records[key] {
		if rec.Time >= start && rec.Time <= end {
			window = append(window, rec)
		}
	}

	offset := 0
	if nextKey, _ := call.params["next_key"].(string); nextKey != "" {
		offset, _ = strconv.Atoi(nextKey)
	}

	pageEnd := offset + p.PageSize
	if pageEnd > len(window) {
		pageEnd = len(window)
	}
	page := window[offset:pageEnd]
	hasMore := pageEnd < len(window)

	result := map[string]any{
		listKey:    page,
		"has_more": hasMore,
	}
	if hasMore {
		result["next_key"] = strconv.Itoa(pageEnd)
	}

	envelope, _ := json.Marshal(map[string]any{"code": 0, "result": result})
	ciphertext, err := rc4Encode(call.signedNonce, envelope)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fmt.Fprint(w, ciphertext)
}

func floatParam(m map[string]any, key string) float64 {
	v, _ := m[key].(float64)
	return v
}

func sha1Base64(data string) string {
	sum := sha1.Sum([]byte(data))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// rc4Stream applies the drop-1024 RC4 keystream the platform protocol uses.
func rc4Stream(key, data []byte) ([]byte, error) {
	cipher, err := rc4.NewCipher(key)
	if err != nil {
		return nil, err
	}
	drop := make([]byte, 1024)
	cipher.XORKeyStream(drop, drop)
	out := make([]byte, len(data))
	cipher.XORKeyStream(out, data)
	return out, nil
}

func rc4Encode(key, plaintext []byte) (string, error) {
	enc, err := rc4Stream(key, plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(enc), nil
}

func rc4Decode(key []byte, encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	return rc4Stream(key, raw)
}
