package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DataSourceMiHealth is the only external platform currently wired.
const DataSourceMiHealth = "mi_health"

// Credential holds one user's session with the external platform. Credentials
// are treated as immutable values: a refresh produces a new Credential that
// replaces the old one in the store, it never mutates shared state in place.
type Credential struct {
	UserID      int64     `json:"user_id"`
	DataSource  string    `json:"data_source"`
	Token       string    `json:"token"`        // "platformUserID:passToken"
	SecurityKey []byte    `json:"security_key"` // raw ssecurity bytes, base64 on the wire
	Cookies     string    `json:"cookies"`
	Verified    bool      `json:"verified"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PlatformUserID extracts the numeric platform account ID from the token.
func (c Credential) PlatformUserID() (int64, error) {
	idx := strings.IndexByte(c.Token, ':')
	if idx <= 0 {
		return 0, fmt.Errorf("malformed session token")
	}
	return strconv.ParseInt(c.Token[:idx], 10, 64)
}

// PassToken extracts the pass token half of the session token.
func (c Credential) PassToken() string {
	idx := strings.IndexByte(c.Token, ':')
	if idx < 0 || idx+1 >= len(c.Token) {
		return ""
	}
	return c.Token[idx+1:]
}

// Redacted returns a loggable form of the token. Secrets never reach logs.
func (c Credential) Redacted() string {
	if len(c.Token) <= 8 {
		return "***"
	}
	return c.Token[:8] + "..."
}
