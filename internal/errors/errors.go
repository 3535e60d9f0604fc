package errors

import "fmt"

// Config errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrConfigValidation struct {
	Err error
}

func (e *ErrConfigValidation) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ErrConfigValidation) Unwrap() error {
	return e.Err
}

// Database errors

type ErrDatabaseOpen struct {
	Path string
	Err  error
}

func (e *ErrDatabaseOpen) Error() string {
	return fmt.Sprintf("failed to open database %s: %v", e.Path, e.Err)
}

func (e *ErrDatabaseOpen) Unwrap() error {
	return e.Err
}

type ErrDatabaseMigration struct {
	Version int
	Err     error
}

func (e *ErrDatabaseMigration) Error() string {
	return fmt.Sprintf("database migration %d failed: %v", e.Version, e.Err)
}

func (e *ErrDatabaseMigration) Unwrap() error {
	return e.Err
}

type ErrDatabaseQuery struct {
	Operation string
	Err       error
}

func (e *ErrDatabaseQuery) Error() string {
	return fmt.Sprintf("database query failed for operation %s: %v", e.Operation, e.Err)
}

func (e *ErrDatabaseQuery) Unwrap() error {
	return e.Err
}

// Authentication errors (platform login, refresh, credential state)

type ErrAuth struct {
	Stage string // "login", "refresh", "bind"
	Err   error
}

func (e *ErrAuth) Error() string {
	return fmt.Sprintf("platform auth failed at %s: %v", e.Stage, e.Err)
}

func (e *ErrAuth) Unwrap() error {
	return e.Err
}

// ErrSecondaryVerification reports that the platform demands out-of-band
// verification before the account can be used. It is a distinct state, not a
// login failure: callers poll the verification flow and retry.
type ErrSecondaryVerification struct {
	NotificationURL string
}

func (e *ErrSecondaryVerification) Error() string {
	return fmt.Sprintf("secondary verification required: %s", e.NotificationURL)
}

type ErrCredentialMissing struct {
	UserID     int64
	DataSource string
}

func (e *ErrCredentialMissing) Error() string {
	return fmt.Sprintf("no verified %s credential for user %d", e.DataSource, e.UserID)
}

// ErrAuthExpired marks the platform's session-expiry signal (code 3 with an
// "auth err" message, on either the 401 plaintext layer or inside a decrypted
// envelope). The fetch layer retries exactly once after a token refresh.
type ErrAuthExpired struct {
	Code    int
	Message string
}

func (e *ErrAuthExpired) Error() string {
	return fmt.Sprintf("platform session expired (code=%d): %s", e.Code, e.Message)
}

// Protocol errors

type ErrProtocol struct {
	Endpoint string
	Detail   string
	Err      error
}

func (e *ErrProtocol) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("platform protocol error at %s: %s: %v", e.Endpoint, e.Detail, e.Err)
	}
	return fmt.Sprintf("platform protocol error at %s: %s", e.Endpoint, e.Detail)
}

func (e *ErrProtocol) Unwrap() error {
	return e.Err
}

type ErrPlatformAPI struct {
	Endpoint string
	Code     int
	Message  string
}

func (e *ErrPlatformAPI) Error() string {
	return fmt.Sprintf("platform API error at %s (code=%d): %s", e.Endpoint, e.Code, e.Message)
}

type ErrUnsupportedCategory struct {
	Category string
}

func (e *ErrUnsupportedCategory) Error() string {
	return fmt.Sprintf("unsupported data category: %s", e.Category)
}

// Server errors

type ErrServerStart struct {
	Addr string
	Err  error
}

func (e *ErrServerStart) Error() string {
	return fmt.Sprintf("failed to start server on %s: %v", e.Addr, e.Err)
}

func (e *ErrServerStart) Unwrap() error {
	return e.Err
}

type ErrServerShutdown struct {
	Err error
}

func (e *ErrServerShutdown) Error() string {
	return fmt.Sprintf("server shutdown failed: %v", e.Err)
}

func (e *ErrServerShutdown) Unwrap() error {
	return e.Err
}

// Filesystem errors

type ErrDirectoryCreate struct {
	Path string
	Err  error
}

func (e *ErrDirectoryCreate) Error() string {
	return fmt.Sprintf("failed to create directory %s: %v", e.Path, e.Err)
}

func (e *ErrDirectoryCreate) Unwrap() error {
	return e.Err
}

type ErrFileRead struct {
	Path string
	Err  error
}

func (e *ErrFileRead) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *ErrFileRead) Unwrap() error {
	return e.Err
}
