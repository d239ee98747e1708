package authcore

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"time"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
)

// MfaKind identifies an MFA method without its payload.
type MfaKind uint8

const (
	// MfaNone means the user has no second factor configured.
	MfaNone MfaKind = iota
	MfaTOTP
	MfaSMS
	MfaEmail
)

func (k MfaKind) String() string {
	switch k {
	case MfaTOTP:
		return "totp"
	case MfaSMS:
		return "sms"
	case MfaEmail:
		return "email"
	default:
		return "none"
	}
}

// ParseMfaKind maps the wire names produced by [MfaKind.String] back to kinds.
func ParseMfaKind(s string) (MfaKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return MfaNone, true
	case "totp":
		return MfaTOTP, true
	case "sms":
		return MfaSMS, true
	case "email":
		return MfaEmail, true
	default:
		return MfaNone, false
	}
}

// MfaMethod is the closed set of second factors. The only implementations are
// [TOTPMethod], [SMSMethod] and [EmailMethod]; a nil MfaMethod means none.
// Each variant carries exactly the payload its method needs.
type MfaMethod interface {
	Kind() MfaKind
	mfaMethod()
}

// TOTPMethod carries the base32 shared secret of an authenticator app.
type TOTPMethod struct {
	Secret string
}

// SMSMethod carries the phone number codes are delivered to.
type SMSMethod struct {
	Phone string
}

// EmailMethod delivers codes to the account's email address.
type EmailMethod struct{}

func (TOTPMethod) Kind() MfaKind  { return MfaTOTP }
func (SMSMethod) Kind() MfaKind   { return MfaSMS }
func (EmailMethod) Kind() MfaKind { return MfaEmail }

func (TOTPMethod) mfaMethod()  {}
func (SMSMethod) mfaMethod()   {}
func (EmailMethod) mfaMethod() {}

// NewTOTPMethod rejects an empty secret.
func NewTOTPMethod(secret string) (MfaMethod, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMfaSetupInvalid
	}
	return TOTPMethod{Secret: secret}, nil
}

// NewSMSMethod rejects an empty phone number.
func NewSMSMethod(phone string) (MfaMethod, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, ErrMfaSetupInvalid
	}
	return SMSMethod{Phone: phone}, nil
}

// NewMfaMethod builds the variant for kind from its stored payload. It is
// used by stores that persist the method as flat columns.
func NewMfaMethod(kind MfaKind, secret, phone string) (MfaMethod, error) {
	switch kind {
	case MfaNone:
		return nil, nil
	case MfaTOTP:
		return NewTOTPMethod(secret)
	case MfaSMS:
		return NewSMSMethod(phone)
	case MfaEmail:
		return EmailMethod{}, nil
	default:
		return nil, ErrMfaSetupInvalid
	}
}

// MfaKindOf returns MfaNone for a nil method.
func MfaKindOf(m MfaMethod) MfaKind {
	if m == nil {
		return MfaNone
	}
	return m.Kind()
}

// User is the account record owned by the [UserStore]. The engine only reads
// and mutates authentication fields.
type User struct {
	ID           string
	Username     string
	Email        string
	DisplayName  string
	PasswordHash string
	Active       bool

	MfaEnabled       bool
	Mfa              MfaMethod
	BackupCodeHashes []string

	Roles []string

	LastLoginAt         time.Time
	LastMfaValidationAt time.Time
}

// UserStore is the user repository consumed by the engine. Implementations
// must be safe for concurrent use.
//
// Updates are field-targeted so that concurrent flows for the same user never
// overwrite each other's changes.
type UserStore interface {
	GetUserByID(ctx context.Context, userID string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	// ValidateCredentials reports ok=false for unknown users and wrong passwords alike.
	ValidateCredentials(ctx context.Context, username, password string) (user *User, ok bool, err error)
	GetPermissions(ctx context.Context, userID string) ([]string, error)

	RecordLogin(ctx context.Context, userID string, at time.Time) error
	RecordMfaValidation(ctx context.Context, userID string, at time.Time) error
	EnableMfa(ctx context.Context, userID string, method MfaMethod, backupCodeHashes []string) error
	DisableMfa(ctx context.Context, userID string) error
	ReplaceBackupCodes(ctx context.Context, userID string, hashes []string) error
	// RemoveBackupCode removes hash only if it is still present and reports
	// whether this call removed it.
	RemoveBackupCode(ctx context.Context, userID, hash string) (bool, error)
}

// PasswordHasher hashes and verifies secrets. It is used for passwords by
// stores and for backup codes by the engine.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, encodedHash string) (bool, error)
}

// Notifier delivers a one-time code to a phone number or email address.
type Notifier interface {
	Send(ctx context.Context, destination, message string) error
}

// LoginRequest is the input of [Engine.Authenticate]. MfaCode and ChallengeID
// are optional.
type LoginRequest struct {
	Username    string
	Password    string
	MfaCode     string
	ChallengeID string
}

// UserInfo is the public projection of a [User] returned on success.
type UserInfo struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles"`
	MfaEnabled  bool     `json:"mfa_enabled"`
}

// ChallengeDescriptor is handed back to the caller when a second factor is
// required. It never contains the code itself.
type ChallengeDescriptor struct {
	ID          string    `json:"challenge_id"`
	Method      MfaKind   `json:"-"`
	MethodName  string    `json:"method"`
	ExpiresAt   time.Time `json:"expires_at"`
	Destination string    `json:"destination,omitempty"`
}

// AuthResult is returned by every successful flow. When MfaRequired is set no
// tokens are present and Challenge describes the pending challenge.
type AuthResult struct {
	User *UserInfo `json:"user,omitempty"`

	AccessToken          string    `json:"access_token,omitempty"`
	AccessTokenExpiresAt time.Time `json:"access_token_expires_at,omitempty"`
	RefreshToken         string    `json:"refresh_token,omitempty"`

	MfaRequired bool                 `json:"mfa_required"`
	Challenge   *ChallengeDescriptor `json:"challenge,omitempty"`

	// UsedBackupCode is set when a backup code completed the second factor.
	UsedBackupCode bool `json:"used_backup_code,omitempty"`
}

// MfaSetupRequest selects the method to enroll. Phone is required for SMS.
type MfaSetupRequest struct {
	Kind  MfaKind
	Phone string
}

// MfaSetup is returned once by [Engine.SetupMfa]; the plaintext backup codes
// are not retrievable afterwards.
type MfaSetup struct {
	Method      MfaKind  `json:"-"`
	MethodName  string   `json:"method"`
	Secret      string   `json:"secret,omitempty"`
	QRCodeURL   string   `json:"qr_code_url,omitempty"`
	QRCodePNG   []byte   `json:"qr_code_png,omitempty"`
	BackupCodes []string `json:"backup_codes"`
}

// Principal is the decoded identity of an access token.
type Principal struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AuditEntry is a structured audit record emitted by the engine.
type AuditEntry = internalaudit.Entry

// AuditSink receives [AuditEntry] values. Errors are logged locally and never
// reach the caller of an engine method.
type AuditSink = internalaudit.Sink

// AuditSeverity grades audit entries.
type AuditSeverity = internalaudit.Severity

const (
	AuditInfo     = internalaudit.SeverityInfo
	AuditWarning  = internalaudit.SeverityWarning
	AuditSecurity = internalaudit.SeveritySecurity
)

// NoOpSink is an [AuditSink] that silently discards all entries.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per entry to an [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// SQLiteSink persists entries into an audit_log table.
type SQLiteSink = internalaudit.SQLiteSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSQLiteSink creates the audit table if needed and returns a sink writing to db.
func NewSQLiteSink(ctx context.Context, db *sql.DB) (*SQLiteSink, error) {
	return internalaudit.NewSQLiteSink(ctx, db)
}
