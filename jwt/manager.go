package jwt

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretBytes is the shortest accepted HMAC secret.
const MinSecretBytes = 32

var (
	// ErrWrongIssuer is returned by ParseIgnoringLifetime for a foreign issuer.
	ErrWrongIssuer = errors.New("jwt: unexpected issuer")
	// ErrWrongAudience is returned by ParseIgnoringLifetime for a foreign audience.
	ErrWrongAudience = errors.New("jwt: unexpected audience")
)

// Config holds issuance and verification settings.
type Config struct {
	Secret    []byte
	Issuer    string
	Audience  string
	AccessTTL time.Duration
	Leeway    time.Duration

	// KeyID is written to the kid header. VerifyKeys maps kid to secret for
	// tokens signed before a rotation.
	KeyID      string
	VerifyKeys map[string][]byte

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// Identity is what an access token asserts about its subject.
type Identity struct {
	UserID      string
	Username    string
	Email       string
	DisplayName string
	Roles       []string
	Permissions []string
}

// AccessClaims is the claim set of an access token.
type AccessClaims struct {
	Name        string   `json:"name"`
	Email       string   `json:"email,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"role,omitempty"`
	Permissions []string `json:"permission,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and verifies access tokens. It is immutable and safe for
// concurrent use.
type Manager struct {
	cfg Config
}

func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < MinSecretBytes {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretBytes)
	}
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("jwt access TTL must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt leeway must be within [0, 2m]")
	}
	if strings.TrimSpace(cfg.Issuer) == "" || strings.TrimSpace(cfg.Audience) == "" {
		return nil, errors.New("jwt issuer and audience are required")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("jwt verify key map contains empty kid")
		}
		if len(key) < MinSecretBytes {
			return nil, fmt.Errorf("jwt verify key %q shorter than %d bytes", kid, MinSecretBytes)
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{cfg: cfg}, nil
}

// TTL returns the configured access-token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.cfg.AccessTTL
}

// Issue signs a token for id and returns it with its expiry.
func (m *Manager) Issue(id Identity) (string, time.Time, error) {
	if id.UserID == "" {
		return "", time.Time{}, errors.New("jwt: empty subject")
	}

	now := m.cfg.Now()
	exp := now.Add(m.cfg.AccessTTL)
	claims := AccessClaims{
		Name:        id.Username,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		Roles:       id.Roles,
		Permissions: id.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    m.cfg.Issuer,
			Audience:  jwt.ClaimStrings{m.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.cfg.KeyID != "" {
		token.Header["kid"] = m.cfg.KeyID
	}
	signed, err := token.SignedString(m.cfg.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	// NumericDate truncates to seconds; report what the token actually says.
	return signed, claims.ExpiresAt.Time, nil
}

// Parse verifies signature, issuer, audience and lifetime.
func (m *Manager) Parse(tokenStr string) (*AccessClaims, error) {
	return m.parse(tokenStr,
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithAudience(m.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(m.cfg.Leeway),
		jwt.WithTimeFunc(m.cfg.Now),
	)
}

// ParseIgnoringLifetime verifies signature, issuer and audience but accepts
// expired or not-yet-valid tokens.
func (m *Manager) ParseIgnoringLifetime(tokenStr string) (*AccessClaims, error) {
	claims, err := m.parse(tokenStr, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, err
	}
	if claims.Issuer != m.cfg.Issuer {
		return nil, ErrWrongIssuer
	}
	if !slices.Contains(claims.Audience, m.cfg.Audience) {
		return nil, ErrWrongAudience
	}
	return claims, nil
}

func (m *Manager) parse(tokenStr string, opts ...jwt.ParserOption) (*AccessClaims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parser := jwt.NewParser(opts...)

	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, m.keyFunc)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidSubject
	}
	return claims, nil
}

func (m *Manager) keyFunc(t *jwt.Token) (any, error) {
	if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	kid, _ := t.Header["kid"].(string)
	if kid == "" || kid == m.cfg.KeyID {
		if kid == "" && m.cfg.KeyID != "" {
			return nil, errors.New("missing kid")
		}
		return m.cfg.Secret, nil
	}
	if key, ok := m.cfg.VerifyKeys[kid]; ok {
		return key, nil
	}
	return nil, errors.New("unknown kid")
}
