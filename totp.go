package authcore

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpSecretBytes = 20
	totpDigits      = 6
	totpQRCodeSize  = 256
)

var errEmptyTOTPSecret = errors.New("empty totp secret")

type totpManager struct {
	issuer string
	period uint
	skew   int
}

func newTOTPManager(cfg MFAConfig) *totpManager {
	period := cfg.TOTPPeriod
	if period == 0 {
		period = 30
	}
	return &totpManager{issuer: cfg.Issuer, period: period, skew: cfg.TOTPSkew}
}

// GenerateKey creates a fresh SHA1/6-digit secret for account.
func (m *totpManager) GenerateKey(account string) (*otp.Key, error) {
	if m == nil {
		return nil, ErrEngineNotReady
	}
	return totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: account,
		Period:      m.period,
		SecretSize:  totpSecretBytes,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
}

// QRCodePNG renders the otpauth:// URL of key for authenticator apps.
func (m *totpManager) QRCodePNG(key *otp.Key) ([]byte, error) {
	img, err := key.Image(totpQRCodeSize, totpQRCodeSize)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// VerifyCode checks code against the windows now-skew..now+skew and returns
// the matched counter so callers can reject replays.
func (m *totpManager) VerifyCode(secret, code string, now time.Time) (bool, int64, error) {
	if m == nil {
		return false, 0, ErrEngineNotReady
	}

	trimmed := strings.TrimSpace(code)
	if len(trimmed) != totpDigits || !isNumericString(trimmed) {
		return false, 0, nil
	}
	if strings.TrimSpace(secret) == "" {
		return false, 0, errEmptyTOTPSecret
	}

	period := int64(m.period)
	baseCounter := now.Unix() / period
	for step := -m.skew; step <= m.skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := m.codeAt(secret, time.Unix(counter*period, 0))
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, counter, nil
		}
	}

	return false, 0, nil
}

func (m *totpManager) codeAt(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    m.period,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// TOTPCode computes the code an authenticator app shows for secret at the
// given time. period 0 means 30 seconds.
func TOTPCode(secret string, period uint, at time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errEmptyTOTPSecret
	}
	if period == 0 {
		period = 30
	}
	return (&totpManager{period: period}).codeAt(secret, at)
}

func isNumericString(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
