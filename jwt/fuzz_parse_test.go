package jwt

import (
	"testing"
	"time"
)

// FuzzParse feeds arbitrary strings to both parse paths; neither may panic.
func FuzzParse(f *testing.F) {
	m, err := NewManager(Config{
		Secret:    testSecret,
		Issuer:    "fuzz",
		Audience:  "api",
		AccessTTL: 5 * time.Minute,
	})
	if err != nil {
		f.Fatal(err)
	}
	valid, _, err := m.Issue(sampleIdentity())
	if err != nil {
		f.Fatal(err)
	}

	f.Add(valid)
	f.Add("")
	f.Add("eyJhbGciOiJub25lIn0.e30.")
	f.Add(valid[:len(valid)/2])

	f.Fuzz(func(t *testing.T, tok string) {
		claims, err := m.Parse(tok)
		if err == nil && claims.Subject == "" {
			t.Fatal("accepted token without subject")
		}
		_, _ = m.ParseIgnoringLifetime(tok)
	})
}
