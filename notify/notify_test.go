package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

func TestSMSGatewayPostsForm(t *testing.T) {
	var got http.Header
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		got = r.Header.Clone()
		form = r.PostForm
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	g, err := NewSMSGateway(SMSConfig{Endpoint: srv.URL, From: "+15550000000", Username: "acct", Password: "tok"}, nil)
	require.NoError(t, err)
	require.NoError(t, g.Send(context.Background(), "+15551234567", "Your verification code is 123456"))

	require.Equal(t, "+15551234567", form["To"][0])
	require.Equal(t, "+15550000000", form["From"][0])
	require.Equal(t, "Your verification code is 123456", form["Body"][0])
	require.Contains(t, got.Get("Authorization"), "Basic ")
}

func TestSMSGatewayProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	g, err := NewSMSGateway(SMSConfig{Endpoint: srv.URL}, nil)
	require.NoError(t, err)
	require.ErrorContains(t, g.Send(context.Background(), "+1555", "hi"), "502")
}

func TestSMSGatewayDryRunLogs(t *testing.T) {
	var buf bytes.Buffer
	g, err := NewSMSGateway(SMSConfig{DryRun: true}, log.New(&buf, "", 0))
	require.NoError(t, err)
	require.NoError(t, g.Send(context.Background(), "+1555", "code 42"))
	require.Contains(t, buf.String(), "code 42")
}

func TestSMSGatewayRejectsBadEndpoint(t *testing.T) {
	_, err := NewSMSGateway(SMSConfig{Endpoint: "not a url"}, nil)
	require.Error(t, err)
}

func TestSMSGatewayThrottles(t *testing.T) {
	g, err := NewSMSGateway(SMSConfig{DryRun: true, RatePerSecond: 0.001, Burst: 1}, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	require.NoError(t, g.Send(context.Background(), "+1555", "first"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, g.Send(ctx, "+1555", "second"), ErrThrottled)
}

type fakeSender struct {
	msgs []*gomail.Message
	err  error
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	f.msgs = append(f.msgs, m...)
	return f.err
}

func TestEmailGatewayComposesMessage(t *testing.T) {
	s := &fakeSender{}
	g, err := NewEmailGatewayWithSender(s, "auth@example.com", "")
	require.NoError(t, err)
	require.NoError(t, g.Send(context.Background(), "alice@example.com", "Your verification code is 123456"))

	require.Len(t, s.msgs, 1)
	m := s.msgs[0]
	require.Equal(t, []string{"alice@example.com"}, m.GetHeader("To"))
	require.Equal(t, []string{"auth@example.com"}, m.GetHeader("From"))
	require.Equal(t, []string{"Your verification code"}, m.GetHeader("Subject"))
}

func TestEmailGatewayErrors(t *testing.T) {
	s := &fakeSender{err: errors.New("smtp down")}
	g, err := NewEmailGatewayWithSender(s, "auth@example.com", "Code")
	require.NoError(t, err)
	require.ErrorContains(t, g.Send(context.Background(), "a@b.c", "x"), "smtp down")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, g.Send(ctx, "a@b.c", "x"), context.Canceled)

	_, err = NewEmailGateway(EmailConfig{From: "auth@example.com"})
	require.Error(t, err)
}

func TestLogGateway(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, LogGateway{Channel: "email", Logger: log.New(&buf, "", 0)}.Send(context.Background(), "a@b.c", "code 7"))
	require.Contains(t, buf.String(), "email to a@b.c: code 7")
}
