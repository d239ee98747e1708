package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrThrottled is returned when the outbound rate limit does not admit a
// message before the context ends.
var ErrThrottled = errors.New("notify: outbound rate limit exceeded")

// SMSConfig configures an HTTP form-POST SMS provider.
type SMSConfig struct {
	// Endpoint receives a POST with the form fields To, From and Body.
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	From     string `yaml:"from" toml:"from"`
	// Username and Password are sent as HTTP basic auth when set.
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`

	// RatePerSecond and Burst throttle outbound messages. Zero disables it.
	RatePerSecond float64 `yaml:"rate_per_second" toml:"rate_per_second"`
	Burst         int     `yaml:"burst" toml:"burst"`

	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
	// DryRun logs messages instead of sending them.
	DryRun bool `yaml:"dry_run" toml:"dry_run"`
}

// SMSGateway posts messages to an HTTP SMS provider.
type SMSGateway struct {
	cfg     SMSConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *log.Logger
}

// NewSMSGateway validates cfg. A nil logger uses the standard logger.
func NewSMSGateway(cfg SMSConfig, logger *log.Logger) (*SMSGateway, error) {
	if !cfg.DryRun {
		u, err := url.Parse(cfg.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("notify: invalid SMS endpoint %q", cfg.Endpoint)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	g := &SMSGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return g, nil
}

func (g *SMSGateway) Send(ctx context.Context, destination, message string) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrThrottled, err)
		}
	}
	if g.cfg.DryRun {
		g.logger.Printf("notify: [dry-run] sms to %s: %s", destination, message)
		return nil
	}

	form := url.Values{}
	form.Set("To", destination)
	form.Set("From", g.cfg.From)
	form.Set("Body", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if g.cfg.Username != "" {
		req.SetBasicAuth(g.cfg.Username, g.cfg.Password)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("send sms: provider returned %s", resp.Status)
	}
	return nil
}
