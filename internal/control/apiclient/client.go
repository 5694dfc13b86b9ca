// Package apiclient builds the HTTP client the console uses to reach the
// hub's JSON API.
package apiclient

import (
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

const DefaultTimeout = 15 * time.Second

// DefaultReadRetries is how often NewReader retries a failed read.
const DefaultReadRetries = 2

// Config addresses the hub the same way the shell endpoint does.
type Config struct {
	Secure    bool
	Host      string
	APIHost   string
	Timeout   time.Duration
	UserAgent string
	// ReadRetries applies to NewReader only.
	ReadRetries int
}

// BaseURL returns http(s)://<APIHost or Host>.
func (c Config) BaseURL() string {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	host := c.Host
	if c.APIHost != "" {
		host = c.APIHost
	}
	return (&url.URL{Scheme: scheme, Host: host}).String()
}

// New returns a resty client for the hub. Requests are never retried:
// commands sent to devices must go out at most once.
func New(cfg Config) *resty.Client {
	return newClient(cfg).SetTransport(cleanhttp.DefaultPooledTransport())
}

// NewReader returns a resty client for idempotent reads. Connection errors
// and 5xx responses are retried with backoff, within the overall timeout.
func NewReader(cfg Config) *resty.Client {
	if cfg.ReadRetries <= 0 {
		cfg.ReadRetries = DefaultReadRetries
	}
	rc := retryablehttp.NewClient()
	rc.HTTPClient.Transport = cleanhttp.DefaultPooledTransport()
	rc.RetryMax = cfg.ReadRetries
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.Logger = nil

	return newClient(cfg).SetTransport(&retryablehttp.RoundTripper{Client: rc})
}

func newClient(cfg Config) *resty.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "c2ctl/1.0"
	}

	return resty.New().
		SetBaseURL(cfg.BaseURL()).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)
}
