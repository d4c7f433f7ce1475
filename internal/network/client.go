package network

import (
	"context"
	"errors"
	"math/rand"
	"net/url"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
	fhttpcookiejar "github.com/bogdanfinn/fhttp/cookiejar"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	"golang.org/x/time/rate"
)

var ErrRequestFailed = errors.New("request failed")

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = time.Second
)

// Client wraps a Chrome-impersonated HTTP client with request throttling,
// retry with backoff, user-agent rotation and optional proxy rotation.
type Client struct {
	http        tls_client.HttpClient
	rotator     *Rotator
	limiter     *rate.Limiter
	userAgents  []string
	maxAttempts int
	rand        *rand.Rand
}

type ClientOption func(*Client)

// WithThrottle caps outbound requests at the given interval between calls.
func WithThrottle(interval time.Duration) ClientOption {
	return func(c *Client) {
		if interval > 0 {
			c.limiter = rate.NewLimiter(rate.Every(interval), 1)
		}
	}
}

// WithMaxAttempts overrides the retry budget per request.
func WithMaxAttempts(attempts int) ClientOption {
	return func(c *Client) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
	}
}

func NewClient(rotator *Rotator, opts ...ClientOption) (*Client, error) {
	jar, _ := fhttpcookiejar.New(nil)

	client, err := tls_client.NewHttpClient(
		tls_client.NewNoopLogger(),
		tls_client.WithClientProfile(profiles.Chrome_120),
		tls_client.WithTimeoutSeconds(30),
		tls_client.WithCookieJar(jar),
	)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	c := &Client{
		http:        client,
		rotator:     rotator,
		userAgents:  append([]string{}, userAgents...),
		maxAttempts: defaultMaxAttempts,
		rand:        rng,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do issues the request, waiting on the throttle first and retrying
// timeouts and retryable statuses with exponential backoff.
func (c *Client) Do(req *fhttp.Request) (*fhttp.Response, error) {
	ctx := req.Context()
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.randomUA())
	}

	var lastErr error
	backoff := defaultInitialBackoff
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		proxy, _ := c.rotateProxy()
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if !retryable(err) {
				return nil, err
			}
			continue
		}
		if proxy != nil {
			c.rotator.Report(proxy, resp.StatusCode)
		}
		if retryableStatus(resp.StatusCode) && attempt < c.maxAttempts-1 {
			lastErr = errors.New(resp.Status)
			_ = resp.Body.Close()
			continue
		}
		return resp, nil
	}

	if lastErr == nil {
		lastErr = ErrRequestFailed
	}
	return nil, lastErr
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Timeout()
	}
	var tempErr interface{ Temporary() bool }
	if errors.As(err, &tempErr) {
		return tempErr.Temporary()
	}
	return true
}

func retryableStatus(status int) bool {
	switch status {
	case fhttp.StatusTooManyRequests,
		fhttp.StatusInternalServerError,
		fhttp.StatusBadGateway,
		fhttp.StatusServiceUnavailable,
		fhttp.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *Client) rotateProxy() (*url.URL, error) {
	if c.rotator == nil {
		return nil, nil
	}
	proxy, err := c.rotator.Next()
	if err != nil {
		return nil, err
	}

	if proxy != nil {
		_ = c.http.SetProxy(proxy.String())
	}
	return proxy, nil
}

func (c *Client) randomUA() string {
	if len(c.userAgents) == 0 {
		return ""
	}
	return c.userAgents[c.rand.Intn(len(c.userAgents))]
}
