package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shadimotaali/first-full-paper/internal/circuitbreaker"
)

// Default returns a client for archive downloads. Update files are a few MB, so
// the overall timeout is generous while header and idle timeouts stay short.
func Default(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DisableCompression:    true,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}
}

// ResilientClient wraps http.Client with circuit breaker functionality
type ResilientClient struct {
	client      *http.Client
	hostBreaker *circuitbreaker.HostBreaker
	ua          string
}

// NewResilientClient creates a new HTTP client with circuit breaker.
// Only transport errors and 5xx responses count against a host.
func NewResilientClient(client *http.Client, ua string, onChange func(host string, from, to circuitbreaker.State)) *ResilientClient {
	if client == nil {
		client = Default(0)
	}

	config := &circuitbreaker.Config{
		MaxFailures:   5,
		Cooldown:      30 * time.Second,
		IsFailure:     isHostFailure,
		OnStateChange: onChange,
	}

	return &ResilientClient{
		client:      client,
		hostBreaker: circuitbreaker.NewHostBreaker(config),
		ua:          ua,
	}
}

// HTTP exposes the wrapped client.
func (c *ResilientClient) HTTP() *http.Client { return c.client }

// Do executes an HTTP request with circuit breaker protection. A non-2xx
// response is closed and reported as *HTTPError.
func (c *ResilientClient) Do(req *http.Request) (*http.Response, error) {
	host := req.URL.Host
	if c.ua != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.ua)
	}

	var resp *http.Response
	err := c.hostBreaker.Execute(host, func() error {
		r, err := c.client.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode < 200 || r.StatusCode >= 300 {
			r.Body.Close()
			return &HTTPError{StatusCode: r.StatusCode, Status: r.Status, URL: req.URL.String()}
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetWithContext performs a GET request with context and circuit breaker
func (c *ResilientClient) GetWithContext(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Stats returns circuit breaker state for all hosts
func (c *ResilientClient) Stats() map[string]string {
	return c.hostBreaker.Stats()
}

// ResetBreaker resets the circuit breaker for a specific host
func (c *ResilientClient) ResetBreaker(host string) {
	c.hostBreaker.Reset(host)
}

// HTTPError represents an HTTP error response
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: %s", e.URL, e.Status)
}

// IsHTTPError checks if an error is an HTTPError
func IsHTTPError(err error) bool {
	var he *HTTPError
	return errors.As(err, &he)
}

// GetHTTPStatusCode returns the HTTP status code from an HTTPError
func GetHTTPStatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

func isHostFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if code := GetHTTPStatusCode(err); code != 0 {
		return code >= 500
	}
	return true
}
