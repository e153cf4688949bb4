// Package instagram validates Instagram usernames and checks credentials
// against the provider.
package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gramgate/gramgate/internal/models"
)

const (
	// MinUsernameLength and MaxUsernameLength bound accepted usernames.
	MinUsernameLength = 3
	MaxUsernameLength = 30

	// DefaultTimeout bounds a single provider call.
	DefaultTimeout = 15 * time.Second

	defaultBaseURL = "https://www.instagram.com"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._]+$`)

// ValidateUsername checks syntactic validity of an Instagram username.
// Accepted usernames are 3 to 30 characters of letters, digits, dots
// and underscores. A leading @ is stripped before validation.
func ValidateUsername(username string) (string, error) {
	username = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(username), "@"))
	if len(username) < MinUsernameLength || len(username) > MaxUsernameLength {
		return "", fmt.Errorf("%w: username must be %d-%d characters", models.ErrValidation, MinUsernameLength, MaxUsernameLength)
	}
	if !usernamePattern.MatchString(username) {
		return "", fmt.Errorf("%w: username may only contain letters, numbers, dots and underscores", models.ErrValidation)
	}
	return username, nil
}

// Client checks identities and credentials against Instagram.
type Client interface {
	// ProfileExists reports whether the username belongs to a public profile.
	ProfileExists(ctx context.Context, username string) (bool, error)
	// Login attempts to authenticate with the given credentials. A false
	// return with nil error means the credentials were rejected.
	Login(ctx context.Context, username, password string) (bool, error)
}

// HTTPClient talks to the Instagram web endpoints.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithBaseURL overrides the provider base URL, mainly for tests.
func WithBaseURL(u string) HTTPOption {
	return func(c *HTTPClient) { c.baseURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.client = hc }
}

func NewHTTPClient(opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) ProfileExists(ctx context.Context, username string) (bool, error) {
	endpoint := fmt.Sprintf("%s/%s/", c.baseURL, url.PathEscape(username))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build profile request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Error("Instagram profile lookup failed", "error", err, "username", username)
		return false, fmt.Errorf("%w: profile lookup: %v", models.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		slog.Warn("Instagram profile lookup throttled", "status", resp.StatusCode, "username", username)
		return false, fmt.Errorf("%w: profile lookup returned status %d", models.ErrTransient, resp.StatusCode)
	default:
		return false, fmt.Errorf("unexpected profile lookup status %d", resp.StatusCode)
	}
}

func (c *HTTPClient) Login(ctx context.Context, username, password string) (bool, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	endpoint := c.baseURL + "/accounts/login/ajax/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Error("Instagram login call failed", "error", err, "username", username)
		return false, fmt.Errorf("%w: login call: %v", models.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		slog.Warn("Instagram login throttled", "status", resp.StatusCode, "username", username)
		return false, fmt.Errorf("%w: login returned status %d", models.ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected login status %d", resp.StatusCode)
	}

	var body struct {
		Authenticated bool `json:"authenticated"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		slog.Error("Failed to decode login response", "error", err, "username", username)
		return false, fmt.Errorf("%w: decoding login response: %v", models.ErrTransient, err)
	}
	return body.Authenticated, nil
}
