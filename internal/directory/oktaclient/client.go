package oktaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultUserAgent = "twilify/1.0"
	defaultPageSize  = 200
	maxPageSize      = 200
)

// Config controls how the Okta client behaves.
type Config struct {
	OrgURL     string
	Token      string
	PageSize   int
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string
	// RequestsPerSecond throttles outgoing calls; zero disables throttling.
	RequestsPerSecond float64
}

// Client wraps the Okta users API.
type Client struct {
	token      string
	baseURL    *url.URL
	pageSize   int
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	userAgent  string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("oktaclient: API token is required")
	}
	raw := strings.TrimRight(strings.TrimSpace(cfg.OrgURL), "/")
	if raw == "" {
		return nil, errors.New("oktaclient: org URL is required")
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("oktaclient: invalid org URL %q", cfg.OrgURL)
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		token:      strings.TrimSpace(cfg.Token),
		baseURL:    base,
		pageSize:   pageSize,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
		userAgent:  userAgent,
	}, nil
}

// ListUsers walks every page of /api/v1/users and calls fn once per user.
// A non-nil error from fn stops the walk and is returned unchanged.
func (c *Client) ListUsers(ctx context.Context, fn func(User) error) error {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.pageSize))
	next := c.buildURL("/api/v1/users", q)
	page := 0
	for next != "" {
		page++
		data, header, err := c.invoke(ctx, http.MethodGet, next, nil)
		if err != nil {
			return err
		}
		var users []User
		if err := json.Unmarshal(data, &users); err != nil {
			return fmt.Errorf("oktaclient: decode users page %d: %w", page, err)
		}
		c.logger.Debug("okta users page", "page", page, "count", len(users))
		for _, u := range users {
			if err := fn(u); err != nil {
				return err
			}
		}
		next = nextLink(header.Values("Link"))
	}
	return nil
}

// UpdateUser posts the user's profile back to Okta and returns the stored
// record.
func (c *Client) UpdateUser(ctx context.Context, user User) (*User, error) {
	if strings.TrimSpace(user.ID) == "" {
		return nil, errors.New("oktaclient: user id required")
	}
	body, err := json.Marshal(struct {
		Profile Profile `json:"profile"`
	}{Profile: user.Profile})
	if err != nil {
		return nil, fmt.Errorf("oktaclient: marshal profile: %w", err)
	}
	data, _, err := c.invoke(ctx, http.MethodPost, c.buildURL("/api/v1/users/"+url.PathEscape(user.ID), nil), body)
	if err != nil {
		return nil, err
	}
	var updated User
	if err := json.Unmarshal(data, &updated); err != nil {
		return nil, fmt.Errorf("oktaclient: decode user: %w", err)
	}
	return &updated, nil
}

func (c *Client) invoke(ctx context.Context, method, fullURL string, body []byte) ([]byte, http.Header, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, nil, fmt.Errorf("oktaclient: build request: %w", err)
	}
	req.Header.Set("Authorization", "SSWS "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, fmt.Errorf("oktaclient: http error: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("oktaclient: read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, resp.Header, nil
	}
	return nil, nil, decodeAPIError(resp.StatusCode, data)
}

func (c *Client) buildURL(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

// nextLink extracts the rel="next" target from Link headers of the form
// <https://org.okta.com/api/v1/users?after=x&limit=200>; rel="next".
func nextLink(values []string) string {
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			segments := strings.Split(part, ";")
			if len(segments) < 2 {
				continue
			}
			target := strings.TrimSpace(segments[0])
			if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				continue
			}
			for _, param := range segments[1:] {
				param = strings.TrimSpace(param)
				if strings.EqualFold(param, `rel="next"`) || strings.EqualFold(param, "rel=next") {
					return strings.Trim(target, "<>")
				}
			}
		}
	}
	return ""
}

// APIError is the decoded body of a non-2xx Okta response.
type APIError struct {
	StatusCode   int    `json:"-"`
	ErrorCode    string `json:"errorCode"`
	ErrorSummary string `json:"errorSummary"`
	ErrorID      string `json:"errorId"`
	ErrorCauses  []struct {
		ErrorSummary string `json:"errorSummary"`
	} `json:"errorCauses"`
}

func (e *APIError) Error() string {
	summary := e.ErrorSummary
	if len(e.ErrorCauses) > 0 && e.ErrorCauses[0].ErrorSummary != "" {
		summary = summary + ": " + e.ErrorCauses[0].ErrorSummary
	}
	switch {
	case summary != "" && e.ErrorCode != "":
		return fmt.Sprintf("oktaclient: status %d %s: %s", e.StatusCode, e.ErrorCode, summary)
	case summary != "":
		return fmt.Sprintf("oktaclient: status %d: %s", e.StatusCode, summary)
	}
	return fmt.Sprintf("oktaclient: http status %d", e.StatusCode)
}

func decodeAPIError(status int, body []byte) error {
	var parsed APIError
	if err := json.Unmarshal(body, &parsed); err != nil {
		return &APIError{StatusCode: status, ErrorSummary: strings.TrimSpace(string(body))}
	}
	parsed.StatusCode = status
	return &parsed
}
