package twilioclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL   = "https://api.twilio.com/2010-04-01"
	defaultUserAgent = "twilify/1.0"
	maxErrorBody     = 4096
)

// Config controls how the Twilio client behaves.
type Config struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string
	// RequestsPerSecond throttles outgoing calls; zero disables throttling.
	RequestsPerSecond float64
}

// Client wraps the Twilio REST endpoints used for number provisioning.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	userAgent  string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" {
		return nil, errors.New("twilioclient: account SID is required")
	}
	if strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("twilioclient: auth token is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
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
		accountSID: strings.TrimSpace(cfg.AccountSID),
		authToken:  cfg.AuthToken,
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
		userAgent:  userAgent,
	}, nil
}

// ListAvailableLocalNumbers searches purchasable local numbers in country.
func (c *Client) ListAvailableLocalNumbers(ctx context.Context, country string, filter AvailableNumberFilter) ([]AvailableNumber, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		return nil, errors.New("twilioclient: country required")
	}
	path := fmt.Sprintf("/Accounts/%s/AvailablePhoneNumbers/%s/Local.json", url.PathEscape(c.accountSID), url.PathEscape(country))
	data, err := c.invoke(ctx, http.MethodGet, path, filter.values(), nil)
	if err != nil {
		return nil, err
	}
	var page struct {
		AvailablePhoneNumbers []AvailableNumber `json:"available_phone_numbers"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("twilioclient: decode available numbers: %w", err)
	}
	return page.AvailablePhoneNumbers, nil
}

// CreateIncomingNumber purchases a number and binds its voice and SMS webhooks.
func (c *Client) CreateIncomingNumber(ctx context.Context, req IncomingNumberRequest) (*IncomingNumber, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/Accounts/%s/IncomingPhoneNumbers.json", url.PathEscape(c.accountSID))
	data, err := c.invoke(ctx, http.MethodPost, path, nil, req.values())
	if err != nil {
		return nil, err
	}
	var created IncomingNumber
	if err := json.Unmarshal(data, &created); err != nil {
		return nil, fmt.Errorf("twilioclient: decode incoming number: %w", err)
	}
	return &created, nil
}

func (c *Client) invoke(ctx context.Context, method, path string, query url.Values, form url.Values) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	fullURL := c.buildURL(path, query)
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("twilioclient: build request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("twilioclient: http error: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("twilioclient: read response: %w", err)
	}
	c.logger.Debug("twilio request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, decodeAPIError(resp.StatusCode, data)
}

func (c *Client) buildURL(path string, query url.Values) string {
	full := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		full = full + "?" + query.Encode()
	}
	return full
}

// APIError is the decoded body of a non-2xx Twilio response.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	MoreInfo   string `json:"more_info"`
}

func (e *APIError) Error() string {
	switch {
	case e.Message != "" && e.Code != 0:
		return fmt.Sprintf("twilioclient: status %d code %d: %s", e.StatusCode, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("twilioclient: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("twilioclient: http status %d", e.StatusCode)
}

func decodeAPIError(status int, body []byte) error {
	body = []byte(strings.TrimSpace(string(body)))
	var parsed APIError
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Message == "" {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return &APIError{StatusCode: status, Message: string(body)}
	}
	parsed.StatusCode = status
	return &parsed
}
