package oktaclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListUsersFollowsNextLink(t *testing.T) {
	page1 := mustLoadFixture(t, "users_page1.json")
	page2 := mustLoadFixture(t, "users_page2.json")

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/users" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "SSWS test-token" {
			t.Fatalf("unexpected auth header %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "200" {
			t.Fatalf("unexpected limit %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("after") {
		case "":
			w.Header().Add("Link", "<"+server.URL+"/api/v1/users?limit=200>; rel=\"self\"")
			w.Header().Add("Link", "<"+server.URL+"/api/v1/users?after=00u9zy8xw7VUTSRQP6y5&limit=200>; rel=\"next\"")
			w.Write(page1)
		case "00u9zy8xw7VUTSRQP6y5":
			w.Header().Add("Link", "<"+server.URL+"/api/v1/users?after=00u9zy8xw7VUTSRQP6y5&limit=200>; rel=\"self\"")
			w.Write(page2)
		default:
			t.Fatalf("unexpected cursor %q", r.URL.Query().Get("after"))
		}
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	var logins []string
	err := client.ListUsers(context.Background(), func(u User) error {
		logins = append(logins, u.Login())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"anna.huber@example.com",
		"jonas.maier@example.com",
		"lena.schmidt@example.com",
	}, logins)
}

func TestListUsersCallbackErrorStops(t *testing.T) {
	page1 := mustLoadFixture(t, "users_page1.json")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(page1)
	}))
	defer server.Close()

	stop := errors.New("stop")
	seen := 0
	client := newTestClient(t, server, Config{})
	err := client.ListUsers(context.Background(), func(User) error {
		seen++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, seen)
}

func TestListUsersHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errorCode":"E0000011","errorSummary":"Invalid token provided","errorLink":"E0000011","errorId":"oae1","errorCauses":[]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	err := client.ListUsers(context.Background(), func(User) error { return nil })
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "oktaclient: status 401 E0000011: Invalid token provided", err.Error())
}

func TestUpdateUserPostsFullProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method %s", r.Method)
		}
		if r.URL.Path != "/api/v1/users/00u1ab2cd3EFGHIJK4x5" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Fatalf("unexpected content type %s", ct)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		var payload struct {
			Profile map[string]any `json:"profile"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if payload.Profile["mobilePhone"] != "+498912345678" {
			t.Fatalf("unexpected mobilePhone %v", payload.Profile["mobilePhone"])
		}
		if payload.Profile["costCenter"] != "R&D" {
			t.Fatalf("custom attribute dropped: %v", payload.Profile)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"00u1ab2cd3EFGHIJK4x5","status":"ACTIVE","profile":` + string(mustJSON(t, payload.Profile)) + `}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	user := User{ID: "00u1ab2cd3EFGHIJK4x5", Profile: Profile{
		"login":       "anna.huber@example.com",
		"mobilePhone": "+498912345678",
		"costCenter":  "R&D",
	}}
	updated, err := client.UpdateUser(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, "+498912345678", updated.MobilePhone())
	assert.Equal(t, "ACTIVE", updated.Status)
}

func TestUpdateUserValidation(t *testing.T) {
	client := newTestClient(t, nil, Config{})
	_, err := client.UpdateUser(context.Background(), User{})
	assert.Error(t, err)
}

func TestUpdateUserHTTPErrorWithCause(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errorCode":"E0000001","errorSummary":"Api validation failed: mobilePhone","errorCauses":[{"errorSummary":"mobilePhone: Does not match required pattern"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	_, err := client.UpdateUser(context.Background(), User{ID: "00u1", Profile: Profile{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Does not match required pattern")
}

func TestNewClientDefaultsAndValidation(t *testing.T) {
	_, err := New(Config{OrgURL: "https://example.okta.com"})
	assert.Error(t, err, "token required")
	_, err = New(Config{Token: "t"})
	assert.Error(t, err, "org url required")
	_, err = New(Config{Token: "t", OrgURL: "example.okta.com"})
	assert.Error(t, err, "org url needs a scheme")

	client, err := New(Config{Token: "t", OrgURL: "https://example.okta.com/", PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, defaultPageSize, client.pageSize)
	assert.Equal(t, 10*time.Second, client.httpClient.Timeout)
	assert.Nil(t, client.limiter)
	assert.Equal(t, "https://example.okta.com/api/v1/users?limit=5", client.buildURL("/api/v1/users", map[string][]string{"limit": {"5"}}))
}

func TestNextLink(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{"none", nil, ""},
		{"self only", []string{`<https://o.okta.com/api/v1/users?limit=2>; rel="self"`}, ""},
		{"separate headers", []string{
			`<https://o.okta.com/api/v1/users?limit=2>; rel="self"`,
			`<https://o.okta.com/api/v1/users?after=abc&limit=2>; rel="next"`,
		}, "https://o.okta.com/api/v1/users?after=abc&limit=2"},
		{"combined header", []string{
			`<https://o.okta.com/api/v1/users?limit=2>; rel="self", <https://o.okta.com/api/v1/users?after=xyz&limit=2>; rel="next"`,
		}, "https://o.okta.com/api/v1/users?after=xyz&limit=2"},
		{"malformed", []string{`https://o.okta.com; rel="next"`}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextLink(tt.values))
		})
	}
}

func TestProfileAccessors(t *testing.T) {
	u := User{ID: "1", Profile: Profile{
		"login":        "max@example.com",
		"firstName":    "Max",
		"lastName":     nil,
		"mobilePhone":  "0151 1234",
		"employeeNo":   float64(42),
		"primaryPhone": nil,
	}}
	assert.Equal(t, "Max", u.DisplayName())
	assert.Equal(t, "0151 1234", u.MobilePhone())
	assert.Equal(t, "", u.PrimaryPhone())
	assert.Equal(t, "42", u.Profile.String("employeeNo"))

	clone := u.Clone()
	clone.Profile.Set(ProfilePrimaryPhone, "+4989")
	assert.Equal(t, "", u.PrimaryPhone(), "clone must not share the profile map")
	assert.Equal(t, "+4989", clone.PrimaryPhone())

	anon := User{Profile: Profile{"login": "anon@example.com"}}
	assert.Equal(t, "anon@example.com", anon.DisplayName())
}

func newTestClient(t *testing.T, server *httptest.Server, cfg Config) *Client {
	t.Helper()
	cfg.OrgURL = "https://example.okta.com"
	if server != nil {
		cfg.OrgURL = server.URL
	}
	cfg.Token = "test-token"
	cfg.Timeout = 2 * time.Second
	cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func mustLoadFixture(t *testing.T, name string) []byte {
	t.Helper()
	_, filename, _, _ := runtime.Caller(0)
	path := filepath.Join(filepath.Dir(filename), "testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return data
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
