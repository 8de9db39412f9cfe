package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// HTTPVerifier talks to a directory or cloud identity bridge over JSON/HTTP.
//
//	POST {BaseURL}/authenticate      {"username","password"} -> 200 user | 401 | 403 | 404
//	GET  {BaseURL}/users/{username}                          -> 200 user | 404
//	GET  {BaseURL}/health                                    -> 2xx
//
// Any other status, or a transport failure, is ErrServiceUnavailable.
type HTTPVerifier struct {
	source  Source
	baseURL string
	client  *http.Client
	token   string
}

var _ Verifier = (*HTTPVerifier)(nil)

// HTTPConfig configures an HTTPVerifier.
type HTTPConfig struct {
	Source  Source
	BaseURL string
	// BearerToken authenticates the engine to the bridge. Optional.
	BearerToken string
	Client      *http.Client
}

// NewHTTPVerifier returns a verifier for cfg.Source. Wrap it with WithTimeout.
func NewHTTPVerifier(cfg HTTPConfig) (*HTTPVerifier, error) {
	if cfg.Source != SourceDirectory && cfg.Source != SourceCloud {
		return nil, fmt.Errorf("http verifier requires directory or cloud source, got %q", cfg.Source)
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("http verifier: invalid base url %q", cfg.BaseURL)
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPVerifier{
		source:  cfg.Source,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		token:   cfg.BearerToken,
	}, nil
}

type remoteUser struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	ExternalID  string `json:"externalId"`
	Department  string `json:"department"`
	Title       string `json:"title"`
	Active      *bool  `json:"active,omitempty"`
}

func (h *HTTPVerifier) Source() Source { return h.source }

func (h *HTTPVerifier) Authenticate(ctx context.Context, username, password string) (*UserInfo, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return nil, err
	}
	resp, err := h.do(ctx, http.MethodPost, "/authenticate", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrInvalidCredentials
	case http.StatusForbidden:
		return nil, ErrUserInactive
	case http.StatusNotFound:
		return nil, ErrUserNotFound
	default:
		return nil, fmt.Errorf("%w: %s authenticate returned %d", ErrServiceUnavailable, h.source, resp.StatusCode)
	}
	return h.decode(resp.Body, username)
}

func (h *HTTPVerifier) GetUser(ctx context.Context, username string) (*UserInfo, error) {
	resp, err := h.do(ctx, http.MethodGet, "/users/"+url.PathEscape(username), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrUserNotFound
	default:
		return nil, fmt.Errorf("%w: %s user lookup returned %d", ErrServiceUnavailable, h.source, resp.StatusCode)
	}
	return h.decode(resp.Body, username)
}

func (h *HTTPVerifier) TestConnection(ctx context.Context) error {
	resp, err := h.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s health returned %d", ErrServiceUnavailable, h.source, resp.StatusCode)
	}
	return nil
}

func (h *HTTPVerifier) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return resp, nil
}

func (h *HTTPVerifier) decode(r io.Reader, username string) (*UserInfo, error) {
	var u remoteUser
	if err := json.NewDecoder(io.LimitReader(r, 1<<20)).Decode(&u); err != nil {
		return nil, fmt.Errorf("%w: decode %s user: %v", ErrServiceUnavailable, h.source, err)
	}
	if u.Active != nil && !*u.Active {
		return nil, ErrUserInactive
	}
	if u.Username == "" {
		u.Username = username
	}
	return &UserInfo{
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Source:      h.source,
		ExternalID:  u.ExternalID,
		Department:  u.Department,
		Title:       u.Title,
	}, nil
}
