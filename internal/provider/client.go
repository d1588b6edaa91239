// Package provider speaks the OAuth provider's token and resource
// endpoints. All credential exchange and refresh traffic funnels through
// here, behind a circuit breaker.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"token-warden/internal/circuitbreaker"
	"token-warden/internal/common/errors"
	"token-warden/internal/common/httpx"
	"token-warden/internal/common/logging"
)

type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	AuthURL      string
	RedirectURI  string
	APIBaseURL   string
}

func (c *Config) complete() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.TokenURL != ""
}

// TokenResponse is the provider's token endpoint payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int    `json:"expires_in"`
}

type Client struct {
	config     *Config
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	logger     logging.Logger
}

func NewClient(config *Config, logger logging.Logger) *Client {
	return &Client{
		config:     config,
		httpClient: httpx.NewDefaultClient(),
		breaker:    circuitbreaker.New("provider", circuitbreaker.ProviderConfig, logger),
		logger:     logger.WithFields(logging.Field{Key: "component", Value: "provider"}),
	}
}

// Configured reports whether the provider credentials are present. The
// service boots without them; operations that need them fail individually.
func (c *Client) Configured() bool {
	return c.config.complete()
}

// AuthorizationURL builds the URL the operator visits to start a new
// authorization code grant.
func (c *Client) AuthorizationURL(state string) (string, error) {
	if c.config.AuthURL == "" || c.config.ClientID == "" {
		return "", errors.Configuration("provider authorization endpoint is not configured")
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.config.ClientID)
	q.Set("state", state)
	if c.config.RedirectURI != "" {
		q.Set("redirect_uri", c.config.RedirectURI)
	}
	return c.config.AuthURL + "?" + q.Encode(), nil
}

// Exchange trades an authorization code for a token pair.
func (c *Client) Exchange(ctx context.Context, code string) (*TokenResponse, error) {
	if code == "" {
		return nil, errors.Validation("authorization code is required")
	}

	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	if c.config.RedirectURI != "" {
		data.Set("redirect_uri", c.config.RedirectURI)
	}
	return c.requestToken(ctx, data)
}

// Refresh trades a refresh token for a fresh token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, errors.Validation("refresh token is required")
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	return c.requestToken(ctx, data)
}

func (c *Client) requestToken(ctx context.Context, data url.Values) (*TokenResponse, error) {
	if !c.config.complete() {
		return nil, errors.Configuration("provider credentials are not configured")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, errors.Internal("failed to create token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.config.ClientID, c.config.ClientSecret)

	var token *TokenResponse
	err = c.breaker.Execute(ctx, func() error {
		resp, httpErr := c.httpClient.Do(req)
		if httpErr != nil {
			return errors.ProviderTransient("token request failed", httpErr)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return c.tokenError(resp)
		}

		var tr TokenResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&tr); decodeErr != nil {
			return errors.ProviderTransient("failed to decode token response", decodeErr)
		}
		if tr.AccessToken == "" {
			return errors.ProviderTransient("token response missing access_token", nil)
		}
		token = &tr
		return nil
	})
	if err != nil {
		c.logger.Warn("token request failed",
			logging.Field{Key: "grant_type", Value: data.Get("grant_type")},
			logging.Err(err))
		return nil, err
	}

	c.logger.Info("token request succeeded",
		logging.Field{Key: "grant_type", Value: data.Get("grant_type")},
		logging.Field{Key: "expires_in", Value: token.ExpiresIn})
	return token, nil
}

// tokenError classifies a non-200 token endpoint response. Only a body
// that definitively says the grant is dead counts as a rejection; a broken
// client registration is a configuration problem; everything else, status
// code regardless, is transient and must not touch stored token state.
func (c *Client) tokenError(resp *http.Response) error {
	var errResp struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(body, &errResp)

	msg := fmt.Sprintf("token request failed with status %d", resp.StatusCode)
	if errResp.Error != "" {
		msg = fmt.Sprintf("%s: %s", msg, errResp.Error)
		if errResp.Description != "" {
			msg = fmt.Sprintf("%s (%s)", msg, errResp.Description)
		}
	}

	switch errResp.Error {
	case "invalid_grant":
		return errors.ProviderRejected(msg, nil).WithContext("provider_error", errResp.Error)
	case "invalid_client", "unauthorized_client", "unsupported_grant_type":
		return errors.Configuration(msg).WithContext("provider_error", errResp.Error)
	}
	return errors.ProviderTransient(msg, nil)
}

// APIResponse is the result of a proxied resource call.
type APIResponse struct {
	StatusCode  int
	Body        []byte
	ContentType string
}

// CallAPI forwards a request to the provider's resource API with the given
// bearer token. Provider-side 4xx responses are returned to the caller, not
// treated as errors; the caller decides what a 401 means for the token.
func (c *Client) CallAPI(ctx context.Context, method, resource, accessToken string) (*APIResponse, error) {
	if c.config.APIBaseURL == "" {
		return nil, errors.Configuration("provider API base URL is not configured")
	}

	endpoint := strings.TrimRight(c.config.APIBaseURL, "/") + "/" + strings.TrimLeft(resource, "/")
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, errors.Internal("failed to create API request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	var result *APIResponse
	err = c.breaker.Execute(ctx, func() error {
		resp, httpErr := c.httpClient.Do(req)
		if httpErr != nil {
			return errors.ProviderTransient("API request failed", httpErr)
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			return errors.ProviderTransient("failed to read API response", readErr)
		}
		result = &APIResponse{
			StatusCode:  resp.StatusCode,
			Body:        body,
			ContentType: resp.Header.Get("Content-Type"),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// BreakerState exposes the circuit breaker state for health reporting.
func (c *Client) BreakerState() string {
	return c.breaker.State()
}
