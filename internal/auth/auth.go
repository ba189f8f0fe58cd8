// Package auth exchanges account credentials for the ID token presented in
// the stream's authentication envelope.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// DefaultEndpoint is the Identity Toolkit password sign-in endpoint.
const DefaultEndpoint = "https://identitytoolkit.googleapis.com/v1/accounts:signInWithPassword"

var (
	// ErrAuthFailed is returned when the sign-in request is rejected.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrMissingCredentials is returned when email or password is empty.
	ErrMissingCredentials = errors.New("email and password are required")
)

// Authenticator exchanges credentials for a bearer token.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (string, error)
}

type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	IDToken      string `json:"idToken"`
	Registered   bool   `json:"registered"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// PasswordClient signs in with email and password.
type PasswordClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

// Option configures a PasswordClient.
type Option func(*PasswordClient)

// WithEndpoint overrides the sign-in endpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *PasswordClient) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *PasswordClient) {
		c.client.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *PasswordClient) {
		c.logger = logger
	}
}

// NewPasswordClient creates a PasswordClient using apiKey.
func NewPasswordClient(apiKey string, opts ...Option) *PasswordClient {
	c := &PasswordClient{
		endpoint: DefaultEndpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate signs in and returns the ID token.
func (c *PasswordClient) Authenticate(ctx context.Context, email, password string) (string, error) {
	if email == "" || password == "" {
		return "", ErrMissingCredentials
	}

	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid auth endpoint: %w", err)
	}
	if c.apiKey != "" {
		q := endpoint.Query()
		q.Set("key", c.apiKey)
		endpoint.RawQuery = q.Encode()
	}

	body, err := json.Marshal(signInRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sign-in request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Sign-in request completed",
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s", ErrAuthFailed, errorMessage(resp))
	}

	var res signInResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("failed to decode sign-in response: %w", err)
	}
	if res.IDToken == "" {
		return "", fmt.Errorf("%w: response has no idToken", ErrAuthFailed)
	}

	c.logger.Info("Signed in", zap.String("email", res.Email), zap.String("uid", res.LocalID))
	return res.IDToken, nil
}

// errorMessage extracts the server's error message, falling back to the status line.
func errorMessage(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var e errorResponse
	if err := json.Unmarshal(data, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return fmt.Sprintf("server returned status: %d", resp.StatusCode)
}

// New returns the Authenticator for the given settings: a StaticToken when
// token is set, otherwise a PasswordClient for apiKey.
func New(apiKey, token string, opts ...Option) Authenticator {
	if token != "" {
		return StaticToken(token)
	}
	return NewPasswordClient(apiKey, opts...)
}

// StaticToken is an Authenticator returning a fixed token.
type StaticToken string

// Authenticate returns the token regardless of credentials.
func (t StaticToken) Authenticate(context.Context, string, string) (string, error) {
	if t == "" {
		return "", fmt.Errorf("%w: empty token", ErrAuthFailed)
	}
	return string(t), nil
}
