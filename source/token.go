package source

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// TokenSource supplies bearer tokens for authenticated fetches.
type TokenSource interface {
	// Token returns a currently valid access token.
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns one fixed token. Useful for tests and for
// emulators that accept any credential.
type StaticTokenSource struct {
	token string
}

var _ TokenSource = (*StaticTokenSource)(nil)

// NewStaticTokenSource wraps a fixed token string.
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

// Token implements TokenSource.
func (s *StaticTokenSource) Token(_ context.Context) (string, error) {
	return s.token, nil
}

// ServiceAccountConfig configures token minting from a Google service
// account key file.
type ServiceAccountConfig struct {
	// CredentialsPath is the service account JSON key file. Default: the
	// GOOGLE_APPLICATION_CREDENTIALS environment variable.
	CredentialsPath string

	// Scopes are the OAuth scopes requested.
	// Default: https://www.googleapis.com/auth/datastore
	Scopes []string

	// ExpiryMargin refreshes the token this long before it expires.
	// Default: 2m
	ExpiryMargin time.Duration

	// HTTPClient is used for the token exchange.
	// If nil, a default client with 30s timeout is used.
	HTTPClient *http.Client

	// TokenURL overrides the key file's token_uri. Intended for tests.
	TokenURL string
}

// serviceAccountKey is the subset of the key file this source needs.
type serviceAccountKey struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
	TokenURI    string `json:"token_uri"`
}

// ServiceAccountTokenSource mints and caches OAuth access tokens by
// signing a JWT assertion with the service account's RSA key and
// exchanging it at the token endpoint.
//
// Tokens are cached until ExpiryMargin before expiry. Concurrent callers
// needing a refresh share one exchange. If an exchange fails while the
// cached token is still valid, the cached token is served so a flaky
// token endpoint does not fail fetches early.
type ServiceAccountTokenSource struct {
	config ServiceAccountConfig
	creds  serviceAccountKey
	key    *rsa.PrivateKey

	mu      sync.RWMutex
	token   string
	expiry  time.Time
	sfGroup singleflight.Group
}

var _ TokenSource = (*ServiceAccountTokenSource)(nil)

// NewServiceAccountTokenSource loads and validates the key file.
func NewServiceAccountTokenSource(config ServiceAccountConfig) (*ServiceAccountTokenSource, error) {
	if config.CredentialsPath == "" {
		config.CredentialsPath = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	if config.CredentialsPath == "" {
		return nil, fmt.Errorf("source: no credentials path and GOOGLE_APPLICATION_CREDENTIALS is unset")
	}
	if len(config.Scopes) == 0 {
		config.Scopes = []string{"https://www.googleapis.com/auth/datastore"}
	}
	if config.ExpiryMargin <= 0 {
		config.ExpiryMargin = 2 * time.Minute
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	data, err := os.ReadFile(config.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("source: read credentials: %w", err)
	}
	var creds serviceAccountKey
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("source: parse credentials: %w", err)
	}
	if creds.Type != "service_account" {
		return nil, fmt.Errorf("source: credentials type %q, want service_account", creds.Type)
	}
	if creds.ClientEmail == "" || creds.PrivateKey == "" {
		return nil, fmt.Errorf("source: credentials missing client_email or private_key")
	}
	if config.TokenURL != "" {
		creds.TokenURI = config.TokenURL
	}
	if creds.TokenURI == "" {
		creds.TokenURI = "https://oauth2.googleapis.com/token"
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(creds.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("source: parse private key: %w", err)
	}

	return &ServiceAccountTokenSource{config: config, creds: creds, key: key}, nil
}

// ProjectID returns the project the key file belongs to.
func (s *ServiceAccountTokenSource) ProjectID() string { return s.creds.ProjectID }

// Token implements TokenSource.
func (s *ServiceAccountTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	token, valid := s.token, time.Now().Before(s.expiry.Add(-s.config.ExpiryMargin))
	s.mu.RUnlock()
	if valid && token != "" {
		return token, nil
	}

	_, err, _ := s.sfGroup.Do("exchange", func() (any, error) {
		return nil, s.exchange(ctx)
	})
	if err != nil {
		// Serve the cached token while it is still usable.
		s.mu.RLock()
		token, usable := s.token, time.Now().Before(s.expiry)
		s.mu.RUnlock()
		if usable && token != "" {
			return token, nil
		}
		return "", err
	}

	s.mu.RLock()
	token = s.token
	s.mu.RUnlock()
	return token, nil
}

// exchange signs a fresh assertion and trades it for an access token.
func (s *ServiceAccountTokenSource) exchange(ctx context.Context) error {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   s.creds.ClientEmail,
		"scope": strings.Join(s.config.Scopes, " "),
		"aud":   s.creds.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return fmt.Errorf("sign assertion: %w", err)
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.creds.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("token exchange: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("token exchange status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return fmt.Errorf("token response has no access_token")
	}

	s.mu.Lock()
	s.token = payload.AccessToken
	s.expiry = now.Add(time.Duration(payload.ExpiresIn) * time.Second)
	s.mu.Unlock()
	return nil
}
