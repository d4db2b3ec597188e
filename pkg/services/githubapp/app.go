// Package githubapp mints GitHub App installation tokens for cloning repositories
// the signed-in user has not connected through OAuth.
package githubapp

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// ErrNoInstallation is returned when the App is not installed anywhere.
var ErrNoInstallation = errors.New("github app has no installations")

const (
	jwtBackdate  = 60 * time.Second
	jwtLifetime  = 10 * time.Minute
	refreshSlack = time.Minute
)

// AppTokenSource signs App JWTs and exchanges them for installation tokens.
// Tokens are cached until shortly before they expire.
type AppTokenSource struct {
	appID      int64
	key        *rsa.PrivateKey
	apiBaseURL string
	httpClient *http.Client
	logger     *zap.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	now func() time.Time
}

// NewAppTokenSource parses the PEM private key and returns a token source.
// An empty apiBaseURL uses api.github.com.
func NewAppTokenSource(appID int64, privateKeyPEM, apiBaseURL string, logger *zap.Logger) (*AppTokenSource, error) {
	if appID == 0 {
		return nil, fmt.Errorf("github app id is required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse github app private key: %w", err)
	}

	return &AppTokenSource{
		appID:      appID,
		key:        key,
		apiBaseURL: apiBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.Named("github-app"),
		now:        time.Now,
	}, nil
}

var _ oauth2.TokenSource = (*AppTokenSource)(nil)

// InstallationToken returns a cached installation token, minting a new one when the
// cached token is missing or about to expire.
func (s *AppTokenSource) InstallationToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Add(refreshSlack).Before(s.expiresAt) {
		return s.token, nil
	}

	appJWT, err := s.signJWT()
	if err != nil {
		return "", err
	}

	client, err := NewClient(s.httpClient, s.apiBaseURL)
	if err != nil {
		return "", err
	}
	client = client.WithAuthToken(appJWT)

	installations, _, err := client.Apps.ListInstallations(ctx, &github.ListOptions{PerPage: 1})
	if err != nil {
		return "", fmt.Errorf("failed to list app installations: %w", err)
	}
	if len(installations) == 0 {
		return "", ErrNoInstallation
	}
	installationID := installations[0].GetID()

	tok, _, err := client.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create installation token: %w", err)
	}

	s.token = tok.GetToken()
	s.expiresAt = tok.GetExpiresAt().Time
	if s.expiresAt.IsZero() {
		s.expiresAt = s.now().Add(time.Hour)
	}

	s.logger.Info("Minted installation token",
		zap.Int64("installation_id", installationID),
		zap.Time("expires_at", s.expiresAt))

	return s.token, nil
}

// Token adapts InstallationToken to oauth2.TokenSource.
func (s *AppTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.InstallationToken(context.Background())
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &oauth2.Token{AccessToken: tok, TokenType: "token", Expiry: s.expiresAt}, nil
}

func (s *AppTokenSource) signJWT() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-jwtBackdate)),
		ExpiresAt: jwt.NewNumericDate(now.Add(jwtLifetime)),
		Issuer:    strconv.FormatInt(s.appID, 10),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign app jwt: %w", err)
	}
	return signed, nil
}

// NewClient returns a go-github client pointed at apiBaseURL.
func NewClient(httpClient *http.Client, apiBaseURL string) (*github.Client, error) {
	client := github.NewClient(httpClient)
	if apiBaseURL == "" {
		return client, nil
	}

	if !strings.HasSuffix(apiBaseURL, "/") {
		apiBaseURL += "/"
	}
	u, err := url.Parse(apiBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid github api base url: %w", err)
	}
	client.BaseURL = u
	return client, nil
}
