// Package auth manages the delegated-access credentials for the YouTube Data
// API: the application client secret, the current user token in either of its
// two historical on-disk shapes, and refresh persistence.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/cesargomez89/tubecrate/internal/constants"
	"github.com/cesargomez89/tubecrate/internal/logger"
	"github.com/cesargomez89/tubecrate/internal/storage"
)

// ErrAuthExpired means the stored grant is gone for good and the user has to
// run the consent flow again.
var ErrAuthExpired = errors.New("authorization expired, re-run 'tubecrate auth'")

// Authorizer obtains a brand new token interactively. Wired in by the CLI;
// nil in non-interactive contexts, where an expired grant is a hard error.
type Authorizer interface {
	Authorize(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error)
}

// Credentials loads the client secret and user token from Dir, refreshes the
// token when it goes stale and persists every rotation before using it.
type Credentials struct {
	Dir        string
	Scopes     []string
	Timeout    time.Duration
	Authorizer Authorizer
	Logger     *logger.Logger

	mu     sync.Mutex
	config *oauth2.Config
	token  *oauth2.Token
}

func NewCredentials(dir string, timeout time.Duration, log *logger.Logger) *Credentials {
	return &Credentials{
		Dir:     dir,
		Scopes:  []string{constants.YouTubeReadScope},
		Timeout: timeout,
		Logger:  log,
	}
}

func (c *Credentials) secretPath() string {
	return filepath.Join(c.Dir, constants.ClientSecretFile)
}

func (c *Credentials) tokenPath() string {
	return filepath.Join(c.Dir, constants.TokenFile)
}

// Token returns a usable token, refreshing and persisting it if needed.
func (c *Credentials) Token(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenLocked(ctx)
}

func (c *Credentials) tokenLocked(ctx context.Context) (*oauth2.Token, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}

	if c.token == nil {
		tok, err := c.readTokenFile()
		if err != nil {
			return nil, err
		}
		if tok == nil {
			return c.authorizeLocked(ctx, cfg)
		}
		c.token = tok
	}

	if c.token.Valid() {
		return c.token, nil
	}

	if c.token.RefreshToken == "" {
		return c.authorizeLocked(ctx, cfg)
	}

	fresh, err := cfg.TokenSource(ctx, c.token).Token()
	if err != nil {
		if isInvalidGrant(err) {
			c.Logger.Warn("refresh grant rejected", "error", err)
			return c.authorizeLocked(ctx, cfg)
		}
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	// A refresh that cannot be persisted did not happen: the in-memory token
	// never advances past what is on disk.
	if err := c.persistLocked(fresh); err != nil {
		return nil, err
	}
	c.token = fresh
	return fresh, nil
}

// HTTPClient returns a client whose transport injects the current token into
// every request, refreshing and persisting rotations along the way.
func (c *Credentials) HTTPClient(ctx context.Context) (*http.Client, error) {
	if _, err := c.Token(ctx); err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: &oauth2.Transport{Source: &refreshingSource{ctx: ctx, creds: c}},
		Timeout:   c.Timeout,
	}, nil
}

// refreshingSource adapts Credentials to oauth2.TokenSource. The interface
// has no context parameter, so the one from HTTPClient rides along.
type refreshingSource struct {
	ctx   context.Context
	creds *Credentials
}

func (s *refreshingSource) Token() (*oauth2.Token, error) {
	return s.creds.Token(s.ctx)
}

func (c *Credentials) loadConfig() (*oauth2.Config, error) {
	if c.config != nil {
		return c.config, nil
	}
	b, err := os.ReadFile(c.secretPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("client secret not found at %s", c.secretPath())
		}
		return nil, fmt.Errorf("read client secret: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, c.Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse client secret: %w", err)
	}
	c.config = cfg
	return cfg, nil
}

func (c *Credentials) authorizeLocked(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	if c.Authorizer == nil {
		return nil, ErrAuthExpired
	}
	tok, err := c.Authorizer.Authorize(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}
	if err := c.persistLocked(tok); err != nil {
		return nil, err
	}
	c.token = tok
	c.Logger.Info("authorization granted", "token_path", c.tokenPath())
	return tok, nil
}

func (c *Credentials) persistLocked(tok *oauth2.Token) error {
	if err := storage.WriteJSONAtomic(c.tokenPath(), tok, constants.SecretPermissions); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	c.Logger.Debug("token persisted", "expiry", tok.Expiry)
	return nil
}

// legacyExpiryFormat is the token_expiry layout the old Python-era client
// wrote into its token files.
const legacyExpiryFormat = "2006-01-02T15:04:05Z"

type legacyToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenExpiry  string `json:"token_expiry"`
	Invalid      bool   `json:"invalid"`
}

// readTokenFile loads token.json in either the standard oauth2 shape or the
// legacy shape. Returns (nil, nil) when no token file exists yet.
func (c *Credentials) readTokenFile() (*oauth2.Token, error) {
	b, err := os.ReadFile(c.tokenPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read token: %w", err)
	}

	var probe struct {
		TokenExpiry *string `json:"token_expiry"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	if probe.TokenExpiry != nil {
		return legacyTokenFromJSON(b)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("token file %s holds no usable token", c.tokenPath())
	}
	return &tok, nil
}

// legacyTokenFromJSON converts the legacy shape. The result is written back
// in the standard shape on the next successful refresh.
func legacyTokenFromJSON(b []byte) (*oauth2.Token, error) {
	var lt legacyToken
	if err := json.Unmarshal(b, &lt); err != nil {
		return nil, fmt.Errorf("parse legacy token file: %w", err)
	}
	if lt.Invalid {
		return nil, ErrAuthExpired
	}
	if lt.AccessToken == "" && lt.RefreshToken == "" {
		return nil, ErrAuthExpired
	}

	tok := &oauth2.Token{
		AccessToken:  lt.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: lt.RefreshToken,
	}
	if lt.TokenExpiry != "" {
		exp, err := time.Parse(legacyExpiryFormat, lt.TokenExpiry)
		if err != nil {
			return nil, fmt.Errorf("parse legacy token_expiry %q: %w", lt.TokenExpiry, err)
		}
		tok.Expiry = exp
	} else {
		// Token.Valid treats a zero expiry as never expiring; force a refresh
		// instead of trusting a stale legacy access token.
		tok.Expiry = time.Unix(0, 0).UTC()
	}
	return tok, nil
}

func isInvalidGrant(err error) bool {
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) {
		return false
	}
	if rerr.ErrorCode == "invalid_grant" {
		return true
	}
	if rerr.Response != nil && rerr.Response.StatusCode == http.StatusUnauthorized {
		return true
	}
	return bytes.Contains(rerr.Body, []byte("invalid_grant"))
}
