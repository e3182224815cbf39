package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/cesargomez89/tubecrate/internal/constants"
	"github.com/cesargomez89/tubecrate/internal/logger"
)

func setupCreds(t *testing.T, tokenURL string) *Credentials {
	t.Helper()
	dir := t.TempDir()

	secret := fmt.Sprintf(`{"installed":{"client_id":"cid","client_secret":"cs","redirect_uris":["urn:ietf:wg:oauth:2.0:oob","http://localhost"],"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":%q}}`, tokenURL)
	if err := os.WriteFile(filepath.Join(dir, constants.ClientSecretFile), []byte(secret), 0600); err != nil {
		t.Fatalf("write client secret: %v", err)
	}

	return NewCredentials(dir, 5*time.Second, logger.Default())
}

func writeToken(t *testing.T, creds *Credentials, tok *oauth2.Token) {
	t.Helper()
	b, err := json.Marshal(tok)
	if err != nil {
		t.Fatalf("marshal token: %v", err)
	}
	if err := os.WriteFile(creds.tokenPath(), b, 0600); err != nil {
		t.Fatalf("write token: %v", err)
	}
}

func TestTokenValidFromStandardFile(t *testing.T) {
	creds := setupCreds(t, "http://unused.invalid/token")
	writeToken(t, creds, &oauth2.Token{
		AccessToken:  "live",
		TokenType:    "Bearer",
		RefreshToken: "r",
		Expiry:       time.Now().Add(time.Hour),
	})

	tok, err := creds.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok.AccessToken != "live" {
		t.Errorf("Expected access token 'live', got '%s'", tok.AccessToken)
	}
}

func TestLegacyTokenRefreshesAndNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"fresh","token_type":"Bearer","expires_in":3600,"refresh_token":"r2"}`)
	}))
	defer srv.Close()

	creds := setupCreds(t, srv.URL+"/token")
	legacy := `{"_module":"oauth2client.client","access_token":"stale","refresh_token":"r1","token_expiry":"2016-01-01T00:00:00Z","client_id":"cid","client_secret":"cs","invalid":false}`
	if err := os.WriteFile(creds.tokenPath(), []byte(legacy), 0600); err != nil {
		t.Fatalf("write legacy token: %v", err)
	}

	tok, err := creds.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok.AccessToken != "fresh" {
		t.Errorf("Expected refreshed access token, got '%s'", tok.AccessToken)
	}

	b, err := os.ReadFile(creds.tokenPath())
	if err != nil {
		t.Fatalf("read persisted token: %v", err)
	}
	if strings.Contains(string(b), "token_expiry") {
		t.Error("Expected persisted token in standard shape, found legacy field")
	}
	if !strings.Contains(string(b), "fresh") {
		t.Errorf("Expected persisted token to hold refreshed value, got %s", b)
	}
}

func TestLegacyTokenInvalidFlag(t *testing.T) {
	creds := setupCreds(t, "http://unused.invalid/token")
	legacy := `{"access_token":"a","refresh_token":"r","token_expiry":"2016-01-01T00:00:00Z","invalid":true}`
	if err := os.WriteFile(creds.tokenPath(), []byte(legacy), 0600); err != nil {
		t.Fatalf("write legacy token: %v", err)
	}

	_, err := creds.Token(context.Background())
	if !errors.Is(err, ErrAuthExpired) {
		t.Errorf("Expected ErrAuthExpired, got %v", err)
	}
}

func TestMissingTokenWithoutAuthorizer(t *testing.T) {
	creds := setupCreds(t, "http://unused.invalid/token")

	_, err := creds.Token(context.Background())
	if !errors.Is(err, ErrAuthExpired) {
		t.Errorf("Expected ErrAuthExpired, got %v", err)
	}
}

func TestInvalidGrantMapsToAuthExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Token has been revoked."}`)
	}))
	defer srv.Close()

	creds := setupCreds(t, srv.URL+"/token")
	writeToken(t, creds, &oauth2.Token{
		AccessToken:  "stale",
		TokenType:    "Bearer",
		RefreshToken: "revoked",
		Expiry:       time.Now().Add(-time.Hour),
	})

	_, err := creds.Token(context.Background())
	if !errors.Is(err, ErrAuthExpired) {
		t.Errorf("Expected ErrAuthExpired, got %v", err)
	}
}

type stubAuthorizer struct {
	tok   *oauth2.Token
	calls int
}

func (a *stubAuthorizer) Authorize(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	a.calls++
	return a.tok, nil
}

func TestAuthorizerRunsWhenNoToken(t *testing.T) {
	creds := setupCreds(t, "http://unused.invalid/token")
	stub := &stubAuthorizer{tok: &oauth2.Token{
		AccessToken:  "granted",
		TokenType:    "Bearer",
		RefreshToken: "r",
		Expiry:       time.Now().Add(time.Hour),
	}}
	creds.Authorizer = stub

	tok, err := creds.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok.AccessToken != "granted" {
		t.Errorf("Expected token from authorizer, got '%s'", tok.AccessToken)
	}
	if stub.calls != 1 {
		t.Errorf("Expected 1 authorizer call, got %d", stub.calls)
	}
	if _, err := os.Stat(creds.tokenPath()); err != nil {
		t.Errorf("Expected token persisted after consent: %v", err)
	}
}

func TestFailedPersistDoesNotAdvanceToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"fresh","token_type":"Bearer","expires_in":3600,"refresh_token":"r2"}`)
	}))
	defer srv.Close()

	creds := setupCreds(t, srv.URL+"/token")
	creds.token = &oauth2.Token{
		AccessToken:  "stale",
		TokenType:    "Bearer",
		RefreshToken: "r1",
		Expiry:       time.Now().Add(-time.Hour),
	}

	// A directory where token.json should go makes the rename fail.
	if err := os.Mkdir(creds.tokenPath(), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	_, err := creds.Token(context.Background())
	if err == nil {
		t.Fatal("Expected persist failure")
	}
	if creds.token.AccessToken != "stale" {
		t.Errorf("Expected in-memory token unchanged, got '%s'", creds.token.AccessToken)
	}
}

func TestConsoleAuthorizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"exchanged","token_type":"Bearer","expires_in":3600,"refresh_token":"r"}`)
	}))
	defer srv.Close()

	cfg := &oauth2.Config{
		ClientID:     "cid",
		ClientSecret: "cs",
		RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: srv.URL + "/token",
		},
	}

	var out strings.Builder
	a := &ConsoleAuthorizer{In: strings.NewReader("the-code\n"), Out: &out}

	tok, err := a.Authorize(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if tok.AccessToken != "exchanged" {
		t.Errorf("Expected exchanged token, got '%s'", tok.AccessToken)
	}
	if !strings.Contains(out.String(), "accounts.google.com") {
		t.Error("Expected consent URL in prompt output")
	}
}
