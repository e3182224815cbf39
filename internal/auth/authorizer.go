package auth

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/oauth2"
)

// ConsoleAuthorizer runs the out-of-band consent flow on a terminal: it
// prints the consent URL and reads the verification code back.
type ConsoleAuthorizer struct {
	In  io.Reader
	Out io.Writer
}

func (a *ConsoleAuthorizer) Authorize(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	url := cfg.AuthCodeURL("state", oauth2.AccessTypeOffline)
	fmt.Fprintf(a.Out, "Visit the URL below, approve access, then paste the code here:\n\n  %s\n\nCode: ", url)

	var code string
	if _, err := fmt.Fscan(a.In, &code); err != nil {
		return nil, fmt.Errorf("read authorization code: %w", err)
	}

	tok, err := cfg.Exchange(ctx, code, oauth2.AccessTypeOffline)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tok, nil
}
