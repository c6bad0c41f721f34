package refresh

import (
	"context"

	"golang.org/x/oauth2"
)

type tokenSource struct {
	ctx context.Context
	c   *Coordinator
}

// TokenSource exposes the coordinator as an oauth2.TokenSource so the
// session can back an oauth2.Transport or any library that takes one.
func (c *Coordinator) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, c: c}
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	token, err := ts.c.EnsureFresh(ts.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
		Expiry:      ts.c.store.ExpiresAt(),
	}, nil
}
