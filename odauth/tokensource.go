package odauth

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenSource adapts the client to an oauth2.TokenSource. Token serves from
// the cache when it can and otherwise runs a hidden attempt, so it never
// interrupts the user. A hidden attempt that needs consent blocks until ctx
// ends; give ctx a deadline. Interactive consent has to happen through
// [Client.Auth] or [Client.AuthFlow] beforehand.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, c: c}
}

type tokenSource struct {
	ctx context.Context
	c   *Client
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	_, f, err := ts.c.AuthFlow(ts.ctx, false)
	if err != nil {
		return nil, err
	}
	return f.Wait(ts.ctx)
}
