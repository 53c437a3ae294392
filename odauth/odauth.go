// Package odauth implements the application side of the OAuth2 implicit
// grant for the OneDrive API: it serves bearer tokens from a cache, opens
// the provider's consent surface when it cannot, and turns the handshake
// message relayed from the redirect target into a resolved authorization
// flow.
//
// There is no client secret anywhere; the token arrives in the redirect
// itself and is as trustworthy as the origin check on the message that
// carried it. Host specifics (credential storage, consent windows, message
// transport) live behind [Environment].
package odauth

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/hlomzik/onedrive-auth/provider"
)

// Preferred consent window dimensions, for environments that control
// windows.
const (
	popupWidth  = 525
	popupHeight = 525
)

var baseLogAttr = slog.String("component", "odauth")

func errAttr(err error) slog.Attr { return slog.String("err", err.Error()) }

func flowAttr(f *Flow) slog.Attr { return slog.String("flow", f.ID.String()) }

// Config describes one registered application.
type Config struct {
	// ClientID is the application ID issued at registration. Required.
	ClientID string
	// Scopes is the space-separated scope string to request. Required.
	Scopes string
	// RedirectURI is the registered redirect target; the handshake must be
	// reachable there. Required.
	RedirectURI string
	// RedirectOrigin overrides the origin handshake messages are trusted
	// from. Derived from RedirectURI when empty.
	RedirectOrigin string
	// AllowHTTP permits running from an origin that is not a secure
	// context. Tokens are exposed to the network when set.
	AllowHTTP bool
	// Provider overrides the authorization service. Defaults to Live
	// Connect.
	Provider *provider.Provider
}

// Status is the immediate answer to an authorization request.
type Status int

const (
	// StatusAuthorized means a valid cached credential satisfied the
	// request; no provider interaction happened.
	StatusAuthorized Status = iota + 1
	// StatusPending means an attempt is underway and the outcome arrives
	// through the flow.
	StatusPending
)

func (s Status) String() string {
	switch s {
	case StatusAuthorized:
		return "authorized"
	case StatusPending:
		return "pending"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Client runs authorization attempts for one registered application. At
// most one attempt is in flight at a time; further requests join it.
type Client struct {
	cfg  Config
	prov *provider.Provider
	env  Environment

	mu      sync.Mutex
	pending *Flow

	listenOnce sync.Once
}

// New validates cfg and returns a client. The client takes no network or UI
// action until an attempt needs one.
func New(cfg Config, env Environment) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: ClientID is required", ErrConfiguration)
	}
	if cfg.Scopes == "" {
		return nil, fmt.Errorf("%w: Scopes is required", ErrConfiguration)
	}
	if cfg.RedirectURI == "" {
		return nil, fmt.Errorf("%w: RedirectURI is required", ErrConfiguration)
	}
	if env == nil {
		return nil, fmt.Errorf("%w: an Environment is required", ErrConfiguration)
	}
	if cfg.RedirectOrigin == "" {
		o, err := provider.DeriveOrigin(cfg.RedirectURI)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		cfg.RedirectOrigin = o
	}

	prov := cfg.Provider
	if prov == nil {
		prov = provider.LiveConnect()
	}

	return &Client{cfg: cfg, prov: prov, env: env}, nil
}

// Auth is the callback form of [Client.AuthFlow]. cb, when non-nil,
// receives the bearer token: before Auth returns on a cache hit, from the
// message listener otherwise. Callbacks across calls run in registration
// order, each exactly once. A failed attempt never invokes them; use the
// flow form to observe errors.
func (c *Client) Auth(ctx context.Context, cb func(token string), wasClicked bool) (Status, error) {
	st, f, err := c.AuthFlow(ctx, wasClicked)
	if err != nil {
		return 0, err
	}
	if cb == nil {
		return st, nil
	}

	if st == StatusAuthorized {
		tok, _ := f.Token()
		cb(tok.AccessToken)
		return st, nil
	}

	if !f.addWaiter(cb) {
		// The attempt finished between joining it and registering.
		if tok, _ := f.Token(); tok != nil {
			cb(tok.AccessToken)
		}
	}
	return st, nil
}

// AuthFlow answers from the credential cache when it can, otherwise starts
// or joins the single in-flight authorization attempt. wasClicked must be
// true only when handling a direct user action: that is the one case a
// visible consent window may open. Otherwise the attempt runs hidden and
// can only succeed off an existing provider session.
//
// StatusAuthorized comes with an already-resolved flow. With StatusPending
// the flow is shared by everyone waiting on the attempt; it carries no
// deadline of its own, bound [Flow.Wait] with a context to give callers
// one.
func (c *Client) AuthFlow(ctx context.Context, wasClicked bool) (Status, *Flow, error) {
	if err := c.checkOrigin(); err != nil {
		return 0, nil, err
	}

	origin := c.env.Origin()
	cred, err := c.env.Cache().Get(origin, c.cfg.ClientID)
	if err != nil {
		// a broken cache reads as a miss
		slog.WarnContext(ctx, "reading credential cache", baseLogAttr, errAttr(err))
	}
	if cred.Valid() {
		f := newFlow()
		f.resolve(cred.OAuth2Token())
		return StatusAuthorized, f, nil
	}

	c.mu.Lock()
	if c.pending != nil {
		f := c.pending
		c.mu.Unlock()
		return StatusPending, f, nil
	}
	f := newFlow()
	c.pending = f
	c.mu.Unlock()

	c.listenOnce.Do(func() { go c.listen() })

	mode := SurfaceHidden
	if wasClicked {
		mode = SurfaceVisible
	}
	authURL := c.prov.AuthorizeURL(provider.AuthRequest{
		ClientID:    c.cfg.ClientID,
		Scopes:      c.cfg.Scopes,
		RedirectURI: c.cfg.RedirectURI,
		Silent:      mode == SurfaceHidden,
	})

	slog.DebugContext(ctx, "starting authorization attempt", baseLogAttr, flowAttr(f), slog.String("mode", mode.String()))
	if err := c.env.OpenSurface(ctx, SurfaceRequest{URL: authURL, Mode: mode, Width: popupWidth, Height: popupHeight}); err != nil {
		// Nothing to retry until the user acts again. The attempt stays
		// open so a later message can still finish it.
		slog.WarnContext(ctx, "opening consent surface", baseLogAttr, flowAttr(f), errAttr(err))
	}

	return StatusPending, f, nil
}

// ClearCredential drops the cached credential for this client, forcing the
// next request to the provider.
func (c *Client) ClearCredential() error {
	return c.env.Cache().Delete(c.env.Origin(), c.cfg.ClientID)
}

func (c *Client) checkOrigin() error {
	if c.cfg.AllowHTTP {
		return nil
	}
	origin := c.env.Origin()
	if SecureOrigin(origin) {
		return nil
	}
	return fmt.Errorf("origin %q: %w", origin, ErrHTTPSRequired)
}

// SecureOrigin reports whether origin is a secure context: served over
// HTTPS, or loopback. Browsers treat loopback as trustworthy and the local
// redirect environment depends on that.
func SecureOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme == "https" {
		return true
	}
	if u.Scheme != "http" {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1" || strings.HasSuffix(host, ".localhost")
}

// listen consumes handshake messages for the life of the environment. It
// starts with the first attempt and also drains messages that arrive when
// nothing is in flight.
func (c *Client) listen() {
	for msg := range c.env.Messages() {
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg Message) {
	if cid := msg.Params["clientId"]; cid != c.cfg.ClientID {
		slog.Debug("ignoring message for another client", baseLogAttr, slog.String("client_id", cid))
		return
	}
	if msg.Origin != c.cfg.RedirectOrigin {
		slog.Debug("ignoring message from unexpected origin", baseLogAttr, slog.String("origin", msg.Origin))
		return
	}

	c.mu.Lock()
	f := c.pending
	if f == nil {
		c.mu.Unlock()
		slog.Debug("ignoring message with no attempt in flight", baseLogAttr)
		return
	}

	out, err := ParseOutcome(msg.Params)
	if err != nil {
		// The attempt stays in flight; a well-formed message can still
		// finish it.
		c.mu.Unlock()
		slog.Warn("ignoring malformed callback message", baseLogAttr, flowAttr(f), errAttr(err))
		return
	}

	c.pending = nil
	c.mu.Unlock()

	if out.Err != nil {
		slog.Debug("authorization refused", baseLogAttr, flowAttr(f), errAttr(out.Err))
		f.reject(out.Err)
		return
	}

	slog.Debug("authorization complete", baseLogAttr, flowAttr(f))
	f.resolve(&oauth2.Token{
		AccessToken: out.Token,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(out.ExpiresIn),
	})
}
