// Package loopback runs the authorization handshake for programs that
// have no browsing context of their own. It binds a listener on the
// loopback interface, serves the callback handler there, and plays the
// part of the app page: visible challenges go to the system browser,
// hidden ones are plain HTTP fetches that only succeed when the cookie
// jar already holds a provider session.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/pkg/browser"

	"github.com/hlomzik/onedrive-auth/callback"
	"github.com/hlomzik/onedrive-auth/internal"
	"github.com/hlomzik/onedrive-auth/odauth"
	"github.com/hlomzik/onedrive-auth/tokencache"
)

var baseLogAttr = slog.String("component", "loopback")

func errAttr(err error) slog.Attr { return slog.String("err", err.Error()) }

const msgBuffer = 8

// Config carries the optional knobs of an Env. The zero value of every
// field works.
type Config struct {
	// Addr is the listen address. Defaults to an ephemeral port on
	// 127.0.0.1.
	Addr string
	// CallbackPath is where the provider redirects to. Defaults to
	// /callback.
	CallbackPath string
	// Cache persists extracted credentials. Defaults to an in-memory
	// cache that lasts as long as the Env.
	Cache tokencache.CredentialCache
	// Jar holds provider session cookies for hidden challenges. Without
	// one, hidden challenges always end silently.
	Jar http.CookieJar
	// HTTPClient is the base client for hidden challenges.
	HTTPClient *http.Client
	// Renderer overrides the embedded callback pages.
	Renderer callback.Renderer
	// OpenBrowser opens a visible challenge. Defaults to the system
	// browser.
	OpenBrowser func(url string) error
}

// Env hosts the redirect target of an implicit-grant client.
type Env struct {
	cfg      Config
	origin   string
	redirect string
	handler  *callback.Handler
	srv      *http.Server
	ln       net.Listener

	msgs      chan odauth.Message
	closeOnce sync.Once
	closeErr  error
	mu        sync.Mutex
	closed    bool
}

var _ odauth.Environment = &Env{}

// NewEnv binds the listener and starts serving the callback handler.
// Close the Env when done with it.
func NewEnv(clientID string, cfg Config) (*Env, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	path := cfg.CallbackPath
	if path == "" {
		path = "/callback"
	}
	cache := cfg.Cache
	if cache == nil {
		cache = &tokencache.MemCache{}
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	e := &Env{
		cfg:    cfg,
		origin: "http://" + ln.Addr().String(),
		ln:     ln,
		msgs:   make(chan odauth.Message, msgBuffer),
	}
	e.redirect = e.origin + path
	e.handler = &callback.Handler{
		ClientID: clientID,
		Origin:   e.origin,
		Cache:    cache,
		Deliver:  e.deliver,
		Renderer: cfg.Renderer,
	}

	mux := http.NewServeMux()
	mux.Handle(path, e.handler)
	e.srv = &http.Server{Handler: mux}
	go e.serve()

	return e, nil
}

func (e *Env) serve() {
	if err := e.srv.Serve(e.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Warn("callback server stopped", baseLogAttr, errAttr(err))
	}
}

// Origin is the loopback origin the Env serves on, known once NewEnv
// returns.
func (e *Env) Origin() string { return e.origin }

// RedirectURI is the registered redirect target, pointing at this Env's
// listener.
func (e *Env) RedirectURI() string { return e.redirect }

func (e *Env) Cache() tokencache.CredentialCache { return e.handler.Cache }

// Messages yields the handshake messages the callback handler relays.
// The channel closes when the Env does.
func (e *Env) Messages() <-chan odauth.Message { return e.msgs }

// OpenSurface starts a challenge. Visible challenges open the system
// browser and report failure to open it; hidden ones run in the
// background and never report anything, matching a hidden frame nobody
// watches.
func (e *Env) OpenSurface(ctx context.Context, req odauth.SurfaceRequest) error {
	if req.Mode == odauth.SurfaceHidden {
		go e.silentAttempt(ctx, req.URL)
		return nil
	}
	open := e.cfg.OpenBrowser
	if open == nil {
		open = browser.OpenURL
	}
	if err := open(req.URL); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}
	return nil
}

// silentAttempt fetches the authorize URL without any UI. A provider
// session in the jar ends in a redirect to the callback, which is
// captured and replayed through the handler; anything else ends the
// attempt quietly.
func (e *Env) silentAttempt(ctx context.Context, authorizeURL string) {
	base := internal.HTTPClientFromContext(ctx, e.cfg.HTTPClient)
	client := internal.CaptureClient(base, e.cfg.Jar, e.redirect)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authorizeURL, nil)
	if err != nil {
		slog.DebugContext(ctx, "building silent authorize request", baseLogAttr, errAttr(err))
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		slog.DebugContext(ctx, "silent authorization attempt failed", baseLogAttr, errAttr(err))
		return
	}
	defer resp.Body.Close()

	loc := resp.Header.Get("Location")
	if resp.StatusCode < 300 || resp.StatusCode > 399 || loc == "" {
		slog.DebugContext(ctx, "no provider session, silent attempt over", baseLogAttr,
			slog.Int("status", resp.StatusCode))
		return
	}
	if err := e.HandleRedirect(loc); err != nil {
		slog.DebugContext(ctx, "replaying captured redirect", baseLogAttr, errAttr(err))
	}
}

// HandleRedirect feeds a redirect URL captured outside the listener back
// into the handshake. Hosts where the browser cannot reach the loopback
// address use this for the paste-the-URL flow.
func (e *Env) HandleRedirect(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing redirect url: %w", err)
	}
	_, _, err = e.handler.Process(callback.ParseParams(u))
	return err
}

func (e *Env) deliver(msg odauth.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.msgs <- msg:
	default:
		slog.Warn("dropping handshake message, no listener draining", baseLogAttr)
	}
}

// Close stops the listener and closes the message channel.
func (e *Env) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		e.closeErr = e.srv.Close()
		close(e.msgs)
	})
	return e.closeErr
}
