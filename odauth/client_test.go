package odauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hlomzik/onedrive-auth/tokencache"
)

type fakeEnv struct {
	origin string
	cache  tokencache.CredentialCache
	msgs   chan Message

	mu      sync.Mutex
	opened  []SurfaceRequest
	openErr error
}

func newFakeEnv(origin string) *fakeEnv {
	return &fakeEnv{
		origin: origin,
		cache:  &tokencache.MemCache{},
		msgs:   make(chan Message, 4),
	}
}

func (e *fakeEnv) Origin() string { return e.origin }

func (e *fakeEnv) Cache() tokencache.CredentialCache { return e.cache }

func (e *fakeEnv) Messages() <-chan Message { return e.msgs }

func (e *fakeEnv) deliver(msg Message) { e.msgs <- msg }
func (e *fakeEnv) OpenSurface(_ context.Context, req SurfaceRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openErr != nil {
		return e.openErr
	}
	e.opened = append(e.opened, req)
	return nil
}

func (e *fakeEnv) openCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.opened)
}

func (e *fakeEnv) lastOpened(t *testing.T) SurfaceRequest {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.opened) == 0 {
		t.Fatal("no surface was opened")
	}
	return e.opened[len(e.opened)-1]
}

func testConfig() Config {
	return Config{
		ClientID:    "X",
		Scopes:      "onedrive.readonly wl.signin",
		RedirectURI: "https://app.test/callback",
	}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewValidatesConfig(t *testing.T) {
	env := newFakeEnv("https://app.test")

	for _, tc := range []struct {
		name   string
		mangle func(*Config)
	}{
		{name: "missing client id", mangle: func(c *Config) { c.ClientID = "" }},
		{name: "missing scopes", mangle: func(c *Config) { c.Scopes = "" }},
		{name: "missing redirect uri", mangle: func(c *Config) { c.RedirectURI = "" }},
		{name: "underivable origin", mangle: func(c *Config) { c.RedirectURI = "/callback" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mangle(&cfg)

			if _, err := New(cfg, env); !errors.Is(err, ErrConfiguration) {
				t.Errorf("New() error = %v, want ErrConfiguration", err)
			}
		})
	}

	t.Run("missing environment", func(t *testing.T) {
		if _, err := New(testConfig(), nil); !errors.Is(err, ErrConfiguration) {
			t.Error("nil environment accepted")
		}
	})

	t.Run("valid", func(t *testing.T) {
		if _, err := New(testConfig(), env); err != nil {
			t.Fatal(err)
		}
	})
}

func TestHTTPSGate(t *testing.T) {
	env := newFakeEnv("http://app.test")
	c, err := New(testConfig(), env)
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = c.AuthFlow(context.Background(), true)
	if !errors.Is(err, ErrHTTPSRequired) {
		t.Fatalf("AuthFlow() error = %v, want ErrHTTPSRequired", err)
	}
	if env.openCount() != 0 {
		t.Error("surface opened despite insecure origin")
	}

	// Opting out lifts the gate.
	cfg := testConfig()
	cfg.AllowHTTP = true
	c, err = New(cfg, env)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.AuthFlow(context.Background(), true); err != nil {
		t.Fatalf("AuthFlow() with AllowHTTP: %v", err)
	}
}

func TestCacheHitResolvesImmediately(t *testing.T) {
	env := newFakeEnv("https://app.test")
	cred := &tokencache.Credential{Token: "cached-token", Expiry: time.Now().Add(time.Hour), Secure: true}
	if err := env.cache.Set(env.origin, "X", cred); err != nil {
		t.Fatal(err)
	}

	c, err := New(testConfig(), env)
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	st, err := c.Auth(context.Background(), func(token string) { got = append(got, token) }, false)
	if err != nil {
		t.Fatal(err)
	}
	if st != StatusAuthorized {
		t.Errorf("status %v, want StatusAuthorized", st)
	}
	if diff := cmp.Diff([]string{"cached-token"}, got); diff != "" {
		t.Errorf("callback invocations (-want +got):\n%s", diff)
	}
	if env.openCount() != 0 {
		t.Error("surface opened on a cache hit")
	}
}

func TestChallengeModes(t *testing.T) {
	for _, tc := range []struct {
		name       string
		wasClicked bool
		wantMode   SurfaceMode
		wantSilent bool
	}{
		{name: "user gesture opens a visible surface", wasClicked: true, wantMode: SurfaceVisible},
		{name: "no gesture stays hidden", wasClicked: false, wantMode: SurfaceHidden, wantSilent: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := newFakeEnv("https://app.test")
			c, err := New(testConfig(), env)
			if err != nil {
				t.Fatal(err)
			}

			st, f, err := c.AuthFlow(context.Background(), tc.wasClicked)
			if err != nil {
				t.Fatal(err)
			}
			if st != StatusPending || f == nil {
				t.Fatalf("got %v, %v; want a pending flow", st, f)
			}

			req := env.lastOpened(t)
			if req.Mode != tc.wantMode {
				t.Errorf("surface mode %v, want %v", req.Mode, tc.wantMode)
			}
			if req.Width != 525 || req.Height != 525 {
				t.Errorf("surface size %dx%d, want 525x525", req.Width, req.Height)
			}
			for _, want := range []string{"client_id=X", "response_type=token", "scope=onedrive.readonly%20wl.signin"} {
				if !strings.Contains(req.URL, want) {
					t.Errorf("authorize URL %q missing %q", req.URL, want)
				}
			}
			if got := strings.Contains(req.URL, "display=none"); got != tc.wantSilent {
				t.Errorf("display=none present = %v, want %v", got, tc.wantSilent)
			}
		})
	}
}

func TestSecondAuthJoinsPendingFlow(t *testing.T) {
	env := newFakeEnv("https://app.test")
	c, err := New(testConfig(), env)
	if err != nil {
		t.Fatal(err)
	}

	_, f1, err := c.AuthFlow(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	st, f2, err := c.AuthFlow(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}

	if st != StatusPending {
		t.Errorf("second status %v, want StatusPending", st)
	}
	if f1 != f2 {
		t.Error("second AuthFlow returned a different flow")
	}
	if n := env.openCount(); n != 1 {
		t.Errorf("surface opened %d times, want 1", n)
	}
}

func TestWaitersDrainInOrder(t *testing.T) {
	env := newFakeEnv("https://app.test")
	c, err := New(testConfig(), env)
	if err != nil {
		t.Fatal(err)
	}

	var (
		mu    sync.Mutex
		calls []string
	)
	record := func(name string) func(string) {
		return func(token string) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, name+":"+token)
		}
	}

	if _, err := c.Auth(context.Background(), record("first"), true); err != nil {
		t.Fatal(err)
	}
	st, err := c.Auth(context.Background(), record("second"), true)
	if err != nil {
		t.Fatal(err)
	}
	if st != StatusPending {
		t.Fatalf("second status %v, want StatusPending", st)
	}

	env.deliver(Message{
		Params: map[string]string{"clientId": "X", "access_token": "T", "expires_in": "3600"},
		Origin: "https://app.test",
	})

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		done := len(calls) == 2
		mu.Unlock()
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("callbacks never drained, got %v", calls)
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"first:T", "second:T"}, calls); diff != "" {
		t.Errorf("callback order (-want +got):\n%s", diff)
	}
}

func TestMismatchedMessagesAreIgnored(t *testing.T) {
	env := newFakeEnv("https://app.test")
	c, err := New(testConfig(), env)
	if err != nil {
		t.Fatal(err)
	}

	_, f, err := c.AuthFlow(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}

	// Neither a foreign client ID, a spoofed origin, nor a malformed
	// payload may touch the flow. The well-formed message after them
	// proves they were consumed and skipped.
	env.deliver(Message{
		Params: map[string]string{"clientId": "Y", "access_token": "evil", "expires_in": "3600"},
		Origin: "https://app.test",
	})
	env.deliver(Message{
		Params: map[string]string{"clientId": "X", "access_token": "evil", "expires_in": "3600"},
		Origin: "https://attacker.test",
	})
	env.deliver(Message{
		Params: map[string]string{"clientId": "X", "state": "noise"},
		Origin: "https://app.test",
	})
	env.deliver(Message{
		Params: map[string]string{"clientId": "X", "access_token": "good", "expires_in": "3600"},
		Origin: "https://app.test",
	})

	tok, err := f.Wait(waitCtx(t))
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "good" {
		t.Errorf("token %q, want the one from the matching message", tok.AccessToken)
	}
}

func TestProviderErrorRejectsFlow(t *testing.T) {
	env := newFakeEnv("https://app.test")
	c, err := New(testConfig(), env)
	if err != nil {
		t.Fatal(err)
	}

	var calls []string
	if _, err := c.Auth(context.Background(), func(token string) { calls = append(calls, token) }, true); err != nil {
		t.Fatal(err)
	}

	c.mu.Lock()
	f := c.pending
	c.mu.Unlock()

	env.deliver(Message{
		Params: map[string]string{"clientId": "X", "error": "access_denied", "error_description": "User declined"},
		Origin: "https://app.test",
	})

	_, err = f.Wait(waitCtx(t))
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("flow error = %v, want a *ProviderError", err)
	}
	if perr.Code != "access_denied" || perr.Description != "User declined" {
		t.Errorf("got %q/%q, want access_denied/User declined", perr.Code, perr.Description)
	}
	if len(calls) != 0 {
		t.Errorf("callbacks invoked on failure: %v", calls)
	}

	// The rejection cleared the attempt, so the next request challenges
	// again.
	if _, _, err := c.AuthFlow(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if n := env.openCount(); n != 2 {
		t.Errorf("surface opened %d times, want 2", n)
	}
}

func TestBlockedSurfaceKeepsFlowPending(t *testing.T) {
	env := newFakeEnv("https://app.test")
	env.openErr = errors.New("window blocked")

	c, err := New(testConfig(), env)
	if err != nil {
		t.Fatal(err)
	}

	st, f, err := c.AuthFlow(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if st != StatusPending {
		t.Fatalf("status %v, want StatusPending", st)
	}

	select {
	case <-f.Done():
		t.Fatal("flow resolved with no surface and no message")
	case <-time.After(50 * time.Millisecond):
	}

	// A handshake message can still finish the stalled attempt.
	env.deliver(Message{
		Params: map[string]string{"clientId": "X", "access_token": "T", "expires_in": "3600"},
		Origin: "https://app.test",
	})
	if _, err := f.Wait(waitCtx(t)); err != nil {
		t.Fatal(err)
	}
}

func TestFullAuthorization(t *testing.T) {
	env := newFakeEnv("https://app.test")
	c, err := New(testConfig(), env)
	if err != nil {
		t.Fatal(err)
	}

	var (
		mu    sync.Mutex
		calls []string
	)
	st, err := c.Auth(context.Background(), func(token string) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, token)
	}, true)
	if err != nil {
		t.Fatal(err)
	}
	if st != StatusPending {
		t.Fatalf("status %v, want StatusPending", st)
	}

	req := env.lastOpened(t)
	for _, want := range []string{"client_id=X", "response_type=token"} {
		if !strings.Contains(req.URL, want) {
			t.Errorf("authorize URL %q missing %q", req.URL, want)
		}
	}

	c.mu.Lock()
	f := c.pending
	c.mu.Unlock()

	env.deliver(Message{
		Params: map[string]string{"clientId": "X", "access_token": "T", "expires_in": "3600"},
		Origin: "https://app.test",
	})

	tok, err := f.Wait(waitCtx(t))
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "T" {
		t.Errorf("token %q, want T", tok.AccessToken)
	}
	if lifetime := time.Until(tok.Expiry); lifetime < 3500*time.Second || lifetime > 3600*time.Second {
		t.Errorf("token lifetime %s, want about an hour", lifetime)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(calls)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"T"}, calls); diff != "" {
		t.Errorf("callback invocations (-want +got):\n%s", diff)
	}
}

func TestTokenSource(t *testing.T) {
	env := newFakeEnv("https://app.test")
	cred := &tokencache.Credential{Token: "cached-token", Expiry: time.Now().Add(time.Hour), Secure: true}
	if err := env.cache.Set(env.origin, "X", cred); err != nil {
		t.Fatal(err)
	}

	c, err := New(testConfig(), env)
	if err != nil {
		t.Fatal(err)
	}

	tok, err := c.TokenSource(context.Background()).Token()
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "cached-token" {
		t.Errorf("token %q, want the cached one", tok.AccessToken)
	}
	if env.openCount() != 0 {
		t.Error("token source opened a surface despite the cache hit")
	}
}

func TestTokenSourceSilentOnly(t *testing.T) {
	env := newFakeEnv("https://app.test")
	c, err := New(testConfig(), env)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = c.TokenSource(ctx).Token()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error %v, want the context deadline", err)
	}
	if req := env.lastOpened(t); req.Mode != SurfaceHidden {
		t.Errorf("surface mode %v, want SurfaceHidden", req.Mode)
	}
}

func TestClearCredential(t *testing.T) {
	env := newFakeEnv("https://app.test")
	cred := &tokencache.Credential{Token: "cached-token", Expiry: time.Now().Add(time.Hour)}
	if err := env.cache.Set(env.origin, "X", cred); err != nil {
		t.Fatal(err)
	}

	c, err := New(testConfig(), env)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.ClearCredential(); err != nil {
		t.Fatal(err)
	}

	st, _, err := c.AuthFlow(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if st != StatusPending {
		t.Errorf("status %v after clearing, want StatusPending", st)
	}
}

func TestSecureOrigin(t *testing.T) {
	for _, tc := range []struct {
		origin string
		want   bool
	}{
		{origin: "https://app.test", want: true},
		{origin: "http://app.test", want: false},
		{origin: "http://localhost", want: true},
		{origin: "http://localhost:8080", want: true},
		{origin: "http://127.0.0.1:53180", want: true},
		{origin: "http://[::1]:8080", want: true},
		{origin: "http://sub.localhost", want: true},
		{origin: "ftp://app.test", want: false},
		{origin: "not a url at all\x7f", want: false},
	} {
		if got := SecureOrigin(tc.origin); got != tc.want {
			t.Errorf("SecureOrigin(%q) = %v, want %v", tc.origin, got, tc.want)
		}
	}
}
