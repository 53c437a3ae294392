package odauth

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Flow is the shared result of one authorization attempt. Every caller that
// starts or joins the attempt observes the same Flow.
type Flow struct {
	// ID correlates log lines for the attempt. It is never sent to the
	// provider.
	ID uuid.UUID

	done chan struct{}

	mu       sync.Mutex
	complete bool
	waiters  []func(token string)
	token    *oauth2.Token
	err      error
}

func newFlow() *Flow {
	return &Flow{ID: uuid.New(), done: make(chan struct{})}
}

// Done is closed once the flow has an outcome.
func (f *Flow) Done() <-chan struct{} { return f.done }

// Token returns the outcome. Before Done is closed both returns are nil.
func (f *Flow) Token() (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.err
}

// Wait blocks until the flow has an outcome or ctx ends. The flow itself
// never times out; cancelling here abandons the wait, not the attempt.
func (f *Flow) Wait(ctx context.Context) (*oauth2.Token, error) {
	select {
	case <-f.done:
		return f.Token()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// addWaiter registers cb to receive the token. It reports false if the flow
// already has an outcome, in which case cb will never run.
func (f *Flow) addWaiter(cb func(token string)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.complete {
		return false
	}
	f.waiters = append(f.waiters, cb)
	return true
}

// resolve hands the token to every waiter in registration order, each
// exactly once, then closes Done.
func (f *Flow) resolve(token *oauth2.Token) {
	f.mu.Lock()
	if f.complete {
		f.mu.Unlock()
		return
	}
	f.complete = true
	f.token = token
	waiters := f.waiters
	f.waiters = nil
	f.mu.Unlock()

	for _, cb := range waiters {
		cb(token.AccessToken)
	}
	close(f.done)
}

// reject records the failure and closes Done. Waiters are dropped without
// being invoked: the callback form has no error path.
func (f *Flow) reject(err error) {
	f.mu.Lock()
	if f.complete {
		f.mu.Unlock()
		return
	}
	f.complete = true
	f.err = err
	f.waiters = nil
	f.mu.Unlock()

	close(f.done)
}
