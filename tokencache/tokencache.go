// Package tokencache stores the bearer credential the implicit grant issues,
// keyed by the origin the application runs on and its client ID.
package tokencache

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// Credential is one issued bearer token, with the absolute time it stops
// being usable and whether it was issued to an origin served over HTTPS.
type Credential struct {
	Token  string    `json:"token"`
	Expiry time.Time `json:"expiry"`
	Secure bool      `json:"secure,omitempty"`
}

// Valid reports whether the credential can still be presented.
func (c *Credential) Valid() bool {
	return c != nil && c.Token != "" && c.Expiry.After(time.Now())
}

// OAuth2Token returns the credential as an oauth2 token. The implicit grant
// only ever issues bearer tokens.
func (c *Credential) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken: c.Token,
		TokenType:   "Bearer",
		Expiry:      c.Expiry,
	}
}

// CredentialCache stores credentials issued to an origin and client ID.
// Implementations may share their backing store with other processes.
type CredentialCache interface {
	// Get returns the stored credential, or nil if there is none or it has
	// expired. error indicates the store itself failed.
	Get(origin, clientID string) (*Credential, error)
	// Set stores the credential, replacing any existing one. Credentials
	// that must never be persisted (empty token, past expiry) are rejected.
	Set(origin, clientID string, cred *Credential) error
	// Delete removes any stored credential. Deleting an absent entry is not
	// an error.
	Delete(origin, clientID string) error
	// Available reports whether this cache can be used in this environment.
	Available() bool
}

// BestCache returns the most preferred usable cache for the given directory:
// the encrypted file cache, then the SQLite cache, then process memory.
// An empty dir selects process memory.
func BestCache(dir string) CredentialCache {
	if dir == "" {
		return &MemCache{}
	}

	for _, c := range []CredentialCache{
		&FileCache{Dir: dir},
		&SQLiteCache{Path: filepath.Join(dir, "credentials.db")},
	} {
		if c.Available() {
			return c
		}
	}

	return &MemCache{}
}

func persistable(cred *Credential) error {
	if cred == nil || cred.Token == "" {
		return errors.New("refusing to store an empty credential")
	}
	if !cred.Expiry.After(time.Now()) {
		return errors.New("refusing to store an expired credential")
	}
	return nil
}

func cacheKey(origin, clientID string) string {
	return fmt.Sprintf(
		"%s;%s",
		origin,
		clientID,
	)
}
