package tokencache

import (
	"sync"
)

// MemCache is a simple in-memory credential cache. The zero value is ready
// to use. Nothing outlives the process.
type MemCache struct {
	m   map[string]*Credential
	mMu sync.RWMutex
}

var _ CredentialCache = &MemCache{}

func (c *MemCache) Get(origin, clientID string) (*Credential, error) {
	c.mMu.RLock()
	defer c.mMu.RUnlock()

	cred := c.m[cacheKey(origin, clientID)]
	if !cred.Valid() {
		return nil, nil
	}

	return cred, nil
}

func (c *MemCache) Set(origin, clientID string, cred *Credential) error {
	if err := persistable(cred); err != nil {
		return err
	}

	c.mMu.Lock()
	defer c.mMu.Unlock()

	if c.m == nil {
		c.m = make(map[string]*Credential)
	}
	c.m[cacheKey(origin, clientID)] = cred

	return nil
}

func (c *MemCache) Delete(origin, clientID string) error {
	c.mMu.Lock()
	defer c.mMu.Unlock()

	delete(c.m, cacheKey(origin, clientID))

	return nil
}

func (c *MemCache) Available() bool {
	return true
}
