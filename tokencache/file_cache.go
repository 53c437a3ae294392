package tokencache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/tink-crypto/tink-go/v2/tink"
)

const (
	cacheDataFile   = "credentials.enc"
	cacheKeysetFile = "keyset.json"
)

var baseLogAttr = slog.String("component", "tokencache")

func errAttr(err error) slog.Attr { return slog.String("err", err.Error()) }

// FileCache stores credentials in Dir, AEAD-encrypted under a generated
// keyset. The keyset sits beside the data, so this guards against casual
// reads of the cache file, not against an attacker with equal filesystem
// access. Decrypted data is memoized in memory; a filesystem watcher drops
// the memo when another process rewrites the data file.
type FileCache struct {
	Dir string

	mu        sync.Mutex
	inited    bool
	initErr   error
	primitive tink.AEAD
	watcher   *fsnotify.Watcher
	memo      map[string]*Credential
	memoOK    bool
}

var _ CredentialCache = &FileCache{}

func (c *FileCache) Get(origin, clientID string) (*Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensure(); err != nil {
		return nil, err
	}

	creds, err := c.load()
	if err != nil {
		return nil, err
	}

	cred := creds[cacheKey(origin, clientID)]
	if !cred.Valid() {
		return nil, nil
	}

	return cred, nil
}

func (c *FileCache) Set(origin, clientID string, cred *Credential) error {
	if err := persistable(cred); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensure(); err != nil {
		return err
	}

	// Reread before merging so writes from other processes are kept.
	c.memoOK = false
	creds, err := c.load()
	if err != nil {
		// unreadable data is replaced, not preserved
		creds = make(map[string]*Credential)
	}
	creds[cacheKey(origin, clientID)] = cred

	return c.store(creds)
}

func (c *FileCache) Delete(origin, clientID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensure(); err != nil {
		return err
	}

	c.memoOK = false
	creds, err := c.load()
	if err != nil {
		return nil
	}
	if _, ok := creds[cacheKey(origin, clientID)]; !ok {
		return nil
	}
	delete(creds, cacheKey(origin, clientID))

	return c.store(creds)
}

func (c *FileCache) Available() bool {
	if c.Dir == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ensure() == nil
}

// Close stops the change watcher. The cache stays usable, reading from disk
// on every access.
func (c *FileCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watcher == nil {
		return nil
	}
	err := c.watcher.Close()
	c.watcher = nil
	c.memoOK = false
	return err
}

func (c *FileCache) ensure() error {
	if c.inited {
		return c.initErr
	}
	c.inited = true
	c.initErr = c.init()
	return c.initErr
}

func (c *FileCache) init() error {
	if c.Dir == "" {
		return errors.New("no cache directory configured")
	}

	handle, err := c.loadOrCreateKeyset()
	if err != nil {
		return err
	}
	prim, err := aead.New(handle)
	if err != nil {
		return fmt.Errorf("creating aead primitive: %w", err)
	}
	c.primitive = prim

	// The handshake may run in another process with the same cache
	// directory, so watch for its writes. Without a watcher the memo cannot
	// be trusted and every read falls through to disk.
	w, err := fsnotify.NewWatcher()
	if err == nil {
		err = w.Add(c.Dir)
	}
	if err != nil {
		slog.Debug("credential cache watching unavailable", baseLogAttr, errAttr(err))
		if w != nil {
			_ = w.Close()
		}
		return nil
	}
	c.watcher = w
	go c.watch(w)

	return nil
}

func (c *FileCache) loadOrCreateKeyset() (*keyset.Handle, error) {
	keysetPath := filepath.Join(c.Dir, cacheKeysetFile)

	b, err := readBlob(keysetPath)
	if err == nil {
		handle, err := insecurecleartextkeyset.Read(keyset.NewJSONReader(bytes.NewReader(b)))
		if err != nil {
			return nil, fmt.Errorf("reading keyset: %w", err)
		}
		return handle, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	handle, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	if err != nil {
		return nil, fmt.Errorf("generating keyset: %w", err)
	}
	var buf bytes.Buffer
	if err := insecurecleartextkeyset.Write(handle, keyset.NewJSONWriter(&buf)); err != nil {
		return nil, fmt.Errorf("serializing keyset: %w", err)
	}
	if err := writeBlob(keysetPath, buf.Bytes()); err != nil {
		return nil, err
	}

	return handle, nil
}

// load returns the decrypted credential map, from the memo when it is still
// trusted. Callers must hold mu.
func (c *FileCache) load() (map[string]*Credential, error) {
	if c.memoOK {
		return c.memo, nil
	}

	encData, err := readBlob(filepath.Join(c.Dir, cacheDataFile))
	if err != nil {
		if os.IsNotExist(err) {
			creds := make(map[string]*Credential)
			c.setMemo(creds)
			return creds, nil
		}
		return nil, err
	}

	plaintext, err := c.primitive.Decrypt(encData, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt failed: %w", err)
	}

	var creds map[string]*Credential
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}
	if creds == nil {
		creds = make(map[string]*Credential)
	}
	c.setMemo(creds)

	return creds, nil
}

func (c *FileCache) store(creds map[string]*Credential) error {
	newData, err := json.Marshal(creds)
	if err != nil {
		return err
	}

	ciphertext, err := c.primitive.Encrypt(newData, nil)
	if err != nil {
		return err
	}

	if err := writeBlob(filepath.Join(c.Dir, cacheDataFile), ciphertext); err != nil {
		return err
	}
	c.setMemo(creds)

	return nil
}

func (c *FileCache) setMemo(creds map[string]*Credential) {
	// Only memoize when the watcher can tell us about external writes.
	if c.watcher == nil {
		return
	}
	c.memo = creds
	c.memoOK = true
}

func (c *FileCache) watch(w *fsnotify.Watcher) {
	dataPath := filepath.Join(c.Dir, cacheDataFile)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Name != dataPath {
				continue
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
				c.mu.Lock()
				c.memoOK = false
				c.mu.Unlock()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			slog.Debug("credential cache watcher", baseLogAttr, errAttr(err))
		}
	}
}

// readBlob reads a file into a byte slice.
func readBlob(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// writeBlob writes a byte slice to a file.
func writeBlob(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
