package tokencache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const createCredentialsTable = `
CREATE TABLE IF NOT EXISTS credentials (
	origin     TEXT NOT NULL,
	client_id  TEXT NOT NULL,
	token      TEXT NOT NULL,
	expires_at INTEGER NOT NULL,
	secure     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (origin, client_id)
);`

// SQLiteCache stores credentials in a SQLite database at Path. Unlike
// [FileCache] the data is not encrypted at rest; expiry is kept to whole
// seconds by the schema.
type SQLiteCache struct {
	Path string

	mu      sync.Mutex
	db      *sql.DB
	initErr error
	inited  bool
}

var _ CredentialCache = &SQLiteCache{}

func (c *SQLiteCache) Get(origin, clientID string) (*Credential, error) {
	db, err := c.ensure()
	if err != nil {
		return nil, err
	}

	var (
		token     string
		expiresAt int64
		secure    int
	)
	row := db.QueryRow(`SELECT token, expires_at, secure FROM credentials WHERE origin = ? AND client_id = ?`, origin, clientID)
	if err := row.Scan(&token, &expiresAt, &secure); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying credential: %w", err)
	}

	cred := &Credential{
		Token:  token,
		Expiry: time.Unix(expiresAt, 0),
		Secure: secure != 0,
	}
	if !cred.Valid() {
		return nil, nil
	}

	return cred, nil
}

func (c *SQLiteCache) Set(origin, clientID string, cred *Credential) error {
	if err := persistable(cred); err != nil {
		return err
	}

	db, err := c.ensure()
	if err != nil {
		return err
	}

	secure := 0
	if cred.Secure {
		secure = 1
	}
	_, err = db.Exec(`
		INSERT INTO credentials (origin, client_id, token, expires_at, secure)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (origin, client_id) DO UPDATE SET
			token = excluded.token,
			expires_at = excluded.expires_at,
			secure = excluded.secure`,
		origin, clientID, cred.Token, cred.Expiry.Unix(), secure)
	if err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}

	return nil
}

func (c *SQLiteCache) Delete(origin, clientID string) error {
	db, err := c.ensure()
	if err != nil {
		return err
	}

	if _, err := db.Exec(`DELETE FROM credentials WHERE origin = ? AND client_id = ?`, origin, clientID); err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}

	return nil
}

func (c *SQLiteCache) Available() bool {
	if c.Path == "" {
		return false
	}
	_, err := c.ensure()
	return err == nil
}

// Close releases the database. The cache cannot be used afterwards.
func (c *SQLiteCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *SQLiteCache) ensure() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inited {
		return c.db, c.initErr
	}
	c.inited = true

	if c.Path == "" {
		c.initErr = errors.New("no database path configured")
		return nil, c.initErr
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0700); err != nil {
		c.initErr = err
		return nil, c.initErr
	}

	db, err := sql.Open("sqlite", c.Path)
	if err != nil {
		c.initErr = fmt.Errorf("opening database: %w", err)
		return nil, c.initErr
	}
	if _, err := db.Exec(createCredentialsTable); err != nil {
		_ = db.Close()
		c.initErr = fmt.Errorf("creating credentials table: %w", err)
		return nil, c.initErr
	}

	c.db = db
	return c.db, nil
}
