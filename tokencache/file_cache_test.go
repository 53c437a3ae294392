package tokencache

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileCache(t *testing.T) {
	cache := &FileCache{Dir: t.TempDir()}
	t.Cleanup(func() { _ = cache.Close() })

	if !cache.Available() {
		t.Fatal("cache is not available")
	}

	TestCache(t, cache)
}

func TestFileCacheEncryptsAtRest(t *testing.T) {
	dir := t.TempDir()
	cache := &FileCache{Dir: dir}
	t.Cleanup(func() { _ = cache.Close() })

	cred := &Credential{Token: "super-secret-token", Expiry: time.Now().Add(time.Hour)}
	if err := cache.Set("https://app.test", "clientID", cred); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, cacheDataFile))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(raw, []byte(cred.Token)) {
		t.Fatal("token written in the clear")
	}
}

func TestFileCacheReopens(t *testing.T) {
	dir := t.TempDir()
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)

	first := &FileCache{Dir: dir}
	if err := first.Set("https://app.test", "clientID", &Credential{Token: "abc123", Expiry: expiry}); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	// A new cache over the same directory must reuse the keyset.
	second := &FileCache{Dir: dir}
	t.Cleanup(func() { _ = second.Close() })

	got, err := second.Get("https://app.test", "clientID")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Token != "abc123" {
		t.Fatalf("got %+v, want the stored credential", got)
	}
}

func TestFileCacheSeesExternalWrites(t *testing.T) {
	dir := t.TempDir()

	reader := &FileCache{Dir: dir}
	t.Cleanup(func() { _ = reader.Close() })
	writer := &FileCache{Dir: dir}
	t.Cleanup(func() { _ = writer.Close() })

	expiry := time.Now().Add(time.Hour).Truncate(time.Second)

	// Populate the reader's memo with a miss.
	if got, err := reader.Get("https://app.test", "clientID"); err != nil || got != nil {
		t.Fatalf("got %+v, %v; want empty cache", got, err)
	}

	if err := writer.Set("https://app.test", "clientID", &Credential{Token: "abc123", Expiry: expiry}); err != nil {
		t.Fatal(err)
	}

	// The watcher invalidates asynchronously, so poll briefly.
	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := reader.Get("https://app.test", "clientID")
		if err != nil {
			t.Fatal(err)
		}
		if got != nil && got.Token == "abc123" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("external write never became visible")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
