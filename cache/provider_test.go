package cache

import (
	"path/filepath"
	"testing"
	"time"
)

func testEntry(body string, ttl time.Duration) Entry {
	return Entry{
		Body:          []byte(body),
		ContentType:   "text/plain",
		ContentLength: int64(len(body)),
		StatusCode:    200,
		FinalURL:      "http://example.com/",
		FetchedAt:     time.Now(),
		TTL:           ttl,
	}
}

func TestEntryExpiry(t *testing.T) {
	fetched := time.Now()
	entry := Entry{FetchedAt: fetched, TTL: time.Minute}

	if entry.Expired(fetched.Add(59 * time.Second)) {
		t.Fatal("Entry expired before its TTL elapsed")
	}
	// valid iff now < fetchedAt + ttl, so the boundary itself is stale
	if !entry.Expired(fetched.Add(time.Minute)) {
		t.Fatal("Entry still valid at the TTL boundary")
	}
}

func TestMemCacheRoundTrip(t *testing.T) {
	c := NewMemCache()
	c.Put("key", testEntry("Hello world", time.Minute))

	entry, ok := c.Get("key")
	if !ok {
		t.Fatal("Entry not found")
	}
	if string(entry.Body) != "Hello world" {
		t.Fatalf("Body is %s", entry.Body)
	}
	if entry.StatusCode != 200 || entry.ContentType != "text/plain" {
		t.Fatalf("Entry is %+v", entry)
	}
}

func TestMemCacheMissingKey(t *testing.T) {
	c := NewMemCache()
	if _, ok := c.Get("nope"); ok {
		t.Fatal("Found entry for missing key")
	}
}

func TestMemCacheExpiredIsAbsent(t *testing.T) {
	c := NewMemCache()
	c.Put("key", testEntry("Hello world", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("key"); ok {
		t.Fatal("Expired entry still served")
	}
	// lazily evicted on lookup
	if c.Len() != 0 {
		t.Fatalf("Cache has %d entries", c.Len())
	}
}

func TestMemCacheOverwrite(t *testing.T) {
	c := NewMemCache()
	c.Put("key", testEntry("old", time.Minute))
	c.Put("key", testEntry("new", time.Minute))

	entry, ok := c.Get("key")
	if !ok || string(entry.Body) != "new" {
		t.Fatalf("Entry is %+v", entry)
	}
}

func TestMemCachePurge(t *testing.T) {
	c := NewMemCache()
	c.Put("key", testEntry("Hello world", time.Minute))
	c.Purge("key")

	if _, ok := c.Get("key"); ok {
		t.Fatal("Purged entry still served")
	}
}

func TestSQLiteCacheRoundTrip(t *testing.T) {
	c := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	want := testEntry("Hello world", time.Minute)
	c.Put("key", want)

	entry, ok := c.Get("key")
	if !ok {
		t.Fatal("Entry not found")
	}
	if string(entry.Body) != "Hello world" {
		t.Fatalf("Body is %s", entry.Body)
	}
	if entry.StatusCode != want.StatusCode ||
		entry.ContentType != want.ContentType ||
		entry.ContentLength != want.ContentLength ||
		entry.FinalURL != want.FinalURL ||
		entry.TTL != want.TTL {
		t.Fatalf("Entry is %+v", entry)
	}
}

func TestSQLiteCacheExpiredIsAbsent(t *testing.T) {
	c := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	c.Put("key", testEntry("Hello world", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("key"); ok {
		t.Fatal("Expired entry still served")
	}
}

func TestSQLiteCacheOverwriteAndPurge(t *testing.T) {
	c := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	c.Put("key", testEntry("old", time.Minute))
	c.Put("key", testEntry("new", time.Minute))

	entry, ok := c.Get("key")
	if !ok || string(entry.Body) != "new" {
		t.Fatalf("Entry is %+v", entry)
	}

	c.Purge("key")
	if _, ok := c.Get("key"); ok {
		t.Fatal("Purged entry still served")
	}
}
