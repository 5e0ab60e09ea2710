package cache

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If the file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) SQLiteCache {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		expires INTEGER,
		fetched_at INTEGER,
		ttl INTEGER,
		status INTEGER,
		content_length INTEGER,
		content_type TEXT,
		final_url TEXT,
		body BLOB
	)`)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS expires_idx ON cache (expires)")
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		panic(err)
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}
}

func (s SQLiteCache) Get(key string) (Entry, bool) {
	var entry Entry
	var expires, fetchedAt, ttl int64
	err := s.db.QueryRow(`SELECT expires, fetched_at, ttl, status, content_length, content_type, final_url, body
		FROM cache WHERE key = ?`, key).
		Scan(&expires, &fetchedAt, &ttl, &entry.StatusCode, &entry.ContentLength, &entry.ContentType, &entry.FinalURL, &entry.Body)
	if err != nil {
		return Entry{}, false
	}
	entry.FetchedAt = time.Unix(0, fetchedAt)
	entry.TTL = time.Duration(ttl)
	if entry.Expired(time.Now()) {
		s.Purge(key)
		return Entry{}, false
	}
	return entry, true
}

func (s SQLiteCache) Put(key string, entry Entry) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	expires := entry.FetchedAt.Add(entry.TTL)
	_, err := s.db.Exec(`INSERT OR REPLACE INTO cache
		(key, expires, fetched_at, ttl, status, content_length, content_type, final_url, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key, expires.UnixNano(), entry.FetchedAt.UnixNano(), int64(entry.TTL),
		entry.StatusCode, entry.ContentLength, entry.ContentType, entry.FinalURL, entry.Body)
	if err != nil {
		panic(err)
	}
}

func (s SQLiteCache) Purge(key string) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE key = ?", key)
	if err != nil {
		panic(err)
	}
}
