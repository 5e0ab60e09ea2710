package cache

import (
	"sync"
	"time"
)

// Provider is an interface for a cache provider.
// It stores and retrieves response entries with independent expiry times.
//
// Implementations must be thread-safe!
type Provider interface {
	// Get returns the cached entry for the given key, if it exists.
	// It also returns a boolean indicating whether retrieval was successful.
	// If the cache entry has expired, the boolean must be false:
	// expired entries look exactly like absent ones to callers.
	// (In this case, the cache provider should also purge the entry.)
	Get(key string) (Entry, bool)
	// Put stores the given entry in the cache under the given key,
	// unconditionally overwriting any prior entry for that key.
	Put(key string, entry Entry)
	// Purge removes the cache entry for the given key.
	// It is a utility method not used on the normal request path.
	Purge(key string)
}

// Entry is a cached upstream response.
// Entries are immutable once stored.
type Entry struct {
	// Body holds the raw upstream response bytes, before any charset
	// conversion.
	Body []byte
	// ContentType as reported by the upstream server.
	ContentType string
	// ContentLength as reported by the upstream. Equals len(Body) for
	// full fetches; for metadata-only probes the body is not
	// downloaded and this is the header-reported length, -1 when the
	// upstream does not report one.
	ContentLength int64
	// StatusCode of the upstream response.
	StatusCode int
	// FinalURL is the upstream URL after following redirects.
	FinalURL string
	// FetchedAt is the time of the successful upstream fetch.
	FetchedAt time.Time
	// TTL is the duration after which the entry is stale.
	TTL time.Duration
}

// Expired reports whether the entry is stale at the given time.
// An entry is valid for reads iff now < FetchedAt + TTL.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.FetchedAt.Add(e.TTL))
}

type MemCache struct {
	mutex *sync.Mutex
	db    map[string]Entry
}

// NewMemCache creates an empty in-memory cache.
// Cache contents live and die with the process.
func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.Mutex{},
		db:    make(map[string]Entry),
	}
}

func (m MemCache) Get(key string) (Entry, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	entry, ok := m.db[key]
	if !ok {
		return Entry{}, false
	}
	if entry.Expired(time.Now()) {
		delete(m.db, key)
		return Entry{}, false
	}
	return entry, true
}

func (m MemCache) Put(key string, entry Entry) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[key] = entry
}

func (m MemCache) Purge(key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, key)
}

// Len returns the number of stored entries, expired ones included.
func (m MemCache) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.db)
}
