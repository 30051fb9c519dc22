// internal/cache/memory.go
//
// In-memory response cache for the public read endpoints.
// Entries carry tags ("posts", "post:<slug>", "archive"); a write to a post
// invalidates every entry that could show it by tag, so readers never see
// a stale listing after a mutation.
//
// Characteristics:
//   - Concurrency-safe via RWMutex (concurrent reads allowed, writes exclusive).
//   - Every tag has a generation bumped by Invalidate. A reader takes
//     Version before loading from the database and stores with SetIfCurrent,
//     so a response built before a concurrent mutation is never cached.
//   - Entries also expire after a TTL as a backstop.
//   - State is lost when the process restarts.

package cache

import (
	"context"
	"sync"
	"time"
)

// Tag names shared by the read and write paths.
const (
	TagPosts   = "posts"
	TagArchive = "archive"
)

// PostTag is the tag for pages that show the post with this slug.
func PostTag(slug string) string { return "post:" + slug }

// Store caches encoded responses by key.
type Store interface {
	// Get returns the cached bytes for key, if present and fresh.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores val under key, tagged with tags.
	Set(ctx context.Context, key string, val []byte, tags ...string)

	// Version is a token for the current generation of tags.
	Version(ctx context.Context, tags ...string) uint64

	// SetIfCurrent stores val like Set, unless any of tags was invalidated
	// since ver was taken. It reports whether val was stored.
	SetIfCurrent(ctx context.Context, key string, val []byte, ver uint64, tags ...string) bool

	// Invalidate drops every entry carrying any of tags and returns how many went.
	Invalidate(ctx context.Context, tags ...string) int
}

type entry struct {
	val     []byte
	tags    []string
	expires time.Time
}

// memory is a map-backed Store with a tag index.
type memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	byTag   map[string]map[string]struct{} // tag -> keys
	gen     map[string]uint64              // tag -> invalidation count
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore returns a Store whose entries live at most ttl.
// A non-positive ttl keeps entries until invalidated.
func NewMemoryStore(ttl time.Duration) Store {
	return newMemory(ttl, time.Now)
}

func newMemory(ttl time.Duration, now func() time.Time) *memory {
	return &memory{
		entries: make(map[string]entry),
		byTag:   make(map[string]map[string]struct{}),
		gen:     make(map[string]uint64),
		ttl:     ttl,
		now:     now,
	}
}

func (m *memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		m.mu.Lock()
		if cur, ok := m.entries[key]; ok && cur.expires.Equal(e.expires) {
			m.removeLocked(key)
		}
		m.mu.Unlock()
		return nil, false
	}
	return e.val, true
}

func (m *memory) Set(_ context.Context, key string, val []byte, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeLocked(key, val, tags)
}

func (m *memory) Version(_ context.Context, tags ...string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versionLocked(tags)
}

func (m *memory) SetIfCurrent(_ context.Context, key string, val []byte, ver uint64, tags ...string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.versionLocked(tags) != ver {
		return false
	}
	m.storeLocked(key, val, tags)
	return true
}

// versionLocked sums the tag generations. They only grow, so the sum
// changes whenever any of them does.
func (m *memory) versionLocked(tags []string) uint64 {
	var v uint64
	for _, t := range tags {
		v += m.gen[t]
	}
	return v
}

func (m *memory) storeLocked(key string, val []byte, tags []string) {
	e := entry{val: val, tags: tags}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.removeLocked(key)
	m.entries[key] = e
	for _, t := range tags {
		keys, ok := m.byTag[t]
		if !ok {
			keys = make(map[string]struct{})
			m.byTag[t] = keys
		}
		keys[key] = struct{}{}
	}
}

func (m *memory) Invalidate(_ context.Context, tags ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range tags {
		m.gen[t]++
		for key := range m.byTag[t] {
			if m.removeLocked(key) {
				n++
			}
		}
		delete(m.byTag, t)
	}
	return n
}

// removeLocked drops key and its tag index entries. m.mu must be held.
func (m *memory) removeLocked(key string) bool {
	e, ok := m.entries[key]
	if !ok {
		return false
	}
	delete(m.entries, key)
	for _, t := range e.tags {
		if keys := m.byTag[t]; keys != nil {
			delete(keys, key)
			if len(keys) == 0 {
				delete(m.byTag, t)
			}
		}
	}
	return true
}
