// Package store is the local peer-storage index: blob_key -> announcements,
// with TTL-based expiry (SPEC_FULL.md §3, §4.7). Grounded on
// original_source/lbrynet/dht/protocol/data_store.py; the optional
// persisted-snapshot path is grounded on the teacher's goleveldb usage in
// the bzz package (NewLDBDatabase/LDBDatabase in bzz/api.go).
package store

import (
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/lbryio/go-dht/bits"
)

// Announcement is one peer's claim to host a blob, per SPEC_FULL.md §3.
type Announcement struct {
	AnnouncingPeerID    bits.ID
	CompactTCPAddress   []byte
	LastPublished       time.Time
	OriginallyPublished time.Time
	OriginalPublisherID bits.ID
}

func (a Announcement) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(a.LastPublished) > ttl
}

// Store is the in-memory announcement index, with an optional goleveldb
// snapshot for restart continuity, opened through Open. The dht node facade
// and the tests use the in-memory form from New.
type Store struct {
	mu   sync.RWMutex
	data map[bits.ID][]Announcement

	db  *leveldb.DB // nil unless a persisted snapshot was opened
	ttl time.Duration
}

// New constructs an in-memory Store with the given announcement TTL
// (data_expiration, 24h default).
func New(ttl time.Duration) *Store {
	return &Store{data: make(map[bits.ID][]Announcement), ttl: ttl}
}

// Open constructs a Store backed by a goleveldb snapshot at path, loading
// any previously-persisted announcements.
func Open(path string, ttl time.Duration) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	s := New(ttl)
	s.db = db
	if err := s.loadSnapshot(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying snapshot, if any.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Store records (or refreshes) an announcement for key.
func (s *Store) Store(key bits.ID, ann Announcement) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.data[key]
	for i, existing := range list {
		if existing.AnnouncingPeerID.Equal(ann.AnnouncingPeerID) {
			list[i] = ann
			s.data[key] = list
			s.persistLocked(key)
			return
		}
	}
	s.data[key] = append(list, ann)
	s.persistLocked(key)
}

// Find returns the non-expired announcements for key.
func (s *Store) Find(key bits.ID, now time.Time) []Announcement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Announcement
	for _, ann := range s.data[key] {
		if !ann.expired(now, s.ttl) {
			out = append(out, ann)
		}
	}
	return out
}

// HasAny reports whether key has at least one non-expired announcement.
func (s *Store) HasAny(key bits.ID, now time.Time) bool {
	return len(s.Find(key, now)) > 0
}

// Keys returns every key the store currently has announcements for
// (expired or not). The refresh loop's expiry sweep uses ExpireStale.
func (s *Store) Keys() []bits.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bits.ID, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	return out
}

// ExpireStale drops every announcement older than the TTL, and removes keys
// left with no announcements at all (SPEC_FULL.md §4.7).
func (s *Store) ExpireStale(now time.Time) (keysRemoved int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, list := range s.data {
		var live []Announcement
		for _, ann := range list {
			if !ann.expired(now, s.ttl) {
				live = append(live, ann)
			}
		}
		if len(live) == 0 {
			delete(s.data, key)
			keysRemoved++
			s.deletePersistedLocked(key)
		} else {
			s.data[key] = live
			s.persistLocked(key)
		}
	}
	return keysRemoved
}
