// Package blobstore is a reference collab.BlobStorage implementation backed
// by goleveldb, for cmd/dhtnode and integration tests. Schema grounded on
// original_source/lbrynet/storage.py's blob table (blob_hash,
// next_announce_time, status='finished'); persistence idiom grounded on
// store/persist.go's per-key gob encoding.
package blobstore

import (
	"bytes"
	"encoding/gob"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/lbryio/go-dht/bits"
)

// record mirrors one row of the original's blob table, trimmed to the
// fields the DHT collaborator interface needs.
type record struct {
	Completed        bool
	NextAnnounceTime time.Time
}

// announceInterval is the original's "next_announce_time = last_announced +
// data_expiration/2" half-life, applied on every UpdateLastAnnounced call.
const announceInterval = 12 * time.Hour

// Store is an in-memory, optionally goleveldb-persisted collab.BlobStorage.
type Store struct {
	mu   sync.Mutex
	data map[bits.ID]record
	db   *leveldb.DB
}

// New constructs an in-memory Store.
func New() *Store {
	return &Store{data: make(map[bits.ID]record)}
}

// Open constructs a Store backed by a goleveldb snapshot at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	s := New()
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

// AddCompletedBlob marks hash as locally servable and due for an immediate
// announcement, the equivalent of the original's add_completed_blob plus
// single_announce=1, next_announce_time=now.
func (s *Store) AddCompletedBlob(hash bits.ID, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[hash] = record{Completed: true, NextAnnounceTime: now}
	s.persistLocked(hash)
}

// BlobsToAnnounce implements collab.BlobStorage.
func (s *Store) BlobsToAnnounce() []bits.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []bits.ID
	for hash, r := range s.data {
		if r.Completed && !r.NextAnnounceTime.After(now) {
			out = append(out, hash)
		}
	}
	return out
}

// UpdateLastAnnounced implements collab.BlobStorage.
func (s *Store) UpdateLastAnnounced(keys []bits.ID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, hash := range keys {
		r, ok := s.data[hash]
		if !ok {
			continue
		}
		r.NextAnnounceTime = at.Add(announceInterval)
		s.data[hash] = r
		s.persistLocked(hash)
	}
}

// IsCompleted implements collab.BlobStorage.
func (s *Store) IsCompleted(hash bits.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[hash].Completed
}

func (s *Store) persistLocked(hash bits.ID) {
	if s.db == nil {
		return
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.data[hash]); err != nil {
		return
	}
	_ = s.db.Put(hash.Bytes(), buf.Bytes(), nil)
}

func (s *Store) loadSnapshot() error {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		hash, err := bits.FromBytes(append([]byte(nil), iter.Key()...))
		if err != nil {
			continue
		}
		var r record
		if err := gob.NewDecoder(bytes.NewReader(iter.Value())).Decode(&r); err != nil {
			continue
		}
		s.data[hash] = r
	}
	return iter.Error()
}
