package store

import (
	"bytes"
	"encoding/gob"

	"github.com/lbryio/go-dht/bits"
)

// persistLocked writes the current announcement list for key to the
// goleveldb snapshot, if one is open. Called with s.mu already held.
func (s *Store) persistLocked(key bits.ID) {
	if s.db == nil {
		return
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.data[key]); err != nil {
		return // best-effort: an un-persistable snapshot must not break serving
	}
	_ = s.db.Put(key.Bytes(), buf.Bytes(), nil)
}

func (s *Store) deletePersistedLocked(key bits.ID) {
	if s.db == nil {
		return
	}
	_ = s.db.Delete(key.Bytes(), nil)
}

// loadSnapshot populates the in-memory index from the open goleveldb
// snapshot at construction time.
func (s *Store) loadSnapshot() error {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	for iter.Next() {
		keyBytes := append([]byte(nil), iter.Key()...)
		key, err := bits.FromBytes(keyBytes)
		if err != nil {
			continue // skip anything that isn't a well-formed key, rather than fail startup
		}
		var list []Announcement
		if err := gob.NewDecoder(bytes.NewReader(iter.Value())).Decode(&list); err != nil {
			continue
		}
		s.data[key] = list
	}
	return iter.Error()
}
