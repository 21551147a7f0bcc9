// Package kvstore provides the share server's durable state, backed by
// a single bbolt database file.
//
// Two kinds of data live here, both keyed by shareName: the share
// record (session id plus write secret) and the session's key-value
// entries. Entries remember the order in which keys were first
// inserted, because viewer backlog replay promises insertion order,
// not lexicographic order.
package kvstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	bolt "go.etcd.io/bbolt"
)

// ErrNotFound indicates the share or entry does not exist.
var ErrNotFound = errors.New("not found")

var (
	bucketShares  = []byte("shares")
	bucketEntries = []byte("entries")
	bucketOrder   = []byte("order")
)

// ShareRecord is the durable identity of one share. The secret is
// written once at share creation and never rotated; clear destroys the
// session's entries but keeps the record so the shareName stays owned.
type ShareRecord struct {
	ShareName string `json:"shareName"`
	SessionID string `json:"sessionID"`
	Secret    string `json:"secret"`
	Created   int64  `json:"created"`
}

// Entry is one stored key-value pair of a share.
type Entry struct {
	Key     string
	Content json.RawMessage
}

// Store is a bbolt-backed store for share records and session entries.
// bbolt serializes writers internally; the per-share coordinator actor
// is the only writer for its shareName, so no additional locking is
// needed here.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the database under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "sharesync.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketShares, bucketEntries, bucketOrder} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetShare returns the record for shareName, or ErrNotFound.
func (s *Store) GetShare(shareName string) (*ShareRecord, error) {
	var record ShareRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketShares).Get([]byte(shareName))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// PutShare stores a share record, overwriting any existing one.
func (s *Store) PutShare(record *ShareRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketShares).Put([]byte(record.ShareName), data)
	})
}

// HasShare reports whether a record exists for shareName.
func (s *Store) HasShare(shareName string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketShares).Get([]byte(shareName)) != nil
		return nil
	})
	return found, err
}

// DeleteShare removes the record and every entry of shareName. Unlike
// clear, which keeps the record, this is full destruction; exposed for
// operator tooling.
func (s *Store) DeleteShare(shareName string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketShares).Delete([]byte(shareName)); err != nil {
			return err
		}
		return dropEntryBuckets(tx, shareName)
	})
}

// PutEntry stores content under key for shareName. A key keeps its
// original insertion position when overwritten, so replays show the
// latest content at the earliest position, matching what an attached
// viewer observed over time.
func (s *Store) PutEntry(shareName, key string, content []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		entries, err := tx.Bucket(bucketEntries).CreateBucketIfNotExists([]byte(shareName))
		if err != nil {
			return err
		}
		order, err := tx.Bucket(bucketOrder).CreateBucketIfNotExists([]byte(shareName))
		if err != nil {
			return err
		}

		if entries.Get([]byte(key)) == nil {
			seq, err := order.NextSequence()
			if err != nil {
				return err
			}
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], seq)
			if err := order.Put(buf[:], []byte(key)); err != nil {
				return err
			}
		}

		return entries.Put([]byte(key), content)
	})
}

// GetEntry returns the content stored under key, or ErrNotFound.
func (s *Store) GetEntry(shareName, key string) (json.RawMessage, error) {
	var content []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		entries := tx.Bucket(bucketEntries).Bucket([]byte(shareName))
		if entries == nil {
			return ErrNotFound
		}
		data := entries.Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		// bbolt memory is only valid inside the transaction
		content = make([]byte, len(data))
		copy(content, data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

// ListEntries returns every entry of shareName whose key begins with
// prefix, in first-insertion order. An empty prefix returns everything.
func (s *Store) ListEntries(shareName, prefix string) ([]Entry, error) {
	var result []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		entries := tx.Bucket(bucketEntries).Bucket([]byte(shareName))
		order := tx.Bucket(bucketOrder).Bucket([]byte(shareName))
		if entries == nil || order == nil {
			return nil
		}

		c := order.Cursor()
		for seq, key := c.First(); seq != nil; seq, key = c.Next() {
			if !strings.HasPrefix(string(key), prefix) {
				continue
			}
			data := entries.Get(key)
			if data == nil {
				continue
			}
			content := make([]byte, len(data))
			copy(content, data)
			result = append(result, Entry{Key: string(key), Content: content})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteEntries removes every entry of shareName whose key begins with
// prefix. An empty prefix drops all entries and resets the insertion
// sequence.
func (s *Store) DeleteEntries(shareName, prefix string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if prefix == "" {
			return dropEntryBuckets(tx, shareName)
		}

		entries := tx.Bucket(bucketEntries).Bucket([]byte(shareName))
		order := tx.Bucket(bucketOrder).Bucket([]byte(shareName))
		if entries == nil || order == nil {
			return nil
		}

		c := order.Cursor()
		for seq, key := c.First(); seq != nil; seq, key = c.Next() {
			if !strings.HasPrefix(string(key), prefix) {
				continue
			}
			if err := entries.Delete(key); err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// dropEntryBuckets removes the per-share entry and order buckets.
func dropEntryBuckets(tx *bolt.Tx, shareName string) error {
	name := []byte(shareName)
	if err := tx.Bucket(bucketEntries).DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
		return err
	}
	if err := tx.Bucket(bucketOrder).DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
		return err
	}
	return nil
}
