// internal/docstore/bolt.go
package docstore

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltStore keeps each collection in its own bucket, keyed by the bucket
// sequence so iteration order is insertion order.
type BoltStore struct {
	db   *bolt.DB
	once sync.Once
}

// NewBoltStore opens (or creates) a bbolt file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if path == "" {
		return nil, errors.New("bolt path is required")
	}

	cleaned := filepath.Clean(path)
	if dir := filepath.Dir(cleaned); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := bolt.Open(cleaned, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) EnsureCollection(ctx context.Context, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
}

func (s *BoltStore) InsertOne(ctx context.Context, collection string, doc Document) (string, error) {
	id := newID(doc)
	payload, err := encode(withID(doc, id))
	if err != nil {
		return "", err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), payload)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *BoltStore) Find(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	want, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}

	result := []Document{}
	err = s.db.View(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			doc, err := decode(v)
			if err != nil {
				return err
			}
			if matches(doc, want) {
				result = append(result, doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BoltStore) FindOneAndReplace(ctx context.Context, collection string, filter Filter, doc Document) (Document, error) {
	want, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}

	var previous Document
	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := tx.Bucket([]byte(collection))
		key, found, err := firstMatch(b, want)
		if err != nil {
			return err
		}
		payload, err := encode(withID(doc, found.ID()))
		if err != nil {
			return err
		}
		previous = found
		return b.Put(key, payload)
	})
	if err != nil {
		return nil, err
	}
	return previous, nil
}

func (s *BoltStore) FindOneAndDelete(ctx context.Context, collection string, filter Filter) (Document, error) {
	want, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}

	var removed Document
	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := tx.Bucket([]byte(collection))
		key, found, err := firstMatch(b, want)
		if err != nil {
			return err
		}
		removed = found
		return b.Delete(key)
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *BoltStore) DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error) {
	want, err := normalizeFilter(filter)
	if err != nil {
		return 0, err
	}

	var count int64
	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		var keys [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			doc, err := decode(v)
			if err != nil {
				return err
			}
			if matches(doc, want) {
				keys = append(keys, append([]byte{}, k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		count = int64(len(keys))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Close shuts down the Bolt DB.
func (s *BoltStore) Close() error {
	var err error
	s.once.Do(func() {
		err = s.db.Close()
	})
	return err
}

func firstMatch(b *bolt.Bucket, want Filter) ([]byte, Document, error) {
	if b == nil {
		return nil, nil, ErrNoDocuments
	}
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		doc, err := decode(v)
		if err != nil {
			return nil, nil, err
		}
		if matches(doc, want) {
			return append([]byte{}, k...), doc, nil
		}
	}
	return nil, nil, ErrNoDocuments
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
