// internal/docstore/redis.go
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	redisCollectionsKey = "docstore:collections"
	maxWatchRetries     = 32
)

// RedisConfig defines Redis/KeyDB connection settings.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	Database int
}

// RedisStore keeps one JSON string per document plus an ordered id list per
// collection. Replace and delete run as optimistic WATCH transactions.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.Database,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) EnsureCollection(ctx context.Context, name string) error {
	return s.client.SAdd(ctx, redisCollectionsKey, name).Err()
}

func (s *RedisStore) InsertOne(ctx context.Context, collection string, doc Document) (string, error) {
	id := newID(doc)
	payload, err := encode(withID(doc, id))
	if err != nil {
		return "", err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, redisCollectionsKey, collection)
		pipe.Set(ctx, redisDocKey(collection, id), payload, 0)
		pipe.RPush(ctx, redisIDsKey(collection), id)
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *RedisStore) Find(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	want, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	ids, err := s.client.LRange(ctx, redisIDsKey(collection), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	docs, err := loadDocuments(ctx, s.client, collection, ids)
	if err != nil {
		return nil, err
	}

	result := []Document{}
	for _, d := range docs {
		if matches(d.doc, want) {
			result = append(result, d.doc)
		}
	}
	return result, nil
}

func (s *RedisStore) FindOneAndReplace(ctx context.Context, collection string, filter Filter, doc Document) (Document, error) {
	var previous Document
	err := s.watchMatches(ctx, collection, filter, func(tx *redis.Tx, matched []storedDocument) error {
		if len(matched) == 0 {
			return ErrNoDocuments
		}
		first := matched[0]
		payload, err := encode(withID(doc, first.id))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisDocKey(collection, first.id), payload, 0)
			return nil
		})
		if err == nil {
			previous = first.doc
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return previous, nil
}

func (s *RedisStore) FindOneAndDelete(ctx context.Context, collection string, filter Filter) (Document, error) {
	var removed Document
	err := s.watchMatches(ctx, collection, filter, func(tx *redis.Tx, matched []storedDocument) error {
		if len(matched) == 0 {
			return ErrNoDocuments
		}
		first := matched[0]
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, redisIDsKey(collection), 1, first.id)
			pipe.Del(ctx, redisDocKey(collection, first.id))
			return nil
		})
		if err == nil {
			removed = first.doc
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *RedisStore) DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error) {
	var count int64
	err := s.watchMatches(ctx, collection, filter, func(tx *redis.Tx, matched []storedDocument) error {
		if len(matched) == 0 {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, m := range matched {
				pipe.LRem(ctx, redisIDsKey(collection), 1, m.id)
				pipe.Del(ctx, redisDocKey(collection, m.id))
			}
			return nil
		})
		if err == nil {
			count = int64(len(matched))
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Close shuts down the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// multiGetter is satisfied by both *redis.Client and *redis.Tx.
type multiGetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

type storedDocument struct {
	id  string
	doc Document
}

// watchMatches watches the collection's id list and every document in it,
// hands the matches to fn and retries when a concurrent writer got there
// first.
func (s *RedisStore) watchMatches(ctx context.Context, collection string, filter Filter, fn func(tx *redis.Tx, matched []storedDocument) error) error {
	want, err := normalizeFilter(filter)
	if err != nil {
		return err
	}
	idsKey := redisIDsKey(collection)

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			ids, err := tx.LRange(ctx, idsKey, 0, -1).Result()
			if err != nil {
				return err
			}
			if len(ids) > 0 {
				keys := make([]string, len(ids))
				for i, id := range ids {
					keys[i] = redisDocKey(collection, id)
				}
				if err := tx.Watch(ctx, keys...).Err(); err != nil {
					return err
				}
			}
			docs, err := loadDocuments(ctx, tx, collection, ids)
			if err != nil {
				return err
			}
			var matched []storedDocument
			for _, d := range docs {
				if matches(d.doc, want) {
					matched = append(matched, d)
				}
			}
			return fn(tx, matched)
		}, idsKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("docstore: collection %q kept changing during update", collection)
}

func loadDocuments(ctx context.Context, c multiGetter, collection string, ids []string) ([]storedDocument, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisDocKey(collection, id)
	}
	values, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	docs := make([]storedDocument, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// id listed but document already gone
			continue
		}
		doc, err := decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		docs = append(docs, storedDocument{id: ids[i], doc: doc})
	}
	return docs, nil
}

func redisDocKey(collection, id string) string {
	return fmt.Sprintf("docstore:%s:doc:%s", collection, id)
}

func redisIDsKey(collection string) string {
	return fmt.Sprintf("docstore:%s:ids", collection)
}
