package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"siraj/pkg/platform/sentinel"
)

const (
	redisKeyPrefix = "doc:"
	// maxWatchRetries bounds optimistic retries when another writer touches
	// the watched key between WATCH and EXEC.
	maxWatchRetries = 16
)

// RedisStore keeps each document as a hash whose fields hold JSON-encoded
// values, so a merge is a plain HSET of the touched fields. A set per
// collection indexes document ids for Query and Count.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func docKey(collection, id string) string {
	return redisKeyPrefix + collection + ":" + id
}

func indexKey(collection string) string {
	return redisKeyPrefix + collection
}

func (s *RedisStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := validateKey(collection, id); err != nil {
		return nil, err
	}
	vals, err := s.client.HGetAll(ctx, docKey(collection, id)).Result()
	if err != nil {
		return nil, unavailable("redis get", err)
	}
	if len(vals) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return decodeHash(vals)
}

func (s *RedisStore) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	fields, err := normalize(data)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if !merge {
			pipe.Del(ctx, docKey(collection, id))
		}
		return queueWrite(ctx, pipe, collection, id, fields)
	})
	if err != nil {
		return unavailable("redis set", err)
	}
	return nil
}

// ConditionalSet uses WATCH/MULTI/EXEC: the precondition is evaluated against
// the watched hash and the write only commits if nobody modified it meanwhile.
// A concurrent modification re-runs the check against the fresh state, so
// losers observe the winner's write and report sentinel.ErrConflict.
func (s *RedisStore) ConditionalSet(ctx context.Context, collection, id string, data map[string]any, pre Precondition) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	fields, err := normalize(data)
	if err != nil {
		return err
	}
	key := docKey(collection, id)

	txf := func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		var current Document
		if len(vals) > 0 {
			if current, err = decodeHash(vals); err != nil {
				return err
			}
		}
		if !pre.holds(current) {
			return sentinel.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return queueWrite(ctx, pipe, collection, id, fields)
		})
		return err
	}

	for range maxWatchRetries {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, sentinel.ErrConflict):
			return sentinel.ErrConflict
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return unavailable("redis conditional set", err)
		}
	}
	return unavailable("redis conditional set", fmt.Errorf("gave up after %d contended attempts", maxWatchRetries))
}

func (s *RedisStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	docs, err := s.loadCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	return applyQuery(docs, q), nil
}

func (s *RedisStore) Delete(ctx context.Context, collection, id string) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, docKey(collection, id))
		pipe.SRem(ctx, indexKey(collection), id)
		return nil
	})
	if err != nil {
		return unavailable("redis delete", err)
	}
	return nil
}

func (s *RedisStore) Count(ctx context.Context, collection string, filters ...Filter) (int, error) {
	if len(filters) == 0 {
		n, err := s.client.SCard(ctx, indexKey(collection)).Result()
		if err != nil {
			return 0, unavailable("redis count", err)
		}
		return int(n), nil
	}
	docs, err := s.loadCollection(ctx, collection)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, doc := range docs {
		if matchesAll(doc, filters) {
			n++
		}
	}
	return n, nil
}

func (s *RedisStore) loadCollection(ctx context.Context, collection string) ([]Document, error) {
	ids, err := s.client.SMembers(ctx, indexKey(collection)).Result()
	if err != nil {
		return nil, unavailable("redis query", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, docKey(collection, id))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("redis query", err)
	}

	docs := make([]Document, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		// Index entries can briefly outlive a deleted hash.
		if len(vals) == 0 {
			continue
		}
		doc, err := decodeHash(vals)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func queueWrite(ctx context.Context, pipe redis.Pipeliner, collection, id string, fields map[string]any) error {
	key := docKey(collection, id)
	values := make([]any, 0, 2*len(fields)+2)
	var removed []string
	for k, v := range fields {
		if k == FieldID {
			continue
		}
		if v == nil {
			removed = append(removed, k)
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode field %q: %w", k, err)
		}
		values = append(values, k, string(raw))
	}
	idRaw, _ := json.Marshal(id)
	values = append(values, FieldID, string(idRaw))

	if len(removed) > 0 {
		pipe.HDel(ctx, key, removed...)
	}
	pipe.HSet(ctx, key, values...)
	pipe.SAdd(ctx, indexKey(collection), id)
	return nil
}

func decodeHash(vals map[string]string) (Document, error) {
	doc := make(Document, len(vals))
	for k, raw := range vals {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode field %q: %w", k, err)
		}
		doc[k] = v
	}
	return doc, nil
}
