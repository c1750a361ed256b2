package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"

	"github.com/docsync/docsync/ot"
)

// redisDocFields is the wire shape stored in each document's Redis hash,
// decoded with mapstructure the way ssau-fiit's handlers decode HGetAll
// replies into request structs.
type redisDocFields struct {
	Content   string `mapstructure:"content"`
	Version   int    `mapstructure:"version"`
	CreatedAt int64  `mapstructure:"created_at"`
	UpdatedAt int64  `mapstructure:"updated_at"`
}

// RedisStore is a Redis-backed DocumentStore: one hash per document
// (`docsync:doc:{id}`) holding content/version/timestamps, and one list per
// document (`docsync:ops:{id}`) holding its accepted-operation log as
// JSON-encoded ot.Operation values.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) docKey(id string) string { return "docsync:doc:" + id }
func (s *RedisStore) opsKey(id string) string { return "docsync:ops:" + id }

func (s *RedisStore) Create(ctx context.Context, id, content string) error {
	exists, err := s.client.Exists(ctx, s.docKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redis store: check existence of %q: %w", id, err)
	}
	if exists > 0 {
		return fmt.Errorf("document %q already exists", id)
	}
	now := time.Now().Unix()
	return s.client.HSet(ctx, s.docKey(id), map[string]interface{}{
		"content":    content,
		"version":    0,
		"created_at": now,
		"updated_at": now,
	}).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (*DocumentInfo, error) {
	res, err := s.client.HGetAll(ctx, s.docKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: get %q: %w", id, err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("document %q not found", id)
	}

	var fields redisDocFields
	if err := decodeRedisHash(res, &fields); err != nil {
		return nil, fmt.Errorf("redis store: decode %q: %w", id, err)
	}

	return &DocumentInfo{
		ID:        id,
		Content:   fields.Content,
		Version:   fields.Version,
		CreatedAt: time.Unix(fields.CreatedAt, 0),
		UpdatedAt: time.Unix(fields.UpdatedAt, 0),
	}, nil
}

func (s *RedisStore) List(ctx context.Context) ([]DocumentInfo, error) {
	keys, err := s.client.Keys(ctx, "docsync:doc:*").Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: list keys: %w", err)
	}

	result := make([]DocumentInfo, 0, len(keys))
	for _, key := range keys {
		id := key[len("docsync:doc:"):]
		info, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, *info)
	}
	return result, nil
}

func (s *RedisStore) UpdateContent(ctx context.Context, id, content string, version int) error {
	exists, err := s.client.Exists(ctx, s.docKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redis store: check existence of %q: %w", id, err)
	}
	if exists == 0 {
		return fmt.Errorf("document %q not found", id)
	}
	return s.client.HSet(ctx, s.docKey(id), map[string]interface{}{
		"content":    content,
		"version":    version,
		"updated_at": time.Now().Unix(),
	}).Err()
}

func (s *RedisStore) AppendOperation(ctx context.Context, id string, op ot.Operation, version int) error {
	payload, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("redis store: encode operation for %q: %w", id, err)
	}
	if err := s.client.RPush(ctx, s.opsKey(id), payload).Err(); err != nil {
		return fmt.Errorf("redis store: append operation for %q: %w", id, err)
	}
	return s.client.HSet(ctx, s.docKey(id), map[string]interface{}{
		"version":    version,
		"updated_at": time.Now().Unix(),
	}).Err()
}

func (s *RedisStore) GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.Operation, error) {
	raw, err := s.client.LRange(ctx, s.opsKey(id), int64(fromVersion), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: range operations for %q: %w", id, err)
	}
	ops := make([]ot.Operation, len(raw))
	for i, r := range raw {
		if err := json.Unmarshal([]byte(r), &ops[i]); err != nil {
			return nil, fmt.Errorf("redis store: decode operation %d for %q: %w", i, id, err)
		}
	}
	return ops, nil
}

// decodeRedisHash decodes an HGetAll reply (map[string]string) into dst
// using mapstructure, converting the numeric fields go-redis returns as
// strings.
func decodeRedisHash(raw map[string]string, dst interface{}) error {
	m := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			m[k] = n
			continue
		}
		m[k] = v
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           dst,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(m)
}
