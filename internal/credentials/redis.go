package credentials

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

const defaultRedisKey = "contenthub:session"

// RedisBackend keeps the session in a single Redis hash.
type RedisBackend struct {
	client *goredis.Client
	key    string
}

// NewRedisBackend stores the session under key (a default is used when empty).
func NewRedisBackend(client *goredis.Client, key string) *RedisBackend {
	key = strings.TrimSpace(key)
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisBackend{client: client, key: key}
}

func (r *RedisBackend) Load(ctx context.Context) (map[string]string, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	values, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("get session hash: %w", err)
	}
	return values, nil
}

// Save applies deletes and sets in one MULTI/EXEC block.
func (r *RedisBackend) Save(ctx context.Context, set map[string]string, del []string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if len(set) == 0 && len(del) == 0 {
		return nil
	}

	pipe := r.client.TxPipeline()
	if len(del) > 0 {
		pipe.HDel(ctx, r.key, del...)
	}
	if len(set) > 0 {
		fields := make(map[string]interface{}, len(set))
		for k, v := range set {
			fields[k] = v
		}
		pipe.HSet(ctx, r.key, fields)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session hash: %w", err)
	}
	return nil
}

func (r *RedisBackend) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
