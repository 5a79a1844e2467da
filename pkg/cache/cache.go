package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get for absent or expired keys.
var ErrCacheMiss = errors.New("cache: key not found")

// Service is the hot-read cache for prices, decisions and indicator
// snapshots, plus the short leases that keep aggregation units exclusive.
// Values are stored JSON encoded; strings and byte slices are stored as-is.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	MGet(ctx context.Context, keys ...string) (map[string]string, error)
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// MGetTyped decodes every present key into T. Entries that do not decode are
// treated as misses.
func MGetTyped[T any](ctx context.Context, c Service, keys ...string) (map[string]T, error) {
	out := make(map[string]T, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	raw, err := c.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}
	for k, v := range raw {
		var obj T
		if decode(v, &obj) == nil {
			out[k] = obj
		}
	}
	return out, nil
}

func encode(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	b, err := json.Marshal(value)
	return string(b), err
}

func decode(data string, dest interface{}) error {
	switch d := dest.(type) {
	case *string:
		*d = data
	case *[]byte:
		*d = []byte(data)
	default:
		return json.Unmarshal([]byte(data), dest)
	}
	return nil
}
