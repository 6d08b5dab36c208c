package session

import (
	"context"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

// fieldCache is a hash-shaped cache: each key (a downstream session ID) maps
// to a set of string fields. Store uses it to persist a Record's
// scope/principal fields, so a session survives a hub restart when backed by
// Redis, or lives for the process lifetime when backed by the in-memory
// fallback.
type fieldCache struct {
	connectionString string
	inmemory         *sync.Map
	extClient        *redis.Client
}

// KeyExists reports whether a session key has any fields recorded.
func (c *fieldCache) KeyExists(ctx context.Context, key string) (bool, error) {
	if c.inmemory != nil {
		_, ok := c.inmemory.Load(key)
		return ok, nil
	}
	count, err := c.extClient.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Fields returns every field recorded for key.
func (c *fieldCache) Fields(ctx context.Context, key string) (map[string]string, error) {
	if c.inmemory != nil {
		val, ok := c.inmemory.Load(key)
		if ok {
			return val.(map[string]string), nil
		}
		return map[string]string{}, nil
	}
	return c.extClient.HGetAll(ctx, key).Result()
}

// Delete removes one or more session keys entirely.
func (c *fieldCache) Delete(ctx context.Context, key ...string) error {
	if c.inmemory != nil {
		for _, k := range key {
			c.inmemory.Delete(k)
		}
		return nil
	}
	return c.extClient.Del(ctx, key...).Err()
}

// SetField writes a single field under key, creating the key if needed.
func (c *fieldCache) SetField(ctx context.Context, key, field, value string) error {
	if c.inmemory != nil {
		fields, err := c.Fields(ctx, key)
		if err != nil {
			return err
		}
		fields[field] = value
		c.inmemory.Store(key, fields)
		return nil
	}
	return c.extClient.HSet(ctx, key, field, value).Err()
}

// DeleteField removes a single field from key, leaving the rest intact.
func (c *fieldCache) DeleteField(ctx context.Context, key, field string) error {
	if c.inmemory != nil {
		fields, err := c.Fields(ctx, key)
		if err != nil {
			return err
		}
		delete(fields, field)
		c.inmemory.Store(key, fields)
		return nil
	}
	return c.extClient.HDel(ctx, key, field).Err()
}

// Close releases the underlying Redis connection, if any.
func (c *fieldCache) Close() error {
	if c.inmemory != nil {
		return nil
	}
	return c.extClient.Close()
}

// newFieldCache returns a cache that is Redis-backed when a connection
// string option is supplied, and an in-process map otherwise.
func newFieldCache(ctx context.Context, opts ...func(*fieldCache)) (*fieldCache, error) {
	c := &fieldCache{}
	for _, opt := range opts {
		opt(c)
	}
	if c.connectionString != "" {
		parsed, err := redis.ParseURL(c.connectionString)
		if err != nil {
			return c, err
		}
		c.extClient = redis.NewClient(parsed)
		return c, c.extClient.Ping(ctx).Err()
	}
	c.inmemory = &sync.Map{}
	return c, nil
}

// withConnectionString points the cache at a Redis instance,
// "redis://<user>:<pass>@host:6379/<db>".
func withConnectionString(url string) func(c *fieldCache) {
	return func(c *fieldCache) {
		c.inmemory = nil
		c.connectionString = url
	}
}
