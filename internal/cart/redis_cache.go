package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/storefront/internal/domain"
)

const (
	maxJitter     = 5 * time.Minute
	generationTTL = 24 * time.Hour
)

// fillScript writes the cart only while the generation still matches the
// one the caller read before loading it.
var fillScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2])
if (gen or '0') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// RedisCache holds read-through copies of carts. Entries live for the base
// TTL plus up to five minutes of jitter so a burst of writes does not expire
// together. Each account has a generation counter next to its entry; both
// keys share a hash tag so the fill script stays on one slot.
type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func NewRedisCache(client *redis.Client, baseTTL time.Duration) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: baseTTL,
	}
}

func (r *RedisCache) Get(ctx context.Context, accountID string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}

	return &cart, nil
}

func (r *RedisCache) Generation(ctx context.Context, accountID string) (int64, error) {
	gen, err := r.client.Get(ctx, generationKey(accountID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation failed: %w", err)
	}

	return gen, nil
}

// Set stores cart unless the account was invalidated since generation was
// read, in which case it returns ErrStaleFill and writes nothing.
func (r *RedisCache) Set(ctx context.Context, accountID string, cart *domain.Cart, generation int64) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	ttl := r.baseTTL + time.Duration(rand.Int63n(int64(maxJitter)))
	keys := []string{cacheKey(accountID), generationKey(accountID)}

	stored, err := fillScript.Run(ctx, r.client, keys,
		strconv.FormatInt(generation, 10), data, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	if stored == 0 {
		return ErrStaleFill
	}

	return nil
}

// Invalidate drops the cached cart and bumps the generation in one
// transaction.
func (r *RedisCache) Invalidate(ctx context.Context, accountID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(accountID))
		pipe.Expire(ctx, generationKey(accountID), generationTTL)
		pipe.Del(ctx, cacheKey(accountID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate failed: %w", err)
	}

	return nil
}

func cacheKey(accountID string) string {
	return "cart:{" + accountID + "}"
}

func generationKey(accountID string) string {
	return "cart:{" + accountID + "}:gen"
}
