package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"

	"kasirinaja/settlement/internal/domain"
	"kasirinaja/settlement/internal/store"
	"kasirinaja/settlement/internal/xid"
)

// RedisHeldSaleStore stores each held sale under its own key with a TTL
// matching ExpiresAt, plus a per-terminal sorted set ordered by hold time.
type RedisHeldSaleStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisHeldSaleStore(addr string, password string, db int) *RedisHeldSaleStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisHeldSaleStore{client: client, now: func() time.Time { return time.Now().UTC() }}
}

func (c *RedisHeldSaleStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisHeldSaleStore) Close() error {
	return c.client.Close()
}

func (c *RedisHeldSaleStore) CreateHeldSale(ctx context.Context, held domain.HeldSale) (*domain.HeldSale, error) {
	if held.BranchID == "" || held.TerminalID == "" || len(held.Cart.Lines) == 0 {
		return nil, store.ErrInvalidRecord
	}
	if held.ID == "" {
		held.ID = xid.New("held")
	}
	if held.HeldAt.IsZero() {
		held.HeldAt = c.now()
	}

	var ttl time.Duration
	if held.ExpiresAt != nil {
		ttl = held.ExpiresAt.Sub(c.now())
		if ttl <= 0 {
			return nil, store.ErrInvalidRecord
		}
	}

	payload, err := json.Marshal(held)
	if err != nil {
		return nil, err
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, heldKey(held.BranchID, held.ID), payload, ttl)
		pipe.ZAdd(ctx, heldIndexKey(held.BranchID, held.TerminalID), redis.Z{
			Score:  float64(held.HeldAt.UnixMilli()),
			Member: held.ID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	saved := held
	return &saved, nil
}

// ListHeldSales returns the newest entries first. Index members whose key
// already expired are pruned as they are found.
func (c *RedisHeldSaleStore) ListHeldSales(ctx context.Context, branchID string, terminalID string, limit int) ([]domain.HeldSale, error) {
	if limit < 1 {
		limit = 200
	}
	indexKey := heldIndexKey(branchID, terminalID)
	ids, err := c.client.ZRevRange(ctx, indexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.HeldSale{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = heldKey(branchID, id)
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	helds := make([]domain.HeldSale, 0, len(values))
	stale := make([]any, 0)
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var held domain.HeldSale
		if err := json.Unmarshal([]byte(raw), &held); err != nil {
			return nil, err
		}
		helds = append(helds, held)
	}
	if len(stale) > 0 {
		if err := c.client.ZRem(ctx, indexKey, stale...).Err(); err != nil {
			log.Printf("[redis-held] WARN: prune %d expired entries from %s: %v", len(stale), indexKey, err)
		}
	}
	return helds, nil
}

// PopHeldSale relies on GETDEL so that two concurrent recalls of the same
// id cannot both succeed.
func (c *RedisHeldSaleStore) PopHeldSale(ctx context.Context, branchID string, id string) (*domain.HeldSale, error) {
	raw, err := c.client.GetDel(ctx, heldKey(branchID, id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var held domain.HeldSale
	if err := json.Unmarshal([]byte(raw), &held); err != nil {
		return nil, err
	}
	if err := c.client.ZRem(ctx, heldIndexKey(held.BranchID, held.TerminalID), held.ID).Err(); err != nil {
		log.Printf("[redis-held] WARN: drop %s from index: %v", held.ID, err)
	}

	if held.ExpiresAt != nil && !c.now().Before(*held.ExpiresAt) {
		return nil, store.ErrNotFound
	}
	return &held, nil
}
