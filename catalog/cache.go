package catalog

import (
	"context"
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/rushteam/meeplekit/core"
)

// CachedCatalog 在任意 CatalogStore 外加一层 core.Store JSON 缓存。
//
// 缓存策略：
//   - Game 实体：key "catalog:game:<id>"，BatchGet/BatchSet 减少往返
//   - registry 集合：key "catalog:registry:<name>"
//   - 未命中直接回源；回源缺席的 ID 不做负缓存，下次继续回源
//   - 分面列表与筛选项枚举不缓存，直接透传
type CachedCatalog struct {
	inner core.CatalogStore
	cache core.Store
	ttl   int // 秒，<= 0 表示不过期
}

var _ core.CatalogStore = (*CachedCatalog)(nil)

// NewCachedCatalog 创建带缓存的目录。cache 的生命周期由调用方管理。
func NewCachedCatalog(inner core.CatalogStore, cache core.Store, ttlSeconds int) *CachedCatalog {
	return &CachedCatalog{inner: inner, cache: cache, ttl: ttlSeconds}
}

func (c *CachedCatalog) Name() string {
	return "cached:" + c.inner.Name()
}

func gameKey(id int64) string {
	return "catalog:game:" + strconv.FormatInt(id, 10)
}

func registryKey(name string) string {
	return "catalog:registry:" + name
}

func (c *CachedCatalog) GetGame(ctx context.Context, id int64) (*core.Game, error) {
	if raw, err := c.cache.Get(ctx, gameKey(id)); err == nil {
		var g core.Game
		if err := json.Unmarshal(raw, &g); err == nil {
			return &g, nil
		}
		// 缓存内容损坏，删除后回源
		_ = c.cache.Delete(ctx, gameKey(id))
	}

	g, err := c.inner.GetGame(ctx, id)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(g); err == nil {
		_ = c.cache.Set(ctx, gameKey(id), raw, c.ttl)
	}
	return g, nil
}

func (c *CachedCatalog) GetGamesByIDs(ctx context.Context, ids []int64) (map[int64]*core.Game, error) {
	out := make(map[int64]*core.Game, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, gameKey(id))
	}
	cached, err := c.cache.BatchGet(ctx, keys)
	if err != nil {
		cached = nil // 缓存故障降级为全量回源
	}

	var misses []int64
	for _, id := range ids {
		raw, ok := cached[gameKey(id)]
		if !ok {
			misses = append(misses, id)
			continue
		}
		var g core.Game
		if err := json.Unmarshal(raw, &g); err != nil {
			misses = append(misses, id)
			continue
		}
		out[id] = &g
	}
	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := c.inner.GetGamesByIDs(ctx, misses)
	if err != nil {
		return nil, err
	}
	fill := make(map[string][]byte, len(fetched))
	for id, g := range fetched {
		out[id] = g
		if raw, err := json.Marshal(g); err == nil {
			fill[gameKey(id)] = raw
		}
	}
	if len(fill) > 0 {
		_ = c.cache.BatchSet(ctx, fill, c.ttl)
	}
	return out, nil
}

func (c *CachedCatalog) GetRegistry(ctx context.Context, name string) (map[int64]struct{}, error) {
	if raw, err := c.cache.Get(ctx, registryKey(name)); err == nil {
		var ids []int64
		if err := json.Unmarshal(raw, &ids); err == nil {
			set := make(map[int64]struct{}, len(ids))
			for _, id := range ids {
				set[id] = struct{}{}
			}
			return set, nil
		}
		_ = c.cache.Delete(ctx, registryKey(name))
	}

	set, err := c.inner.GetRegistry(ctx, name)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	if raw, err := json.Marshal(ids); err == nil {
		_ = c.cache.Set(ctx, registryKey(name), raw, c.ttl)
	}
	return set, nil
}

func (c *CachedCatalog) ListGames(ctx context.Context, q *core.GameQuery) ([]*core.Game, error) {
	return c.inner.ListGames(ctx, q)
}

func (c *CachedCatalog) FilterOptions(ctx context.Context) (*core.FilterOptions, error) {
	return c.inner.FilterOptions(ctx)
}

// InvalidateGame 删除指定桌游的缓存（目录数据更新后调用）。
func (c *CachedCatalog) InvalidateGame(ctx context.Context, id int64) error {
	if err := c.cache.Delete(ctx, gameKey(id)); err != nil && !core.IsStoreNotFound(err) {
		return fmt.Errorf("invalidate game %d: %w", id, err)
	}
	return nil
}

func (c *CachedCatalog) Close() error {
	return c.inner.Close()
}
