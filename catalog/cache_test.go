package catalog

import (
	"context"
	"testing"

	"github.com/rushteam/meeplekit/core"
	"github.com/rushteam/meeplekit/store"
)

// countingCatalog 包一层回源计数。
type countingCatalog struct {
	core.CatalogStore
	batchCalls    int
	registryCalls int
}

func (c *countingCatalog) GetGamesByIDs(ctx context.Context, ids []int64) (map[int64]*core.Game, error) {
	c.batchCalls++
	return c.CatalogStore.GetGamesByIDs(ctx, ids)
}

func (c *countingCatalog) GetRegistry(ctx context.Context, name string) (map[int64]struct{}, error) {
	c.registryCalls++
	return c.CatalogStore.GetRegistry(ctx, name)
}

func TestCachedCatalog_BatchGetHitsCache(t *testing.T) {
	inner := &countingCatalog{CatalogStore: testCatalog(t)}
	ms := store.NewMemoryStore()
	defer ms.Close()
	cached := NewCachedCatalog(inner, ms, 0)
	ctx := context.Background()

	first, err := cached.GetGamesByIDs(ctx, []int64{1, 2})
	if err != nil {
		t.Fatalf("GetGamesByIDs: %v", err)
	}
	if len(first) != 2 || inner.batchCalls != 1 {
		t.Fatalf("cold read: %d games, %d backend calls", len(first), inner.batchCalls)
	}

	second, err := cached.GetGamesByIDs(ctx, []int64{1, 2})
	if err != nil {
		t.Fatalf("GetGamesByIDs: %v", err)
	}
	if inner.batchCalls != 1 {
		t.Errorf("warm read went to backend (%d calls)", inner.batchCalls)
	}
	if second[1].Name != first[1].Name || len(second[1].Mechanics) != len(first[1].Mechanics) {
		t.Errorf("cached entity differs: %+v vs %+v", second[1], first[1])
	}

	// 部分命中：只有缺失的 ID 回源
	third, err := cached.GetGamesByIDs(ctx, []int64{1, 3})
	if err != nil {
		t.Fatalf("GetGamesByIDs: %v", err)
	}
	if len(third) != 2 || inner.batchCalls != 2 {
		t.Errorf("partial hit: %d games, %d backend calls", len(third), inner.batchCalls)
	}
}

func TestCachedCatalog_MissingIDNotNegativelyCached(t *testing.T) {
	inner := &countingCatalog{CatalogStore: testCatalog(t)}
	ms := store.NewMemoryStore()
	defer ms.Close()
	cached := NewCachedCatalog(inner, ms, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := cached.GetGamesByIDs(ctx, []int64{999})
		if err != nil {
			t.Fatalf("GetGamesByIDs: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("missing id produced %v", got)
		}
	}
	// 不存在的 ID 每次都回源（没有负缓存）
	if inner.batchCalls != 2 {
		t.Errorf("got %d backend calls, want 2", inner.batchCalls)
	}
}

func TestCachedCatalog_Registry(t *testing.T) {
	inner := &countingCatalog{CatalogStore: testCatalog(t)}
	ms := store.NewMemoryStore()
	defer ms.Close()
	cached := NewCachedCatalog(inner, ms, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		set, err := cached.GetRegistry(ctx, "ranked")
		if err != nil {
			t.Fatalf("GetRegistry: %v", err)
		}
		if len(set) != 3 {
			t.Errorf("got %d ids, want 3", len(set))
		}
	}
	if inner.registryCalls != 1 {
		t.Errorf("registry fetched from backend %d times, want 1", inner.registryCalls)
	}
}

func TestCachedCatalog_CorruptEntryFallsBack(t *testing.T) {
	inner := &countingCatalog{CatalogStore: testCatalog(t)}
	ms := store.NewMemoryStore()
	defer ms.Close()
	cached := NewCachedCatalog(inner, ms, 0)
	ctx := context.Background()

	if err := ms.Set(ctx, "catalog:game:1", []byte("{not json")); err != nil {
		t.Fatal(err)
	}

	g, err := cached.GetGame(ctx, 1)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if g.Name != "Brass Birmingham" {
		t.Errorf("got %+v", g)
	}
}
