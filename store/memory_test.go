package store

import (
	"context"
	"testing"

	"github.com/rushteam/meeplekit/core"
)

func TestMemoryStore_GetSetDelete(t *testing.T) {
	ms := NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	if _, err := ms.Get(ctx, "missing"); !core.IsStoreNotFound(err) {
		t.Errorf("missing key: got %v, want ErrStoreNotFound", err)
	}

	if err := ms.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	got, err := ms.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Errorf("Get: got (%q, %v)", got, err)
	}

	if err := ms.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := ms.Get(ctx, "k"); !core.IsStoreNotFound(err) {
		t.Errorf("deleted key: got %v, want ErrStoreNotFound", err)
	}
}

func TestMemoryStore_Batch(t *testing.T) {
	ms := NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	if err := ms.BatchSet(ctx, map[string][]byte{
		"catalog:game:1": []byte("a"),
		"catalog:game:2": []byte("b"),
	}); err != nil {
		t.Fatal(err)
	}

	got, err := ms.BatchGet(ctx, []string{"catalog:game:1", "catalog:game:2", "catalog:game:3"})
	if err != nil {
		t.Fatal(err)
	}
	// 缺失的 key 缺席于结果，不报错
	if len(got) != 2 || string(got["catalog:game:1"]) != "a" || string(got["catalog:game:2"]) != "b" {
		t.Errorf("BatchGet: got %v", got)
	}
}

func TestMemoryStore_ZSet(t *testing.T) {
	ms := NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()

	for member, score := range map[string]float64{
		"11": 1.0,
		"22": 3.0,
		"33": 2.0,
	} {
		if err := ms.ZAdd(ctx, "rank:games", score, member); err != nil {
			t.Fatal(err)
		}
	}

	// 降序
	got, err := ms.ZRange(ctx, "rank:games", 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "22" || got[1] != "33" {
		t.Errorf("ZRange: got %v, want [22 33]", got)
	}

	score, err := ms.ZScore(ctx, "rank:games", "33")
	if err != nil || score != 2.0 {
		t.Errorf("ZScore: got (%v, %v)", score, err)
	}
	if _, err := ms.ZScore(ctx, "rank:games", "99"); !core.IsStoreNotFound(err) {
		t.Errorf("missing member: got %v, want ErrStoreNotFound", err)
	}
}
