package service

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"github.com/rushteam/meeplekit/catalog"
	"github.com/rushteam/meeplekit/core"
	"github.com/rushteam/meeplekit/embedding"
	"github.com/rushteam/meeplekit/filter"
	"github.com/rushteam/meeplekit/pipeline"
	"github.com/rushteam/meeplekit/recall"
)

// fakeCatalog 是内存目录，够推荐链路用。
type fakeCatalog struct {
	games      map[int64]*core.Game
	registries map[string]map[int64]struct{}
}

var _ core.CatalogStore = (*fakeCatalog)(nil)

func (f *fakeCatalog) Name() string { return "fake" }

func (f *fakeCatalog) GetGame(_ context.Context, id int64) (*core.Game, error) {
	g, ok := f.games[id]
	if !ok {
		return nil, core.ErrGameNotFound
	}
	return g, nil
}

func (f *fakeCatalog) GetGamesByIDs(_ context.Context, ids []int64) (map[int64]*core.Game, error) {
	out := make(map[int64]*core.Game, len(ids))
	for _, id := range ids {
		if g, ok := f.games[id]; ok {
			out[id] = g
		}
	}
	return out, nil
}

func (f *fakeCatalog) GetRegistry(_ context.Context, name string) (map[int64]struct{}, error) {
	set := f.registries[name]
	if set == nil {
		set = map[int64]struct{}{}
	}
	return set, nil
}

func (f *fakeCatalog) ListGames(_ context.Context, _ *core.GameQuery) ([]*core.Game, error) {
	return nil, nil
}

func (f *fakeCatalog) FilterOptions(_ context.Context) (*core.FilterOptions, error) {
	return &core.FilterOptions{}, nil
}

func (f *fakeCatalog) Close() error { return nil }

// testFixture 构造 12 个物品的模型与目录：
// id 1 是查询物品（行向量 (1,0)），id 2..12 与它的相似度随 id 递减。
func testFixture(t *testing.T) (*embedding.Manager, *fakeCatalog) {
	t.Helper()

	dense := make([][]float64, 12)
	dense[0] = []float64{1, 0}
	for i := 1; i <= 11; i++ {
		theta := float64(i) * 7 * math.Pi / 180
		dense[i] = []float64{math.Cos(theta), math.Sin(theta)}
	}
	mapping := make(map[int]int64, 12)
	for i := 0; i < 12; i++ {
		mapping[i] = int64(i + 1)
	}
	model, err := embedding.NewModel(embedding.NewCSRFromDense(dense), mapping, "gtest")
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	mgr := embedding.NewManager(embedding.LoaderFunc(func(ctx context.Context) (*embedding.Model, error) {
		return model, nil
	}), zerolog.Nop())

	cat := &fakeCatalog{
		games:      make(map[int64]*core.Game),
		registries: make(map[string]map[int64]struct{}),
	}
	for id := int64(1); id <= 12; id++ {
		cat.games[id] = &core.Game{ID: id, Name: "game", Rank: int(id)}
	}
	return mgr, cat
}

func newTestRecommender(mgr *embedding.Manager, cat *fakeCatalog) *Recommender {
	p := &pipeline.Pipeline{Nodes: []pipeline.Node{
		&recall.EmbeddingRecall{Manager: mgr},
		&filter.RegistryNode{Catalog: cat},
		&catalog.HydrateNode{Catalog: cat},
	}}
	return NewRecommender(p, cat, zerolog.Nop())
}

func TestRecommend_BasicOrderingAndTruncation(t *testing.T) {
	mgr, cat := testFixture(t)
	r := newTestRecommender(mgr, cat)

	got := r.Recommend(context.Background(), &core.RecommendContext{
		LikedIDs: []int64{1},
		Limit:    3,
	})

	wantIDs := []int64{2, 3, 4}
	if len(got) != len(wantIDs) {
		t.Fatalf("got %d results, want %d", len(got), len(wantIDs))
	}
	prev := 2.0
	for i, rec := range got {
		if rec.Game == nil || rec.Game.ID != wantIDs[i] {
			t.Errorf("position %d: got game %+v, want id %d", i, rec.Game, wantIDs[i])
		}
		if rec.Score <= 0 || rec.Score > 1 {
			t.Errorf("position %d: score %v out of (0, 1]", i, rec.Score)
		}
		if rec.Score > prev {
			t.Errorf("position %d: scores not descending (%v after %v)", i, rec.Score, prev)
		}
		prev = rec.Score
	}
}

func TestRecommend_ExcludesInputGames(t *testing.T) {
	mgr, cat := testFixture(t)
	r := newTestRecommender(mgr, cat)

	got := r.Recommend(context.Background(), &core.RecommendContext{
		LikedIDs:    []int64{1, 2},
		DislikedIDs: []int64{3},
		Limit:       10,
	})
	for _, rec := range got {
		switch rec.Game.ID {
		case 1, 2, 3:
			t.Errorf("input game %d appeared in results", rec.Game.ID)
		}
	}
}

func TestRecommend_EmptyInputs(t *testing.T) {
	mgr, cat := testFixture(t)
	r := newTestRecommender(mgr, cat)

	got := r.Recommend(context.Background(), &core.RecommendContext{})
	if got == nil {
		t.Fatal("result must be an empty slice, not nil")
	}
	if len(got) != 0 {
		t.Errorf("got %d results, want 0", len(got))
	}
}

func TestRecommend_UnknownIDsTolerated(t *testing.T) {
	mgr, cat := testFixture(t)
	r := newTestRecommender(mgr, cat)

	// 未知 ID 被静默丢弃，剩余输入照常工作
	got := r.Recommend(context.Background(), &core.RecommendContext{
		LikedIDs: []int64{1, 99999},
		Limit:    3,
	})
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}

	// 全部未知等价于空输入
	got = r.Recommend(context.Background(), &core.RecommendContext{
		LikedIDs: []int64{99999, 88888},
	})
	if len(got) != 0 {
		t.Errorf("all-unknown input: got %d results, want 0", len(got))
	}
}

func TestRecommend_WideningRecoversFromRegistryLoss(t *testing.T) {
	mgr, cat := testFixture(t)
	// registry 只允许排名靠后的 4 个：初始窗口（2×4=8）里只有 1 个幸存，
	// 窗口加倍后才能凑满 limit
	cat.registries["tail"] = map[int64]struct{}{
		9: {}, 10: {}, 11: {}, 12: {},
	}
	r := newTestRecommender(mgr, cat)

	got := r.Recommend(context.Background(), &core.RecommendContext{
		LikedIDs: []int64{1},
		Limit:    4,
		Registry: "tail",
	})
	if len(got) != 4 {
		t.Fatalf("widening should recover full limit: got %d results, want 4", len(got))
	}
	wantIDs := []int64{9, 10, 11, 12}
	for i, rec := range got {
		if rec.Game.ID != wantIDs[i] {
			t.Errorf("position %d: got id %d, want %d", i, rec.Game.ID, wantIDs[i])
		}
	}
}

func TestRecommend_CandidatePoolExhausted(t *testing.T) {
	mgr, cat := testFixture(t)
	// registry 只有 2 个候选：无论怎么加宽窗口都凑不满 limit，
	// 返回能给出的部分结果而不是报错
	cat.registries["tiny"] = map[int64]struct{}{
		5: {}, 6: {},
	}
	r := newTestRecommender(mgr, cat)

	got := r.Recommend(context.Background(), &core.RecommendContext{
		LikedIDs: []int64{1},
		Limit:    4,
		Registry: "tiny",
	})
	if len(got) != 2 {
		t.Fatalf("exhausted pool: got %d results, want 2", len(got))
	}
	if got[0].Game.ID != 5 || got[1].Game.ID != 6 {
		t.Errorf("got ids [%d, %d], want [5, 6]", got[0].Game.ID, got[1].Game.ID)
	}
}

func TestRecommend_HydrationDropsMissingGames(t *testing.T) {
	mgr, cat := testFixture(t)
	// 目录里没有 id 2：最相似的候选被水合丢弃，其余候选补位
	delete(cat.games, 2)
	r := newTestRecommender(mgr, cat)

	got := r.Recommend(context.Background(), &core.RecommendContext{
		LikedIDs: []int64{1},
		Limit:    3,
	})
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	wantIDs := []int64{3, 4, 5}
	for i, rec := range got {
		if rec.Game.ID != wantIDs[i] {
			t.Errorf("position %d: got id %d, want %d", i, rec.Game.ID, wantIDs[i])
		}
	}
}

func TestRecommend_InternalErrorYieldsEmptyResult(t *testing.T) {
	_, cat := testFixture(t)
	mgr := embedding.NewManager(embedding.LoaderFunc(func(ctx context.Context) (*embedding.Model, error) {
		return nil, errors.New("artifact directory unavailable")
	}), zerolog.Nop())
	r := newTestRecommender(mgr, cat)

	got := r.Recommend(context.Background(), &core.RecommendContext{
		LikedIDs: []int64{1},
	})
	if got == nil || len(got) != 0 {
		t.Errorf("internal failure must yield empty result, got %v", got)
	}
}

func TestRecommend_Deterministic(t *testing.T) {
	mgr, cat := testFixture(t)
	r := newTestRecommender(mgr, cat)

	rctx := func() *core.RecommendContext {
		return &core.RecommendContext{
			LikedIDs:    []int64{1, 4},
			DislikedIDs: []int64{12},
			Limit:       5,
		}
	}
	first := r.Recommend(context.Background(), rctx())
	for i := 0; i < 5; i++ {
		again := r.Recommend(context.Background(), rctx())
		if len(again) != len(first) {
			t.Fatalf("run %d: got %d results, want %d", i, len(again), len(first))
		}
		for j := range first {
			if again[j].Game.ID != first[j].Game.ID || again[j].Score != first[j].Score {
				t.Fatalf("run %d: position %d differs", i, j)
			}
		}
	}
}

func TestRecommend_DefaultLimitApplied(t *testing.T) {
	mgr, cat := testFixture(t)
	r := newTestRecommender(mgr, cat)

	got := r.Recommend(context.Background(), &core.RecommendContext{
		LikedIDs: []int64{1},
	})
	want := (&core.DefaultRecommendConfig{}).DefaultLimit()
	if len(got) != want {
		t.Errorf("got %d results, want default limit %d", len(got), want)
	}
}

func TestRecommend_ExplicitZeroAntiWeightHonored(t *testing.T) {
	mgr, cat := testFixture(t)
	r := newTestRecommender(mgr, cat)

	// disliked id 12 位于 77°；显式 0 只排除它，不改变查询方向，
	// 其余 10 个候选全部正分
	zero := 0.0
	got := r.Recommend(context.Background(), &core.RecommendContext{
		LikedIDs:    []int64{1},
		DislikedIDs: []int64{12},
		Limit:       10,
		AntiWeight:  &zero,
	})
	if len(got) != 10 {
		t.Fatalf("explicit zero: got %d results, want 10", len(got))
	}

	// 未设置则按默认权重 1.0 反向引导，查询转向负角度，
	// 远端候选（id 7 起）被拉成负分丢弃
	got = r.Recommend(context.Background(), &core.RecommendContext{
		LikedIDs:    []int64{1},
		DislikedIDs: []int64{12},
		Limit:       10,
	})
	if len(got) != 5 {
		t.Fatalf("default anti-weight: got %d results, want 5", len(got))
	}
	for _, rec := range got {
		if rec.Game.ID > 6 {
			t.Errorf("game %d should be pulled negative by the disliked vector", rec.Game.ID)
		}
	}
}

func TestRecommend_DoesNotMutateCallerContext(t *testing.T) {
	mgr, cat := testFixture(t)
	r := newTestRecommender(mgr, cat)

	rctx := &core.RecommendContext{LikedIDs: []int64{1}, DislikedIDs: []int64{12}}
	first := r.Recommend(context.Background(), rctx)

	// 默认值与链路参数只写入边界拷贝，调用方的上下文保持原样
	if rctx.Limit != 0 {
		t.Errorf("Limit written back: %d", rctx.Limit)
	}
	if rctx.AntiWeight != nil {
		t.Errorf("AntiWeight written back: %v", *rctx.AntiWeight)
	}
	if rctx.Params != nil {
		t.Errorf("pipeline params leaked into caller context: %v", rctx.Params)
	}

	// 同一个上下文复用，结果不漂移
	second := r.Recommend(context.Background(), rctx)
	if len(first) != len(second) {
		t.Fatalf("reused context drifted: %d vs %d results", len(first), len(second))
	}
	for i := range first {
		if first[i].Game.ID != second[i].Game.ID || first[i].Score != second[i].Score {
			t.Errorf("position %d differs on reuse: %+v vs %+v", i, first[i], second[i])
		}
	}
}
