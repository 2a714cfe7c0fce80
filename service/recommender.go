// Package service 装配并驱动推荐链路：模型管理、Pipeline 编排、
// 窗口加倍重试与最终结果组装。
package service

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/rushteam/meeplekit/core"
	"github.com/rushteam/meeplekit/pipeline"
	"github.com/rushteam/meeplekit/pkg/conv"
	"github.com/rushteam/meeplekit/recall"
)

// Recommender 是推荐服务的对外边界。
//
// 错误语义：Recommend 永不返回 error。模型缺失、工件损坏、目录故障等
// 内部错误一律记录日志并返回空列表，由调用方自行决定兜底文案。
// 空输入（liked 与 disliked 均为空或全部未知）同样返回空列表，不报错。
type Recommender struct {
	pipeline *pipeline.Pipeline
	catalog  core.CatalogStore
	cfg      core.RecommendConfig
	logger   zerolog.Logger
}

// Option 配置 Recommender。
type Option func(*Recommender)

// WithConfig 替换默认的推荐配置。
func WithConfig(cfg core.RecommendConfig) Option {
	return func(r *Recommender) { r.cfg = cfg }
}

// NewRecommender 创建推荐服务。catalog 可以为 nil（纯 ID 输出的链路）。
func NewRecommender(p *pipeline.Pipeline, catalog core.CatalogStore, logger zerolog.Logger, opts ...Option) *Recommender {
	r := &Recommender{
		pipeline: p,
		catalog:  catalog,
		cfg:      &core.DefaultRecommendConfig{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Recommend 执行一次推荐请求，返回至多 rctx.Limit 条结果。
// 未设置的字段由配置默认值补齐：Limit（<= 0）、AntiWeight（nil）。
// rctx 在边界处拷贝，默认值与链路参数不会写回调用方的上下文，
// 同一个 rctx 可以跨请求复用。
func (r *Recommender) Recommend(ctx context.Context, rctx *core.RecommendContext) []core.Recommendation {
	if rctx == nil {
		return []core.Recommendation{}
	}

	out, err := r.recommend(ctx, rctx.Clone())
	if err != nil {
		r.logger.Error().Err(err).
			Int("liked", len(rctx.LikedIDs)).
			Int("disliked", len(rctx.DislikedIDs)).
			Str("registry", rctx.Registry).
			Msg("recommend failed, returning empty result")
		return []core.Recommendation{}
	}
	return out
}

func (r *Recommender) recommend(ctx context.Context, rctx *core.RecommendContext) ([]core.Recommendation, error) {
	limit := rctx.Limit
	if limit <= 0 {
		limit = r.cfg.DefaultLimit()
	}
	rctx.Limit = limit
	if rctx.AntiWeight == nil {
		aw := r.cfg.DefaultAntiWeight()
		rctx.AntiWeight = &aw
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.DefaultTimeout())
		defer cancel()
	}

	items, err := r.runWithWidening(ctx, rctx, limit)
	if err != nil {
		return nil, err
	}

	// 最终确定性排序：分数降序，同分按 ID 升序。
	// 多样性重排只做去重不调序，排序后相对顺序不变。
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ID < items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}

	out := make([]core.Recommendation, 0, len(items))
	for _, it := range items {
		g := it.Game()
		if g == nil {
			// 未水合的链路只能给出 ID
			g = &core.Game{ID: it.ID}
		}
		out = append(out, core.Recommendation{Game: g, Score: it.Score})
	}
	return out, nil
}

// runWithWidening 以过采样窗口运行 Pipeline；下游过滤（registry 限定、
// 水合缺失、黑名单）吃掉窗口内候选导致结果不足 limit 时，窗口加倍重试，
// 直到满足 limit、候选池耗尽或达到重试上限。
func (r *Recommender) runWithWidening(ctx context.Context, rctx *core.RecommendContext, limit int) ([]*core.Item, error) {
	window := limit * r.cfg.OversampleFactor()
	if window < limit {
		window = limit
	}

	var items []*core.Item
	for attempt := 0; ; attempt++ {
		rctx.PutParam(recall.ParamCandidateWindow, window)

		var err error
		items, err = r.pipeline.Run(ctx, rctx, nil)
		if err != nil {
			return nil, err
		}
		if len(items) >= limit {
			return items, nil
		}

		pool, _ := conv.ToInt(rctx.Params[recall.ParamCandidatePool])
		if window >= pool {
			// 窗口已覆盖全部候选，结果不足是候选池本身不够
			return items, nil
		}
		if attempt >= r.cfg.MaxWidenAttempts() {
			r.logger.Warn().
				Int("window", window).
				Int("pool", pool).
				Int("got", len(items)).
				Int("want", limit).
				Msg("widening attempts exhausted")
			return items, nil
		}
		window *= 2
	}
}

// Catalog 暴露目录存储，用于详情/列表等非推荐链路。
func (r *Recommender) Catalog() core.CatalogStore {
	return r.catalog
}
