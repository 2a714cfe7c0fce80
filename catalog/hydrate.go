package catalog

import (
	"context"
	"fmt"

	"github.com/rushteam/meeplekit/core"
	"github.com/rushteam/meeplekit/pipeline"
	"github.com/rushteam/meeplekit/pkg/utils"
)

// HydrateNode 是后处理节点：按候选 ID 单次批量取回目录实体并挂载到 Item。
// 目录中不存在的候选会被丢弃（不报错），保持原有排序。
// 实体只挂载不修改：分数等请求级状态始终留在 Item 上。
type HydrateNode struct {
	Catalog core.CatalogStore
}

var _ pipeline.Node = (*HydrateNode)(nil)

func (n *HydrateNode) Name() string { return "hydrate" }

func (n *HydrateNode) Kind() pipeline.Kind { return pipeline.KindPostProcess }

func (n *HydrateNode) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if len(items) == 0 {
		return items, nil
	}
	if n.Catalog == nil {
		return nil, fmt.Errorf("hydrate: catalog is nil")
	}

	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	games, err := n.Catalog.GetGamesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate: %w", err)
	}

	out := make([]*core.Item, 0, len(items))
	for _, it := range items {
		g, ok := games[it.ID]
		if !ok {
			continue
		}
		it.SetGame(g)
		if len(g.Categories) > 0 {
			it.PutLabel("category", utils.Label{Value: g.Categories[0], Source: "postprocess"})
		}
		out = append(out, it)
	}
	return out, nil
}
