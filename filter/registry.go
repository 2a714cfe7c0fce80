package filter

import (
	"context"

	"github.com/rushteam/meeplekit/core"
	"github.com/rushteam/meeplekit/pipeline"
	"github.com/rushteam/meeplekit/pkg/utils"
)

// RegistryNode 是 registry 限定 Node：把候选序列限定在目录的命名子集内
// （例如 "ranked" 榜单游戏，不含扩展包），保持原有排名顺序。
//
// rctx.Registry 为空时不做任何限定。registry 的 ID 集合每次请求只取一次
// （单次集合查询）；需要更低延迟时用 catalog.CachedCatalog 包一层缓存。
type RegistryNode struct {
	Catalog core.CatalogStore
}

func (n *RegistryNode) Name() string {
	return "filter.registry"
}

func (n *RegistryNode) Kind() pipeline.Kind {
	return pipeline.KindFilter
}

func (n *RegistryNode) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if n.Catalog == nil || rctx == nil || rctx.Registry == "" || len(items) == 0 {
		return items, nil
	}

	allowed, err := n.Catalog.GetRegistry(ctx, rctx.Registry)
	if err != nil {
		return nil, err
	}

	out := make([]*core.Item, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		if _, ok := allowed[it.ID]; !ok {
			it.PutLabel("filtered", utils.Label{Value: "true", Source: n.Name()})
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

// RegistryFilter 是 RegistryNode 的 Filter 形态，便于与其他过滤器组合在
// FilterNode 中使用。集合在首次调用时取回并在本次请求内复用。
type RegistryFilter struct {
	Catalog core.CatalogStore
}

func (f *RegistryFilter) Name() string {
	return "filter.registry"
}

const registrySetParam = "registry_id_set"

func (f *RegistryFilter) ShouldFilter(
	ctx context.Context,
	rctx *core.RecommendContext,
	item *core.Item,
) (bool, error) {
	if f.Catalog == nil || rctx == nil || rctx.Registry == "" || item == nil {
		return false, nil
	}

	// 请求内复用已取回的集合
	allowed, ok := rctx.Params[registrySetParam].(map[int64]struct{})
	if !ok {
		var err error
		allowed, err = f.Catalog.GetRegistry(ctx, rctx.Registry)
		if err != nil {
			return false, err
		}
		rctx.PutParam(registrySetParam, allowed)
	}

	_, in := allowed[item.ID]
	return !in, nil
}
