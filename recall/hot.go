package recall

import (
	"context"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/rushteam/meeplekit/core"
	"github.com/rushteam/meeplekit/pipeline"
	"github.com/rushteam/meeplekit/pkg/utils"
)

// Hot 是榜单召回源，从 Store 读取热门/榜单桌游列表。
// 用于冷启动兜底：请求没有任何可用的 liked/disliked 信号时，
// embedding 召回为空，榜单游戏仍可产出结果。
//
// - 如果 Store 实现了 KeyValueStore，优先使用 ZRange（有序集合，按榜单分数排序）
// - 否则从普通 key 读取 JSON 数组
// - 如果 Store 为空，使用内存中的 IDs 作为 fallback
//
// Hot 同时实现了 Source 和 Node 接口，可以直接在 Pipeline 中使用。
type Hot struct {
	Store core.Store
	Key   string  // 存储 key，例如 "rank:games"
	IDs   []int64 // fallback 内存列表
	TopK  int     // 取榜单前 TopK 个；<= 0 时取 100
}

func (r *Hot) Name() string        { return "recall.hot" }
func (r *Hot) Kind() pipeline.Kind { return pipeline.KindRecall }

// Process 实现 Node 接口，直接调用 Recall
func (r *Hot) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	_ []*core.Item,
) ([]*core.Item, error) {
	return r.Recall(ctx, rctx)
}

// Recall 实现 Source 接口
func (r *Hot) Recall(
	ctx context.Context,
	_ *core.RecommendContext,
) ([]*core.Item, error) {
	topK := r.TopK
	if topK <= 0 {
		topK = 100
	}

	var ids []int64

	// 优先从 Store 读取（支持 ZRange 或普通 Get）
	if r.Store != nil && r.Key != "" {
		if kvStore, ok := r.Store.(core.KeyValueStore); ok {
			// 使用有序集合：ZRange 获取榜单 TopK
			members, err := kvStore.ZRange(ctx, r.Key, 0, int64(topK-1))
			if err == nil && len(members) > 0 {
				ids = make([]int64, 0, len(members))
				for _, m := range members {
					if id, err := strconv.ParseInt(m, 10, 64); err == nil {
						ids = append(ids, id)
					}
				}
			}
		} else {
			// 普通 key：读取 JSON 数组
			data, err := r.Store.Get(ctx, r.Key)
			if err == nil {
				var parsed []int64
				if json.Unmarshal(data, &parsed) == nil {
					ids = parsed
				}
			}
		}
	}

	// Fallback：使用内存 IDs
	if len(ids) == 0 {
		ids = r.IDs
	}
	if len(ids) > topK {
		ids = ids[:topK]
	}

	out := make([]*core.Item, 0, len(ids))
	for _, id := range ids {
		it := core.NewItem(id)
		it.PutLabel("recall_source", utils.Label{Value: "hot", Source: "recall"})
		out = append(out, it)
	}
	return out, nil
}
