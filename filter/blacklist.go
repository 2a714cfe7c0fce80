package filter

import (
	"context"

	json "github.com/goccy/go-json"
	"github.com/rushteam/meeplekit/core"
)

// BlacklistFilter 是黑名单过滤器，过滤掉黑名单中的桌游。
// 典型用途：用户标记为"已拥有/不再提示"的游戏，不参与推荐。
type BlacklistFilter struct {
	// ItemIDs 是内存中的黑名单桌游 ID 列表
	ItemIDs []int64

	// Store 用于从存储中读取黑名单（可选），value 是 JSON 数组
	Store core.Store

	// Key 是 Store 中的黑名单 key（可选），例如 "blacklist:owned"
	Key string
}

func (f *BlacklistFilter) Name() string {
	return "filter.blacklist"
}

func (f *BlacklistFilter) ShouldFilter(
	ctx context.Context,
	_ *core.RecommendContext,
	item *core.Item,
) (bool, error) {
	if item == nil {
		return true, nil
	}

	// 从内存列表检查
	for _, id := range f.ItemIDs {
		if item.ID == id {
			return true, nil
		}
	}

	// 从 Store 检查
	if f.Store != nil && f.Key != "" {
		data, err := f.Store.Get(ctx, f.Key)
		if err == nil {
			var blacklist []int64
			if json.Unmarshal(data, &blacklist) == nil {
				for _, id := range blacklist {
					if item.ID == id {
						return true, nil
					}
				}
			}
		}
	}

	return false, nil
}
