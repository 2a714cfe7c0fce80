package core

import "github.com/rushteam/meeplekit/pkg/utils"

// Item 是推荐链路中的统一承载结构：分数、元信息、标签。
// ID 是桌游在 embedding 工件与目录库之间稳定一致的物品 ID；
// Score 用于排序决策；Labels 用于解释与策略驱动。
type Item struct {
	ID     int64
	Score  float64
	Meta   map[string]any
	Labels map[string]utils.Label
}

func NewItem(id int64) *Item {
	return &Item{
		ID:     id,
		Score:  0,
		Meta:   make(map[string]any),
		Labels: make(map[string]utils.Label),
	}
}

// PutLabel 写入 Label；若已存在同名 key，则按默认 Merge 规则累积。
func (it *Item) PutLabel(key string, lbl utils.Label) {
	if it.Labels == nil {
		it.Labels = make(map[string]utils.Label)
	}
	if old, ok := it.Labels[key]; ok {
		it.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	it.Labels[key] = lbl
}

// MetaKeyGame 是 Item.Meta 中目录实体的约定 key。
const MetaKeyGame = "game"

// Game 获取水合（hydrate）阶段挂载的目录实体；未水合时返回 nil。
func (it *Item) Game() *Game {
	if it.Meta == nil {
		return nil
	}
	if g, ok := it.Meta[MetaKeyGame].(*Game); ok {
		return g
	}
	return nil
}

// SetGame 挂载目录实体。实体本身不会被修改：分数始终保存在 Item 上，
// 不把请求级状态写回共享的目录对象（避免跨请求别名问题）。
func (it *Item) SetGame(g *Game) {
	if it.Meta == nil {
		it.Meta = make(map[string]any)
	}
	it.Meta[MetaKeyGame] = g
}
