package filter

import (
	"context"

	"github.com/rushteam/meeplekit/core"
	"github.com/rushteam/meeplekit/pkg/dsl"
)

// ExprFilter 是表达式过滤器：用 CEL 表达式描述"应该被过滤"的条件，
// 无需写代码即可做策略调整。
//
// 示例：
//   - `game.is_expansion == true` → 过滤扩展包（需在水合之后）
//   - `item.score < 0.2` → 低相似度截断
//   - `label.recall_source == "hot"` → 丢弃榜单兜底候选
type ExprFilter struct {
	// Expr 是 CEL 表达式，求值为 true 时物品被过滤。
	// 空表达式不过滤任何物品。
	Expr string
}

func (f *ExprFilter) Name() string {
	return "filter.expr"
}

func (f *ExprFilter) ShouldFilter(
	_ context.Context,
	rctx *core.RecommendContext,
	item *core.Item,
) (bool, error) {
	if f.Expr == "" || item == nil {
		return false, nil
	}
	return dsl.NewEval(item, rctx).Evaluate(f.Expr)
}
