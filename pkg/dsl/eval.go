package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/meeplekit/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvOnce sync.Once
)

// initCELEnv 初始化 CEL 环境，定义变量和函数
func initCELEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		// 定义变量类型
		cel.Variable("item", cel.DynType),
		cel.Variable("label", cel.DynType),
		cel.Variable("game", cel.DynType),
		cel.Variable("rctx", cel.DynType),
	)
	return env, err
}

// getCELEnv 获取或创建 CEL 环境
func getCELEnv() (*cel.Env, error) {
	var err error
	celEnvOnce.Do(func() {
		celEnv, err = initCELEnv()
	})
	return celEnv, err
}

// Eval 是 Label DSL 解释器，使用 CEL (Common Expression Language) 实现。
// CEL 是 Google 开发的表达式语言，具有类型安全、高性能、线程安全等特性。
//
// 表达式语法（CEL 标准语法）：
//   - 基础：label.recall_source == "embedding" / label.is_expansion == "true"
//   - 数值：item.score > 0.7 / game.rank <= 100
//   - 逻辑：game.min_players <= 4 && item.score > 0.5
//   - 存在性：label.recall_source != null
//   - 包含："Dice Rolling" in game.mechanics
//
// 示例：
//   - `label.is_expansion == "true"` → 过滤扩展包
//   - `game.rank != 0 && game.rank <= 500` → 只保留榜单前 500
//   - `item.score > 0.3` → 低相似度截断
type Eval struct {
	item *core.Item
	rctx *core.RecommendContext
	env  *cel.Env
}

// NewEval 创建一个新的 DSL 解释器。
func NewEval(item *core.Item, rctx *core.RecommendContext) *Eval {
	env, _ := getCELEnv()
	return &Eval{
		item: item,
		rctx: rctx,
		env:  env,
	}
}

// Evaluate 解析并执行 DSL 表达式，返回布尔结果。
// 表达式使用 CEL (Common Expression Language) 语法。
//
// 注意：has(label.key) 可以用 label.key != null 替代
func (e *Eval) Evaluate(expr string) (bool, error) {
	if expr == "" {
		return true, nil
	}

	// 编译表达式
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("compile error: %v", issues.Err())
	}

	// 创建程序
	prg, err := e.env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("program error: %v", err)
	}

	// 准备输入数据
	input := e.buildInput()

	// 执行表达式
	out, _, err := prg.Eval(input)
	if err != nil {
		// 对于不存在的 key，CEL 会返回错误
		// 用户应该使用 label.key != null 来检查存在性，而不是直接访问
		return false, fmt.Errorf("eval error: %v", err)
	}

	// 转换为布尔值
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return boolean, got %T", out.Value())
	}

	return result, nil
}

// buildInput 构建 CEL 表达式的输入数据
func (e *Eval) buildInput() map[string]interface{} {
	// 构建 label map
	labels := make(map[string]interface{})
	for k, v := range e.item.Labels {
		labels[k] = map[string]interface{}{
			"value":  v.Value,
			"source": v.Source,
		}
	}

	// 构建 item map
	item := map[string]interface{}{
		"id":     e.item.ID,
		"score":  e.item.Score,
		"labels": labels,
	}

	// 水合后的目录实体（未水合时为 null）
	var game map[string]interface{}
	if g := e.item.Game(); g != nil {
		game = map[string]interface{}{
			"id":             g.ID,
			"name":           g.Name,
			"year_published": g.YearPublished,
			"rank":           g.Rank,
			"min_players":    g.MinPlayers,
			"max_players":    g.MaxPlayers,
			"play_time":      g.PlayTime,
			"is_expansion":   g.IsExpansion,
			"mechanics":      g.Mechanics,
			"categories":     g.Categories,
		}
	}

	// 构建 rctx map
	var rctx map[string]interface{}
	if e.rctx != nil {
		rctx = map[string]interface{}{
			"limit":       e.rctx.Limit,
			"anti_weight": e.rctx.AntiWeightOr(1),
			"registry":    e.rctx.Registry,
			"params":      e.rctx.Params,
		}
	}

	// 为了简洁的语法，提供 label 作为顶层访问
	// 例如 label.recall_source 可以直接访问
	// 注意：CEL 访问不存在的 key 会报错，所以使用 label.key != null 检查存在性
	labelAccessor := make(map[string]interface{})
	for k, v := range labels {
		// label.recall_source 返回 value
		labelAccessor[k] = v.(map[string]interface{})["value"]
	}

	return map[string]interface{}{
		"item":  item,
		"label": labelAccessor,
		"game":  game,
		"rctx":  rctx,
	}
}
