package core

import "github.com/rushteam/meeplekit/pkg/utils"

// RecommendContext 承载一次推荐请求的输入，贯穿整个 Pipeline 透传。
//
// LikedIDs / DislikedIDs 是外部物品 ID（目录 ID），允许包含 embedding
// 模型不认识的 ID：翻译阶段会静默丢弃未知 ID，而不是报错。
type RecommendContext struct {
	// LikedIDs 是用户喜欢的桌游 ID 集合
	LikedIDs []int64

	// DislikedIDs 是用户不喜欢的桌游 ID 集合（anti-recommendation）
	DislikedIDs []int64

	// Limit 是期望返回的推荐数量；<= 0 时使用配置默认值
	Limit int

	// AntiWeight 是 disliked 向量的权重（>= 0）；越大越远离 disliked 物品。
	// nil 表示未设置，使用配置默认值；显式 0 表示只把 disliked 排除出
	// 结果，不做反向引导。负值按 0 处理。
	AntiWeight *float64

	// Registry 限定候选集为目录中的命名子集（例如 "ranked" 榜单游戏）；
	// 为空表示不限定
	Registry string

	// Params 请求级上下文参数，Node 之间透传（例如候选窗口大小）
	Params map[string]any

	// Labels 是请求级标签，可驱动整个 Pipeline 行为
	Labels map[string]utils.Label
}

// AntiWeightOr 返回 AntiWeight，未设置时返回 def。
func (rctx *RecommendContext) AntiWeightOr(def float64) float64 {
	if rctx == nil || rctx.AntiWeight == nil {
		return def
	}
	return *rctx.AntiWeight
}

// Clone 返回请求上下文的拷贝：Params / Labels 独立，ID 切片只读共享。
// 服务边界在拷贝上补默认值、写窗口参数，调用方持有的上下文不被改写，
// 可以安全复用。
func (rctx *RecommendContext) Clone() *RecommendContext {
	if rctx == nil {
		return nil
	}
	cp := *rctx
	if rctx.Params != nil {
		cp.Params = make(map[string]any, len(rctx.Params))
		for k, v := range rctx.Params {
			cp.Params[k] = v
		}
	}
	if rctx.Labels != nil {
		cp.Labels = make(map[string]utils.Label, len(rctx.Labels))
		for k, v := range rctx.Labels {
			cp.Labels[k] = v
		}
	}
	return &cp
}

// PutParam 写入请求级参数。
func (rctx *RecommendContext) PutParam(key string, v any) {
	if rctx.Params == nil {
		rctx.Params = make(map[string]any)
	}
	rctx.Params[key] = v
}

// PutLabel 写入请求级 Label。
func (rctx *RecommendContext) PutLabel(key string, lbl utils.Label) {
	if rctx.Labels == nil {
		rctx.Labels = make(map[string]utils.Label)
	}
	if old, ok := rctx.Labels[key]; ok {
		rctx.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	rctx.Labels[key] = lbl
}

// GetLabel 获取请求级 Label。
func (rctx *RecommendContext) GetLabel(key string) (utils.Label, bool) {
	if rctx.Labels == nil {
		return utils.Label{}, false
	}
	lbl, ok := rctx.Labels[key]
	return lbl, ok
}
