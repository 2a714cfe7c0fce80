package recall

import (
	"context"

	"github.com/rushteam/meeplekit/core"
	"github.com/rushteam/meeplekit/embedding"
	"github.com/rushteam/meeplekit/pipeline"
	"github.com/rushteam/meeplekit/pkg/conv"
	"github.com/rushteam/meeplekit/pkg/utils"
	"github.com/rushteam/meeplekit/scoring"
)

// ParamCandidateWindow 是请求级参数：召回窗口大小（过采样后的候选数）。
// 服务层通过它驱动窗口加倍重试。
const ParamCandidateWindow = "candidate_window"

// ParamCandidatePool 是请求级参数：召回节点写回的幸存候选池总大小
// （阈值过滤后、窗口截断前）。服务层据此判断候选池是否耗尽。
const ParamCandidatePool = "candidate_pool"

// EmbeddingRecall 是基于物品 embedding 向量算术的召回源。
//
// 核心思想：
//   - liked 行向量取均值得到正向量，disliked 行向量取均值得到反向量
//   - query = pos − antiWeight × neg，归一化后与全量矩阵做余弦打分
//   - 输入物品本身被排除，只保留正相似度候选
//
// 工程特征：
//   - 实时性：好（离线训练，在线只做一次矩阵-向量乘）
//   - 计算复杂度：低（稀疏点积）
//   - 可解释性：中等（可以回看相似度分数）
//
// EmbeddingRecall 同时实现了 Source 和 Node 接口，可以直接在 Pipeline 中使用。
type EmbeddingRecall struct {
	// Manager 提供进程级缓存的 embedding 模型
	Manager *embedding.Manager

	// Window 是候选窗口大小（过采样后）；<= 0 表示不截断。
	// rctx.Params[ParamCandidateWindow] 优先于此字段。
	Window int
}

func (r *EmbeddingRecall) Name() string        { return "recall.embedding" }
func (r *EmbeddingRecall) Kind() pipeline.Kind { return pipeline.KindRecall }

// Process 实现 Node 接口，直接调用 Recall
func (r *EmbeddingRecall) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	_ []*core.Item,
) ([]*core.Item, error) {
	return r.Recall(ctx, rctx)
}

// Recall 实现 Source 接口
func (r *EmbeddingRecall) Recall(
	ctx context.Context,
	rctx *core.RecommendContext,
) ([]*core.Item, error) {
	if r.Manager == nil || rctx == nil {
		return nil, nil
	}

	model, err := r.Manager.Get(ctx)
	if err != nil {
		return nil, err
	}

	// 外部 ID → 行号翻译；模型不认识的 ID 静默丢弃
	liked := model.Translate(rctx.LikedIDs)
	disliked := model.Translate(rctx.DislikedIDs)
	if len(liked) == 0 && len(disliked) == 0 {
		rctx.PutParam(ParamCandidatePool, 0)
		return nil, nil
	}

	// 未设置时取默认权重 1.0
	antiWeight := rctx.AntiWeightOr(1)
	if antiWeight < 0 {
		antiWeight = 0
	}

	cands := scoring.Rank(model, liked, disliked, antiWeight)

	// 候选池总量写回请求上下文，供服务层的窗口加倍重试判断
	rctx.PutParam(ParamCandidatePool, len(cands))

	window := r.Window
	if w, ok := conv.ToInt(rctx.Params[ParamCandidateWindow]); ok && w > 0 {
		window = w
	}
	if window > 0 && len(cands) > window {
		cands = cands[:window]
	}

	out := make([]*core.Item, 0, len(cands))
	for _, c := range cands {
		it := core.NewItem(c.ID)
		it.Score = c.Score
		it.PutLabel("recall_source", utils.Label{Value: "embedding", Source: "recall"})
		it.PutLabel("model_generation", utils.Label{Value: model.Generation(), Source: "recall"})
		out = append(out, it)
	}
	return out, nil
}
