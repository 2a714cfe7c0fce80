package rerank

import (
	"context"

	"github.com/rushteam/meeplekit/core"
	"github.com/rushteam/meeplekit/pipeline"
)

// TopNNode 是一个 Top-N 截断节点，用于在排序后截取前 N 个物品。
// 通常放在 Pipeline 末端，把过采样的候选窗口截断到调用方要的数量。
//
// 示例：
//
//	pipeline := &pipeline.Pipeline{
//	    Nodes: []pipeline.Node{
//	        &recall.EmbeddingRecall{...}, // 召回（过采样窗口）
//	        &filter.RegistryNode{...},    // registry 限定
//	        &catalog.HydrateNode{...},    // 目录水合
//	        &rerank.TopNNode{N: 10},      // 截取 Top 10
//	    },
//	}
type TopNNode struct {
	// N 要保留的物品数量（Top N）
	// 如果 N <= 0，则返回所有物品（不截断）
	// 如果 N > len(items)，则返回所有物品
	N int
}

func (n *TopNNode) Name() string {
	return "rerank.topn"
}

func (n *TopNNode) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *TopNNode) Process(
	_ context.Context,
	_ *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	// 如果 N <= 0，不截断，返回所有物品
	if n.N <= 0 {
		return items, nil
	}

	// 如果物品数量小于等于 N，直接返回
	if len(items) <= n.N {
		return items, nil
	}

	// 截取前 N 个物品
	return items[:n.N], nil
}
