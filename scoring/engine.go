// Package scoring 实现纯函数式的余弦相似度排序：
// liked/disliked 行号集合 → 查询向量 → 全量打分 → 排除/过滤/排序。
// 无副作用，不做 I/O，线程安全（只读共享矩阵）。
package scoring

import (
	"math"
	"sort"

	"github.com/rushteam/meeplekit/embedding"
)

// Candidate 是一个候选物品及其余弦相似度分数（[-1, 1]）。
type Candidate struct {
	ID    int64
	Score float64
}

// Rank 基于向量算术生成排好序的候选列表。
//
// 算法：
//  1. liked 与 disliked 均为空 → 返回空列表（不是错误）
//  2. pos = liked 行的逐元素均值，neg = disliked 行的逐元素均值
//  3. query = pos − antiWeight × neg
//  4. query 零范数 → 返回空列表（退化查询，例如同一物品既 liked 又
//     disliked 且 antiWeight = 1）
//  5. query 做 L2 归一化后与矩阵点积；行向量离线已归一化，点积即
//     余弦相似度
//  6. 排除所有输入行（显式集合成员检查，不用哨兵改写——合法的余弦
//     相似度本身可以到 -1）
//  7. 只保留 score > 0 的候选：低相似度永远不产出推荐，即使因此
//     凑不满调用方想要的数量
//  8. 按分数降序排序，同分按桌游 ID 升序（确定性 tie-break）
//
// 返回完整的幸存者列表，截断由调用方负责。
func Rank(model *embedding.Model, liked, disliked []int, antiWeight float64) []Candidate {
	if len(liked) == 0 && len(disliked) == 0 {
		return nil
	}

	matrix := model.Matrix()
	query := matrix.MeanRows(liked)
	if len(disliked) > 0 && antiWeight != 0 {
		neg := matrix.MeanRows(disliked)
		for i := range query {
			query[i] -= antiWeight * neg[i]
		}
	}

	if !normalize(query) {
		return nil
	}

	scores := matrix.MulVec(query)

	excluded := make(map[int]struct{}, len(liked)+len(disliked))
	for _, r := range liked {
		excluded[r] = struct{}{}
	}
	for _, r := range disliked {
		excluded[r] = struct{}{}
	}

	out := make([]Candidate, 0, len(scores))
	for row, score := range scores {
		if _, skip := excluded[row]; skip {
			continue
		}
		if score <= 0 {
			continue
		}
		out = append(out, Candidate{ID: model.GameID(row), Score: score})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// normalize 原地做 L2 归一化；零范数时返回 false。
func normalize(v []float64) bool {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return false
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range v {
		v[i] *= inv
	}
	return true
}
