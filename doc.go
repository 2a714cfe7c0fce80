// Package meeplekit 是一个桌游推荐工具包。
//
// 基于物品 embedding 的相似度推荐：liked/disliked 桌游集合经向量算术
// 合成查询向量，与全量 CSR 矩阵做余弦打分，产出可解释的推荐结果。
//
// 设计要点：
// - Pipeline-first: 推荐逻辑通过 Node 串联（Recall → Filter → ReRank → PostProcess）
// - Labels-first: labels 全链路透传与标准化 merge，支持 explain / 观测 / 策略驱动
// - Node 可扩展: 自定义 Node 即可插拔扩展
package meeplekit

import "github.com/rushteam/meeplekit/pipeline"

// 轻量 facade：便于用户直接 import 使用核心抽象。
type Pipeline = pipeline.Pipeline
type Node = pipeline.Node
type Kind = pipeline.Kind

const (
	KindRecall      = pipeline.KindRecall
	KindFilter      = pipeline.KindFilter
	KindRank        = pipeline.KindRank
	KindReRank      = pipeline.KindReRank
	KindPostProcess = pipeline.KindPostProcess
)
