package core

import "time"

// RecommendConfig 是推荐相关的配置接口，用于提供默认值。
type RecommendConfig interface {
	// DefaultLimit 返回默认的推荐数量
	DefaultLimit() int

	// DefaultAntiWeight 返回默认的 anti-recommendation 权重
	DefaultAntiWeight() float64

	// OversampleFactor 返回候选窗口的过采样倍数。
	// 召回窗口 = limit × OversampleFactor，用于吸收下游
	// registry 限定与目录水合造成的候选损耗。
	OversampleFactor() int

	// MaxWidenAttempts 返回候选窗口加倍重试的最大次数。
	// 固定倍数的过采样没有正确性保证：当限定集过滤掉窗口内大半候选时，
	// 通过窗口加倍重试从更靠后的排名中补足，直到满足 limit 或候选池耗尽。
	MaxWidenAttempts() int

	// DefaultTimeout 返回默认的超时时间
	DefaultTimeout() time.Duration
}

// DefaultRecommendConfig 是默认的推荐配置实现。
type DefaultRecommendConfig struct{}

func (c *DefaultRecommendConfig) DefaultLimit() int {
	return 5
}

func (c *DefaultRecommendConfig) DefaultAntiWeight() float64 {
	return 1.0
}

func (c *DefaultRecommendConfig) OversampleFactor() int {
	return 2
}

func (c *DefaultRecommendConfig) MaxWidenAttempts() int {
	return 4
}

func (c *DefaultRecommendConfig) DefaultTimeout() time.Duration {
	return 2 * time.Second
}
