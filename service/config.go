package service

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/rushteam/meeplekit/catalog"
	"github.com/rushteam/meeplekit/core"
	"github.com/rushteam/meeplekit/embedding"
	"github.com/rushteam/meeplekit/filter"
	"github.com/rushteam/meeplekit/pipeline"
	"github.com/rushteam/meeplekit/recall"
	"github.com/rushteam/meeplekit/rerank"
	"github.com/rushteam/meeplekit/store"
)

// Config 是推荐服务的装配配置（YAML）。
//
// 示例：
//
//	model_dir: ./artifacts
//	catalog:
//	  dsn: ./games.db
//	cache:
//	  kind: redis        # memory / redis / none
//	  addr: 127.0.0.1:6379
//	  db: 0
//	  ttl: 600
//	recommend:
//	  default_limit: 5
//	  default_anti_weight: 1.0
//	  oversample_factor: 2
//	  max_widen_attempts: 4
//	  timeout: 2
//	filter_expr: 'game.is_expansion == true'
//	diversity: false
type Config struct {
	// ModelDir 是 embedding 工件目录（.npz 矩阵 + 映射 JSON）
	ModelDir string `yaml:"model_dir"`

	Catalog struct {
		// DSN 是 SQLite 数据库路径，支持 ":memory:"
		DSN string `yaml:"dsn"`
	} `yaml:"catalog"`

	Cache struct {
		Kind string `yaml:"kind"` // memory / redis / none（默认 none）
		Addr string `yaml:"addr"`
		DB   int    `yaml:"db"`
		TTL  int    `yaml:"ttl"` // 秒
	} `yaml:"cache"`

	Recommend struct {
		DefaultLimit      int     `yaml:"default_limit"`
		DefaultAntiWeight float64 `yaml:"default_anti_weight"`
		OversampleFactor  int     `yaml:"oversample_factor"`
		MaxWidenAttempts  int     `yaml:"max_widen_attempts"`
		Timeout           int     `yaml:"timeout"` // 秒
	} `yaml:"recommend"`

	// FilterExpr 是可选的 CEL 过滤表达式，求值为 true 的候选被剔除
	FilterExpr string `yaml:"filter_expr"`

	// Diversity 为 true 时在水合后追加类别多样性重排
	Diversity bool `yaml:"diversity"`
}

// LoadConfig 从 YAML 文件加载服务配置。
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// recommendConfig 把 YAML 中的推荐参数适配为 core.RecommendConfig，
// 零值字段回落到默认实现。
type recommendConfig struct {
	base core.DefaultRecommendConfig

	limit      int
	antiWeight float64
	factor     int
	attempts   int
	timeout    time.Duration
}

var _ core.RecommendConfig = (*recommendConfig)(nil)

func (c *recommendConfig) DefaultLimit() int {
	if c.limit > 0 {
		return c.limit
	}
	return c.base.DefaultLimit()
}

func (c *recommendConfig) DefaultAntiWeight() float64 {
	if c.antiWeight > 0 {
		return c.antiWeight
	}
	return c.base.DefaultAntiWeight()
}

func (c *recommendConfig) OversampleFactor() int {
	if c.factor > 0 {
		return c.factor
	}
	return c.base.OversampleFactor()
}

func (c *recommendConfig) MaxWidenAttempts() int {
	if c.attempts > 0 {
		return c.attempts
	}
	return c.base.MaxWidenAttempts()
}

func (c *recommendConfig) DefaultTimeout() time.Duration {
	if c.timeout > 0 {
		return c.timeout
	}
	return c.base.DefaultTimeout()
}

// Service 持有装配好的推荐服务与其需要关闭的资源。
type Service struct {
	*Recommender

	manager *embedding.Manager
	closers []func() error
}

// New 按配置装配完整的推荐服务：
// 模型管理器 → embedding 召回 → registry 限定 → 目录水合 → 表达式过滤（→ 多样性重排）。
func New(cfg *Config, logger zerolog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.ModelDir == "" {
		return nil, fmt.Errorf("model_dir is required")
	}
	if cfg.Catalog.DSN == "" {
		return nil, fmt.Errorf("catalog.dsn is required")
	}

	svc := &Service{}

	manager := embedding.NewManager(&embedding.Loader{Dir: cfg.ModelDir}, logger)
	svc.manager = manager

	var cat core.CatalogStore
	sqliteCat, err := catalog.Open(cfg.Catalog.DSN)
	if err != nil {
		return nil, err
	}
	cat = sqliteCat

	switch cfg.Cache.Kind {
	case "", "none":
	case "memory":
		ms := store.NewMemoryStore()
		svc.closers = append(svc.closers, ms.Close)
		cat = catalog.NewCachedCatalog(cat, ms, cfg.Cache.TTL)
	case "redis":
		rs, err := store.NewRedisStore(cfg.Cache.Addr, cfg.Cache.DB)
		if err != nil {
			sqliteCat.Close()
			return nil, fmt.Errorf("connect cache: %w", err)
		}
		svc.closers = append(svc.closers, rs.Close)
		cat = catalog.NewCachedCatalog(cat, rs, cfg.Cache.TTL)
	default:
		sqliteCat.Close()
		return nil, fmt.Errorf("unknown cache kind: %s", cfg.Cache.Kind)
	}
	svc.closers = append(svc.closers, cat.Close)

	rc := &recommendConfig{
		limit:      cfg.Recommend.DefaultLimit,
		antiWeight: cfg.Recommend.DefaultAntiWeight,
		factor:     cfg.Recommend.OversampleFactor,
		attempts:   cfg.Recommend.MaxWidenAttempts,
		timeout:    time.Duration(cfg.Recommend.Timeout) * time.Second,
	}

	p := &pipeline.Pipeline{Nodes: assembleNodes(manager, cat, cfg)}
	svc.Recommender = NewRecommender(p, cat, logger, WithConfig(rc))
	return svc, nil
}

// assembleNodes 组装推荐链路的 Node 序列。
// 表达式过滤必须放在水合之后：game.* 字段来自目录实体，水合前求值
// 会整体失败并被 FilterNode 的容错逻辑跳过，表达式沦为空转。
func assembleNodes(manager *embedding.Manager, cat core.CatalogStore, cfg *Config) []pipeline.Node {
	nodes := []pipeline.Node{
		&recall.EmbeddingRecall{Manager: manager},
		&filter.RegistryNode{Catalog: cat},
		&catalog.HydrateNode{Catalog: cat},
	}
	if cfg.FilterExpr != "" {
		nodes = append(nodes, &filter.FilterNode{
			Filters: []filter.Filter{&filter.ExprFilter{Expr: cfg.FilterExpr}},
		})
	}
	if cfg.Diversity {
		// 类别去重保留相对顺序，最终排序不受影响
		nodes = append(nodes, &rerank.Diversity{})
	}
	return nodes
}

// Manager 暴露模型管理器（Reload 等运维操作用）。
func (s *Service) Manager() *embedding.Manager {
	return s.manager
}

// Close 释放服务持有的资源。
func (s *Service) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}
