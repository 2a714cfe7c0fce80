// Package builders 注册内置 Node 的配置构建器。
// 使用配置驱动时 import _ "github.com/rushteam/meeplekit/config/builders" 触发 init 注册。
//
// 需要运行时依赖（embedding.Manager、core.CatalogStore 等）的节点
// 不在这里注册：它们由装配代码（service.New 等）持有依赖并直接构建。
package builders

import (
	"fmt"
	"time"

	"github.com/rushteam/meeplekit/config"
	"github.com/rushteam/meeplekit/filter"
	"github.com/rushteam/meeplekit/pipeline"
	"github.com/rushteam/meeplekit/pkg/conv"
	"github.com/rushteam/meeplekit/recall"
	"github.com/rushteam/meeplekit/rerank"
)

func init() {
	config.Register("recall.fanout", BuildFanoutNode)
	config.Register("recall.hot", BuildHotNode)
	config.Register("filter", BuildFilterNode)
	config.Register("rerank.diversity", BuildDiversityNode)
	config.Register("rerank.topn", BuildTopNNode)
}

func BuildFanoutNode(cfg map[string]interface{}) (pipeline.Node, error) {
	sourcesConfig, ok := cfg["sources"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("sources not found or invalid")
	}
	sources := make([]recall.Source, 0, len(sourcesConfig))
	for _, sc := range sourcesConfig {
		sourceMap, ok := sc.(map[string]interface{})
		if !ok {
			continue
		}
		sourceType := conv.ConfigGet(sourceMap, "type", "")
		switch sourceType {
		case "hot":
			sources = append(sources, &recall.Hot{
				Key:  conv.ConfigGet(sourceMap, "key", ""),
				IDs:  conv.SliceAnyToInt64(sourceMap["ids"]),
				TopK: int(conv.ConfigGetInt64(sourceMap, "top_k", 0)),
			})
		case "embedding":
			// embedding 召回需要 embedding.Manager，由装配代码直接构建
			return nil, fmt.Errorf("embedding source requires a model manager, build it in code")
		default:
			return nil, fmt.Errorf("unknown source type: %s", sourceType)
		}
	}
	fanout := &recall.Fanout{
		Sources: sources,
		Dedup:   conv.ConfigGet(cfg, "dedup", true),
	}
	if sec := conv.ConfigGetInt64(cfg, "timeout", 0); sec > 0 {
		fanout.Timeout = time.Duration(sec) * time.Second
	}
	if n := conv.ConfigGetInt64(cfg, "max_concurrent", 0); n > 0 {
		fanout.MaxConcurrent = int(n)
	}
	fanout.MergeStrategy = conv.ConfigGet(cfg, "merge_strategy", "")
	return fanout, nil
}

func BuildHotNode(cfg map[string]interface{}) (pipeline.Node, error) {
	return &recall.Hot{
		Key:  conv.ConfigGet(cfg, "key", ""),
		IDs:  conv.SliceAnyToInt64(cfg["ids"]),
		TopK: int(conv.ConfigGetInt64(cfg, "top_k", 0)),
	}, nil
}

func BuildFilterNode(cfg map[string]interface{}) (pipeline.Node, error) {
	filtersConfig, ok := cfg["filters"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("filters not found or invalid")
	}
	filters := make([]filter.Filter, 0, len(filtersConfig))
	for _, fc := range filtersConfig {
		filterMap, ok := fc.(map[string]interface{})
		if !ok {
			continue
		}
		filterType := conv.ConfigGet(filterMap, "type", "")
		switch filterType {
		case "blacklist":
			filters = append(filters, &filter.BlacklistFilter{
				ItemIDs: conv.SliceAnyToInt64(filterMap["item_ids"]),
				Key:     conv.ConfigGet(filterMap, "key", ""),
			})
		case "expr":
			filters = append(filters, &filter.ExprFilter{
				Expr: conv.ConfigGet(filterMap, "expr", ""),
			})
		default:
			return nil, fmt.Errorf("unknown filter type: %s", filterType)
		}
	}
	return &filter.FilterNode{Filters: filters}, nil
}

func BuildDiversityNode(cfg map[string]interface{}) (pipeline.Node, error) {
	labelKey := conv.ConfigGet(cfg, "label_key", "category")
	if labelKey == "" {
		labelKey = "category"
	}
	return &rerank.Diversity{LabelKey: labelKey}, nil
}

func BuildTopNNode(cfg map[string]interface{}) (pipeline.Node, error) {
	return &rerank.TopNNode{N: int(conv.ConfigGetInt64(cfg, "n", 0))}, nil
}
