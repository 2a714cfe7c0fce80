package embedding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/meeplekit/core"
)

// 离线训练每轮产出一对工件，文件名携带共同的代次标签（时间戳）：
//
//	game_embeddings_<tag>.npz    稀疏 embedding 矩阵（CSR，行已 L2 归一化）
//	reverse_mappings_<tag>.json  行号 → 桌游 ID 的 JSON 映射
const (
	DefaultMatrixPattern  = "game_embeddings_*.npz"
	DefaultMappingPattern = "reverse_mappings_*.json"
)

// ModelLoader 是模型加载器接口。
// 支持从不同来源加载模型（目录、HTTP、S3 等）。
type ModelLoader interface {
	// Load 加载一代完整的 embedding 模型
	Load(ctx context.Context) (*Model, error)
}

// LoaderFunc 将函数适配为 ModelLoader（测试与示例常用）。
type LoaderFunc func(ctx context.Context) (*Model, error)

func (f LoaderFunc) Load(ctx context.Context) (*Model, error) { return f(ctx) }

// Loader 从目录加载最新一代的 embedding 工件。
//
// 选择规则：按修改时间取最新的矩阵工件，再要求同代次标签的映射工件存在。
// 矩阵与映射各选各的最新会配对出不同代次的工件，因此以矩阵为准、
// 标签不配对时报 DATA_INTEGRITY。
type Loader struct {
	// Dir 是工件目录
	Dir string

	// MatrixPattern / MappingPattern 是工件文件名 glob，'*' 处为代次标签。
	// 为空时使用 DefaultMatrixPattern / DefaultMappingPattern。
	MatrixPattern  string
	MappingPattern string
}

// NewLoader 创建目录加载器。
func NewLoader(dir string) *Loader {
	return &Loader{
		Dir:            dir,
		MatrixPattern:  DefaultMatrixPattern,
		MappingPattern: DefaultMappingPattern,
	}
}

// Load 实现 ModelLoader 接口。
//
// 错误语义：
//   - 任一类工件完全缺失 → CONFIGURATION
//   - 代次标签不配对、解析失败、矩阵与映射不一致 → DATA_INTEGRITY
func (l *Loader) Load(ctx context.Context) (*Model, error) {
	matrixPattern := l.MatrixPattern
	if matrixPattern == "" {
		matrixPattern = DefaultMatrixPattern
	}
	mappingPattern := l.MappingPattern
	if mappingPattern == "" {
		mappingPattern = DefaultMappingPattern
	}

	matrixPath, err := latestArtifact(l.Dir, matrixPattern)
	if err != nil {
		return nil, err
	}
	tag, err := generationTag(filepath.Base(matrixPath), matrixPattern)
	if err != nil {
		return nil, core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeDataIntegrity,
			fmt.Sprintf("embedding: %v", err))
	}

	// 映射工件必须与矩阵同代次
	mappingPath := filepath.Join(l.Dir, strings.Replace(mappingPattern, "*", tag, 1))
	if _, err := os.Stat(mappingPath); err != nil {
		// 区分"完全没有映射工件"（配置问题）与"有但代次不配对"（数据问题）
		if _, globErr := latestArtifact(l.Dir, mappingPattern); globErr != nil {
			return nil, globErr
		}
		return nil, core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeDataIntegrity,
			fmt.Sprintf("embedding: no mapping artifact for generation %s (matrix and mapping must share a generation tag)", tag))
	}

	var (
		matrix  *CSRMatrix
		mapping map[int]int64
	)
	eg, _ := errgroup.WithContext(ctx)
	eg.Go(func() error {
		m, err := ReadNPZ(matrixPath)
		if err != nil {
			return core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeDataIntegrity,
				fmt.Sprintf("embedding: matrix artifact: %v", err))
		}
		matrix = m
		return nil
	})
	eg.Go(func() error {
		m, err := readMapping(mappingPath)
		if err != nil {
			return core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeDataIntegrity,
				fmt.Sprintf("embedding: mapping artifact: %v", err))
		}
		mapping = m
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return NewModel(matrix, mapping, tag)
}

// latestArtifact 返回目录中匹配 pattern 且修改时间最新的文件。
func latestArtifact(dir, pattern string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeConfiguration,
			fmt.Sprintf("embedding: bad artifact pattern %q: %v", pattern, err))
	}
	if len(matches) == 0 {
		return "", core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeConfiguration,
			fmt.Sprintf("embedding: no artifact matching %q in %s", pattern, dir))
	}

	latest := ""
	var latestMod int64
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); latest == "" || mod > latestMod {
			latest = path
			latestMod = mod
		}
	}
	if latest == "" {
		return "", core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeConfiguration,
			fmt.Sprintf("embedding: no readable artifact matching %q in %s", pattern, dir))
	}
	return latest, nil
}

// generationTag 按 pattern 的 '*' 位置从文件名中提取代次标签。
func generationTag(name, pattern string) (string, error) {
	star := strings.Index(pattern, "*")
	if star < 0 {
		return "", fmt.Errorf("pattern %q has no generation placeholder", pattern)
	}
	prefix, suffix := pattern[:star], pattern[star+1:]
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) ||
		len(name) <= len(prefix)+len(suffix) {
		return "", fmt.Errorf("artifact %q does not match pattern %q", name, pattern)
	}
	return name[len(prefix) : len(name)-len(suffix)], nil
}

// readMapping 解析映射工件：JSON 对象，key 是字符串形式的行号，value 是桌游 ID。
func readMapping(path string) (map[int]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := make(map[int]int64, len(raw))
	for k, id := range raw {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("non-integer mapping index %q", k)
		}
		out[idx] = id
	}
	return out, nil
}
