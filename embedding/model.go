package embedding

import (
	"fmt"

	"github.com/rushteam/meeplekit/core"
)

// Model 是一代（generation）embedding 模型：稀疏矩阵 + 行号与桌游 ID 的双射。
// 矩阵与映射必须同源（同一次离线训练产出），加载后不可变，进程内共享只读。
type Model struct {
	matrix     *CSRMatrix
	generation string
	indexToID  []int64
	idToIndex  map[int64]int
}

// NewModel 配对矩阵与映射并校验完整性：
//   - 映射基数必须等于矩阵行数
//   - 每一行恰有一个 ID，每个 ID 恰对应一行（全双射）
//
// 校验失败返回 DATA_INTEGRITY 错误，绝不静默截断。
func NewModel(matrix *CSRMatrix, mapping map[int]int64, generation string) (*Model, error) {
	rows := matrix.Rows()
	if len(mapping) != rows {
		return nil, core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeDataIntegrity,
			fmt.Sprintf("embedding: mapping cardinality %d does not match matrix row count %d", len(mapping), rows))
	}

	indexToID := make([]int64, rows)
	idToIndex := make(map[int64]int, rows)
	seen := make([]bool, rows)
	for idx, id := range mapping {
		if idx < 0 || idx >= rows {
			return nil, core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeDataIntegrity,
				fmt.Sprintf("embedding: mapping index %d out of range [0, %d)", idx, rows))
		}
		if seen[idx] {
			return nil, core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeDataIntegrity,
				fmt.Sprintf("embedding: duplicate mapping index %d", idx))
		}
		if _, dup := idToIndex[id]; dup {
			return nil, core.NewDomainError(core.ModuleEmbedding, core.ErrorCodeDataIntegrity,
				fmt.Sprintf("embedding: game id %d mapped to multiple rows", id))
		}
		seen[idx] = true
		indexToID[idx] = id
		idToIndex[id] = idx
	}

	return &Model{
		matrix:     matrix,
		generation: generation,
		indexToID:  indexToID,
		idToIndex:  idToIndex,
	}, nil
}

// Matrix 返回 embedding 矩阵（只读）。
func (m *Model) Matrix() *CSRMatrix { return m.matrix }

// Generation 返回模型的代次标签（工件文件名中的时间戳）。
func (m *Model) Generation() string { return m.generation }

// Rows 返回模型覆盖的物品数量。
func (m *Model) Rows() int { return m.matrix.Rows() }

// GameID 返回行号对应的桌游 ID。
func (m *Model) GameID(row int) int64 { return m.indexToID[row] }

// Index 返回桌游 ID 对应的行号。
func (m *Model) Index(id int64) (int, bool) {
	idx, ok := m.idToIndex[id]
	return idx, ok
}

// Translate 将外部桌游 ID 批量翻译为行号。
// 模型不认识的 ID 静默丢弃（未知 ID 不是错误）。
func (m *Model) Translate(ids []int64) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if idx, ok := m.idToIndex[id]; ok {
			out = append(out, idx)
		}
	}
	return out
}
