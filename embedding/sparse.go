package embedding

import "fmt"

// CSRMatrix 是行压缩（Compressed Sparse Row）格式的稀疏矩阵。
// 每行对应一个桌游的 embedding 向量，离线训练时已做 L2 归一化。
// 加载完成后不再修改（多请求共享只读）。
type CSRMatrix struct {
	rows, cols int
	indptr     []int
	indices    []int
	data       []float64
}

// NewCSRMatrix 从 CSR 三元组构建矩阵，并校验结构一致性。
func NewCSRMatrix(rows, cols int, indptr, indices []int, data []float64) (*CSRMatrix, error) {
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("invalid shape (%d, %d)", rows, cols)
	}
	if len(indptr) != rows+1 {
		return nil, fmt.Errorf("indptr length %d does not match row count %d", len(indptr), rows)
	}
	if len(indices) != len(data) {
		return nil, fmt.Errorf("indices length %d does not match data length %d", len(indices), len(data))
	}
	if indptr[0] != 0 || indptr[rows] != len(data) {
		return nil, fmt.Errorf("indptr bounds [%d, %d] do not match nnz %d", indptr[0], indptr[rows], len(data))
	}
	for i := 0; i < rows; i++ {
		if indptr[i] > indptr[i+1] {
			return nil, fmt.Errorf("indptr is not non-decreasing at row %d", i)
		}
	}
	for _, c := range indices {
		if c < 0 || c >= cols {
			return nil, fmt.Errorf("column index %d out of range [0, %d)", c, cols)
		}
	}
	return &CSRMatrix{rows: rows, cols: cols, indptr: indptr, indices: indices, data: data}, nil
}

// NewCSRFromDense 从稠密矩阵构建 CSR（测试与示例用）。
func NewCSRFromDense(dense [][]float64) *CSRMatrix {
	rows := len(dense)
	cols := 0
	if rows > 0 {
		cols = len(dense[0])
	}
	indptr := make([]int, rows+1)
	var indices []int
	var data []float64
	for i, row := range dense {
		for j, v := range row {
			if v != 0 {
				indices = append(indices, j)
				data = append(data, v)
			}
		}
		indptr[i+1] = len(data)
	}
	return &CSRMatrix{rows: rows, cols: cols, indptr: indptr, indices: indices, data: data}
}

// Rows 返回行数（物品数量）。
func (m *CSRMatrix) Rows() int { return m.rows }

// Cols 返回列数（向量维度）。
func (m *CSRMatrix) Cols() int { return m.cols }

// NNZ 返回非零元素数量。
func (m *CSRMatrix) NNZ() int { return len(m.data) }

// MeanRows 计算指定行的逐元素均值，返回稠密向量。
// rows 为空时返回零向量。
func (m *CSRMatrix) MeanRows(rows []int) []float64 {
	out := make([]float64, m.cols)
	if len(rows) == 0 {
		return out
	}
	for _, r := range rows {
		for k := m.indptr[r]; k < m.indptr[r+1]; k++ {
			out[m.indices[k]] += m.data[k]
		}
	}
	inv := 1.0 / float64(len(rows))
	for i := range out {
		out[i] *= inv
	}
	return out
}

// MulVec 计算矩阵与稠密向量的乘积：out[i] = row_i · v。
// 行向量与 v 均已归一化时，结果即余弦相似度。
func (m *CSRMatrix) MulVec(v []float64) []float64 {
	out := make([]float64, m.rows)
	for i := 0; i < m.rows; i++ {
		var dot float64
		for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
			dot += m.data[k] * v[m.indices[k]]
		}
		out[i] = dot
	}
	return out
}
