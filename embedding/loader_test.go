package embedding

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rushteam/meeplekit/core"
)

// --- 工件构造：按 numpy/scipy 的序列化格式手工拼字节 ---

func npyBytes(t *testing.T, descr string, shape []int, data []byte) []byte {
	t.Helper()

	var tuple string
	switch len(shape) {
	case 0:
		tuple = "()"
	case 1:
		tuple = fmt.Sprintf("(%d,)", shape[0])
	default:
		dims := make([]string, len(shape))
		for i, d := range shape {
			dims[i] = fmt.Sprintf("%d", d)
		}
		tuple = "(" + strings.Join(dims, ", ") + ")"
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, tuple)
	// numpy 把头补齐到 64 字节对齐并以 \n 结尾
	total := 6 + 2 + 2 + len(header) + 1
	if pad := 64 - total%64; pad != 64 {
		header += strings.Repeat(" ", pad)
	}
	header += "\n"

	var buf bytes.Buffer
	buf.Write([]byte("\x93NUMPY"))
	buf.Write([]byte{1, 0})
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(header)))
	buf.Write(lenBuf[:])
	buf.WriteString(header)
	buf.Write(data)
	return buf.Bytes()
}

func int64LE(vals ...int64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
	}
	return out
}

func int32LE(vals ...int32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
	}
	return out
}

func float64LE(vals ...float64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

// writeNPZ 按 scipy.sparse.save_npz 的容器布局写一个 CSR 矩阵工件。
func writeNPZ(t *testing.T, path string, rows, cols int, indptr, indices []int32, data []float64) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	entries := map[string][]byte{
		"format.npy":  npyBytes(t, "|S3", nil, []byte("csr")),
		"shape.npy":   npyBytes(t, "<i8", []int{2}, int64LE(int64(rows), int64(cols))),
		"indptr.npy":  npyBytes(t, "<i4", []int{len(indptr)}, int32LE(indptr...)),
		"indices.npy": npyBytes(t, "<i4", []int{len(indices)}, int32LE(indices...)),
		"data.npy":    npyBytes(t, "<f8", []int{len(data)}, float64LE(data...)),
	}
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip entry %s: %v", name, err)
		}
		if _, err := w.Write(content); err != nil {
			t.Fatalf("zip entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
}

// writeGeneration 写一对配套工件并返回矩阵路径。
// 矩阵是 3x2 单位归一化的行向量，映射 0..2 → 11/22/33。
func writeGeneration(t *testing.T, dir, tag string) string {
	t.Helper()

	matrixPath := filepath.Join(dir, "game_embeddings_"+tag+".npz")
	writeNPZ(t, matrixPath, 3, 2,
		[]int32{0, 1, 2, 4},
		[]int32{0, 1, 0, 1},
		[]float64{1, 1, 0.6, 0.8})

	mapping := []byte(`{"0": 11, "1": 22, "2": 33}`)
	if err := os.WriteFile(filepath.Join(dir, "reverse_mappings_"+tag+".json"), mapping, 0o644); err != nil {
		t.Fatalf("write mapping: %v", err)
	}
	return matrixPath
}

func touch(t *testing.T, path string, at time.Time) {
	t.Helper()
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

// --- Loader ---

func TestLoader_LoadsNewestGeneration(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	// 代次标签是字典序更小的那个工件修改时间更新：
	// 选择必须看 mtime，不能看文件名排序
	old := writeGeneration(t, dir, "20240902120000")
	fresh := writeGeneration(t, dir, "20240101000000")
	touch(t, old, now.Add(-time.Hour))
	touch(t, fresh, now)

	model, err := NewLoader(dir).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := model.Generation(); got != "20240101000000" {
		t.Errorf("generation: got %s, want 20240101000000", got)
	}
	if model.Rows() != 3 {
		t.Errorf("rows: got %d, want 3", model.Rows())
	}
}

func TestLoader_TranslateDropsUnknownIDs(t *testing.T) {
	dir := t.TempDir()
	writeGeneration(t, dir, "20240101000000")

	model, err := NewLoader(dir).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	rows := model.Translate([]int64{22, 999, 11, -5})
	if len(rows) != 2 || rows[0] != 1 || rows[1] != 0 {
		t.Errorf("Translate: got %v, want [1 0]", rows)
	}
}

func TestLoader_NoMatrixArtifacts(t *testing.T) {
	dir := t.TempDir()

	_, err := NewLoader(dir).Load(context.Background())
	if !core.IsConfigurationError(err) {
		t.Errorf("got %v, want CONFIGURATION error", err)
	}
}

func TestLoader_NoMappingArtifactsAtAll(t *testing.T) {
	dir := t.TempDir()
	writeGeneration(t, dir, "20240101000000")
	if err := os.Remove(filepath.Join(dir, "reverse_mappings_20240101000000.json")); err != nil {
		t.Fatal(err)
	}

	_, err := NewLoader(dir).Load(context.Background())
	if !core.IsConfigurationError(err) {
		t.Errorf("got %v, want CONFIGURATION error", err)
	}
}

func TestLoader_GenerationTagMismatch(t *testing.T) {
	dir := t.TempDir()
	writeGeneration(t, dir, "20240101000000")
	// 映射只有另一个代次的：有映射工件但与矩阵不配对
	if err := os.Rename(
		filepath.Join(dir, "reverse_mappings_20240101000000.json"),
		filepath.Join(dir, "reverse_mappings_20231231000000.json"),
	); err != nil {
		t.Fatal(err)
	}

	_, err := NewLoader(dir).Load(context.Background())
	if !core.IsDataIntegrityError(err) {
		t.Errorf("got %v, want DATA_INTEGRITY error", err)
	}
}

func TestLoader_CorruptMatrix(t *testing.T) {
	dir := t.TempDir()
	writeGeneration(t, dir, "20240101000000")
	if err := os.WriteFile(filepath.Join(dir, "game_embeddings_20240101000000.npz"),
		[]byte("definitely not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewLoader(dir).Load(context.Background())
	if !core.IsDataIntegrityError(err) {
		t.Errorf("got %v, want DATA_INTEGRITY error", err)
	}
}

func TestLoader_MappingCardinalityMismatch(t *testing.T) {
	dir := t.TempDir()
	writeGeneration(t, dir, "20240101000000")
	// 3 行矩阵配 2 条映射
	if err := os.WriteFile(filepath.Join(dir, "reverse_mappings_20240101000000.json"),
		[]byte(`{"0": 11, "1": 22}`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewLoader(dir).Load(context.Background())
	if !core.IsDataIntegrityError(err) {
		t.Errorf("got %v, want DATA_INTEGRITY error", err)
	}
}

func TestLoader_DuplicateMappedID(t *testing.T) {
	dir := t.TempDir()
	writeGeneration(t, dir, "20240101000000")
	if err := os.WriteFile(filepath.Join(dir, "reverse_mappings_20240101000000.json"),
		[]byte(`{"0": 11, "1": 11, "2": 33}`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewLoader(dir).Load(context.Background())
	if !core.IsDataIntegrityError(err) {
		t.Errorf("got %v, want DATA_INTEGRITY error", err)
	}
}
