package embedding

import (
	"archive/zip"
	"fmt"
	"strings"
)

// ReadNPZ 读取 scipy sparse.save_npz 产出的压缩容器并解析为 CSR 矩阵。
// 容器是一个 zip，内含 format/shape/data/indices/indptr 五个 .npy 条目。
func ReadNPZ(path string) (*CSRMatrix, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open npz %s: %w", path, err)
	}
	defer zr.Close()

	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		entries[strings.TrimSuffix(f.Name, ".npy")] = f
	}

	format, err := readEntry(entries, "format")
	if err != nil {
		return nil, err
	}
	if fs, err := format.str(); err != nil {
		return nil, fmt.Errorf("npz format entry: %w", err)
	} else if fs != "csr" {
		return nil, fmt.Errorf("unsupported sparse format %q (want csr)", fs)
	}

	shapeArr, err := readEntry(entries, "shape")
	if err != nil {
		return nil, err
	}
	shape, err := shapeArr.ints()
	if err != nil {
		return nil, fmt.Errorf("npz shape entry: %w", err)
	}
	if len(shape) != 2 {
		return nil, fmt.Errorf("npz shape has %d dimensions (want 2)", len(shape))
	}

	indptrArr, err := readEntry(entries, "indptr")
	if err != nil {
		return nil, err
	}
	indptr, err := indptrArr.ints()
	if err != nil {
		return nil, fmt.Errorf("npz indptr entry: %w", err)
	}

	indicesArr, err := readEntry(entries, "indices")
	if err != nil {
		return nil, err
	}
	indices, err := indicesArr.ints()
	if err != nil {
		return nil, fmt.Errorf("npz indices entry: %w", err)
	}

	dataArr, err := readEntry(entries, "data")
	if err != nil {
		return nil, err
	}
	data, err := dataArr.floats()
	if err != nil {
		return nil, fmt.Errorf("npz data entry: %w", err)
	}

	m, err := NewCSRMatrix(shape[0], shape[1], indptr, indices, data)
	if err != nil {
		return nil, fmt.Errorf("npz %s: %w", path, err)
	}
	return m, nil
}

func readEntry(entries map[string]*zip.File, name string) (*npyArray, error) {
	f, ok := entries[name]
	if !ok {
		return nil, fmt.Errorf("npz entry %q is missing", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open npz entry %q: %w", name, err)
	}
	defer rc.Close()

	arr, err := readNPY(rc)
	if err != nil {
		return nil, fmt.Errorf("npz entry %q: %w", name, err)
	}
	return arr, nil
}
