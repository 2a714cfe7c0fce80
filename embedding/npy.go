package embedding

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// npy 解析器：只覆盖离线训练工件实际用到的子集。
// 支持小端标量类型（<i4/<i8/<u4/<u8/<f4/<f8）、定长字节串（|Sn）、
// C order、0/1/2 维 shape。不支持 fortran_order 与对象数组。

var npyMagic = []byte("\x93NUMPY")

type npyArray struct {
	descr string
	shape []int
	raw   []byte
}

// count 返回元素数量；标量 shape () 视为 1 个元素。
func (a *npyArray) count() int {
	n := 1
	for _, d := range a.shape {
		n *= d
	}
	return n
}

func (a *npyArray) itemSize() (int, error) {
	switch a.descr {
	case "<f8", "<i8", "<u8":
		return 8, nil
	case "<f4", "<i4", "<u4":
		return 4, nil
	}
	if strings.HasPrefix(a.descr, "|S") {
		return strconv.Atoi(a.descr[2:])
	}
	return 0, fmt.Errorf("unsupported dtype %q", a.descr)
}

// ints 将数组解码为 []int（支持 <i4/<i8/<u4/<u8）。
func (a *npyArray) ints() ([]int, error) {
	n := a.count()
	out := make([]int, n)
	switch a.descr {
	case "<i4", "<u4":
		for i := 0; i < n; i++ {
			out[i] = int(int32(binary.LittleEndian.Uint32(a.raw[i*4:])))
		}
	case "<i8", "<u8":
		for i := 0; i < n; i++ {
			out[i] = int(int64(binary.LittleEndian.Uint64(a.raw[i*8:])))
		}
	default:
		return nil, fmt.Errorf("dtype %q is not an integer type", a.descr)
	}
	return out, nil
}

// floats 将数组解码为 []float64（支持 <f4/<f8）。
func (a *npyArray) floats() ([]float64, error) {
	n := a.count()
	out := make([]float64, n)
	switch a.descr {
	case "<f4":
		for i := 0; i < n; i++ {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(a.raw[i*4:])))
		}
	case "<f8":
		for i := 0; i < n; i++ {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(a.raw[i*8:]))
		}
	default:
		return nil, fmt.Errorf("dtype %q is not a float type", a.descr)
	}
	return out, nil
}

// str 将 |Sn 标量解码为字符串（scipy 的 format.npy）。
func (a *npyArray) str() (string, error) {
	if !strings.HasPrefix(a.descr, "|S") {
		return "", fmt.Errorf("dtype %q is not a byte string", a.descr)
	}
	return string(bytes.TrimRight(a.raw, "\x00")), nil
}

// readNPY 从 r 读取一个完整的 .npy 数组。
func readNPY(r io.Reader) (*npyArray, error) {
	var magic [6]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if !bytes.Equal(magic[:], npyMagic) {
		return nil, fmt.Errorf("not a npy file (bad magic %q)", magic)
	}

	var version [2]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}

	// v1 使用 uint16 头长度，v2/v3 使用 uint32
	var headerLen int
	switch version[0] {
	case 1:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, fmt.Errorf("read header length: %w", err)
		}
		headerLen = int(binary.LittleEndian.Uint16(buf[:]))
	case 2, 3:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, fmt.Errorf("read header length: %w", err)
		}
		headerLen = int(binary.LittleEndian.Uint32(buf[:]))
	default:
		return nil, fmt.Errorf("unsupported npy version %d.%d", version[0], version[1])
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	descr, fortran, shape, err := parseNPYHeader(string(header))
	if err != nil {
		return nil, err
	}
	if fortran {
		return nil, fmt.Errorf("fortran_order arrays are not supported")
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}

	arr := &npyArray{descr: descr, shape: shape, raw: raw}
	size, err := arr.itemSize()
	if err != nil {
		return nil, err
	}
	if want := arr.count() * size; len(raw) != want {
		return nil, fmt.Errorf("data length %d does not match shape (want %d bytes)", len(raw), want)
	}
	return arr, nil
}

// parseNPYHeader 解析 python dict 字面量形式的 npy 头，
// 例如 {'descr': '<f8', 'fortran_order': False, 'shape': (3, 4), }。
func parseNPYHeader(h string) (descr string, fortran bool, shape []int, err error) {
	descr, err = headerStringValue(h, "descr")
	if err != nil {
		return "", false, nil, err
	}

	fortran = strings.Contains(afterKey(h, "fortran_order"), "True")

	shapeStr := afterKey(h, "shape")
	open := strings.Index(shapeStr, "(")
	close_ := strings.Index(shapeStr, ")")
	if open < 0 || close_ < open {
		return "", false, nil, fmt.Errorf("malformed shape in npy header %q", h)
	}
	for _, part := range strings.Split(shapeStr[open+1:close_], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, perr := strconv.Atoi(part)
		if perr != nil {
			return "", false, nil, fmt.Errorf("malformed shape dimension %q", part)
		}
		shape = append(shape, d)
	}
	return descr, fortran, shape, nil
}

// afterKey 返回头字符串中 'key': 之后的内容。
func afterKey(h, key string) string {
	idx := strings.Index(h, "'"+key+"'")
	if idx < 0 {
		return ""
	}
	rest := h[idx+len(key)+2:]
	if colon := strings.Index(rest, ":"); colon >= 0 {
		return rest[colon+1:]
	}
	return ""
}

func headerStringValue(h, key string) (string, error) {
	rest := afterKey(h, key)
	first := strings.Index(rest, "'")
	if first < 0 {
		return "", fmt.Errorf("missing %q in npy header %q", key, h)
	}
	second := strings.Index(rest[first+1:], "'")
	if second < 0 {
		return "", fmt.Errorf("malformed %q in npy header %q", key, h)
	}
	return rest[first+1 : first+1+second], nil
}
