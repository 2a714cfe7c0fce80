package service

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

	"github.com/rs/zerolog"

	"github.com/rushteam/meeplekit/catalog"
	"github.com/rushteam/meeplekit/core"
	"github.com/rushteam/meeplekit/embedding"
	"github.com/rushteam/meeplekit/pipeline"
)

// --- 装配顺序 ---

// 表达式过滤必须在水合之后执行：water 之前 game 为空，CEL 求值失败会被
// FilterNode 容错跳过，配置里的表达式等于没装。这里用全扩展包目录验证
// 文档示例表达式真的把候选全部剔除。
func TestAssembleNodes_ExprFilterSeesHydratedGame(t *testing.T) {
	mgr := exprTestManager(t)
	cat := &fakeCatalog{
		games: map[int64]*core.Game{
			1: {ID: 1, Name: "Base A"},
			2: {ID: 2, Name: "Expansion B", IsExpansion: true},
			3: {ID: 3, Name: "Expansion C", IsExpansion: true},
			4: {ID: 4, Name: "Expansion D", IsExpansion: true},
		},
	}

	cfg := &Config{FilterExpr: "game.is_expansion == true"}
	rec := NewRecommender(&pipeline.Pipeline{Nodes: assembleNodes(mgr, cat, cfg)}, cat, zerolog.Nop())

	got := rec.Recommend(context.Background(), &core.RecommendContext{LikedIDs: []int64{1}, Limit: 3})
	if len(got) != 0 {
		t.Fatalf("all candidates are expansions, got %d results: %+v", len(got), got)
	}
}

func TestAssembleNodes_ExprFilterKeepsBaseGames(t *testing.T) {
	mgr := exprTestManager(t)
	cat := &fakeCatalog{
		games: map[int64]*core.Game{
			1: {ID: 1, Name: "Base A"},
			2: {ID: 2, Name: "Expansion B", IsExpansion: true},
			3: {ID: 3, Name: "Base C"},
			4: {ID: 4, Name: "Base D"},
		},
	}

	cfg := &Config{FilterExpr: "game.is_expansion == true"}
	rec := NewRecommender(&pipeline.Pipeline{Nodes: assembleNodes(mgr, cat, cfg)}, cat, zerolog.Nop())

	got := rec.Recommend(context.Background(), &core.RecommendContext{LikedIDs: []int64{1}, Limit: 3})
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2 base games", len(got))
	}
	for _, r := range got {
		if r.Game.IsExpansion {
			t.Errorf("expansion game %d survived the filter", r.Game.ID)
		}
	}
}

// exprTestManager 的模型：id 1 为查询物品，id 2/3/4 相似度递减。
func exprTestManager(t *testing.T) *embedding.Manager {
	t.Helper()
	m := embedding.NewCSRFromDense([][]float64{
		{1, 0},
		{0.9, 0.4},
		{0.7, 0.7},
		{0.4, 0.9},
	})
	model, err := embedding.NewModel(m, map[int]int64{0: 1, 1: 2, 2: 3, 3: 4}, "g1")
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	return embedding.NewManager(embedding.LoaderFunc(func(ctx context.Context) (*embedding.Model, error) {
		return model, nil
	}), zerolog.Nop())
}

// --- 端到端装配：YAML 配置 → New → 推荐 → Close ---

func TestNew_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	modelDir := filepath.Join(dir, "artifacts")
	if err := os.Mkdir(modelDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeModelArtifacts(t, modelDir, "20240101")

	dsn := filepath.Join(dir, "games.db")
	seedSQLiteCatalog(t, dsn)

	cfgPath := filepath.Join(dir, "service.yaml")
	cfgYAML := fmt.Sprintf(`
model_dir: %s
catalog:
  dsn: %s
cache:
  kind: memory
  ttl: 60
recommend:
  default_limit: 3
filter_expr: 'game.is_expansion == true'
diversity: true
`, modelDir, dsn)
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	svc, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	got := svc.Recommend(context.Background(), &core.RecommendContext{LikedIDs: []int64{1}})
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1: %+v", len(got), got)
	}
	// id 3 是扩展包被表达式剔除，id 4 与 liked 正交分数为 0，剩 id 2
	if got[0].Game.ID != 2 || got[0].Game.Name != "Pandemic" {
		t.Errorf("got %+v, want hydrated game 2 (Pandemic)", got[0].Game)
	}
	if got[0].Score <= 0 || got[0].Score > 1 {
		t.Errorf("score out of range: %v", got[0].Score)
	}
}

func TestNew_RejectsIncompleteConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"missing model_dir", &Config{}},
		{"missing catalog dsn", func() *Config {
			c := &Config{ModelDir: "x"}
			return c
		}()},
		{"unknown cache kind", func() *Config {
			c := &Config{ModelDir: "x"}
			c.Catalog.DSN = ":memory:"
			c.Cache.Kind = "memcached"
			return c
		}()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg, zerolog.Nop()); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// seedSQLiteCatalog 建一个最小目录库：4 个桌游，id 3 是扩展包。
func seedSQLiteCatalog(t *testing.T, dsn string) {
	t.Helper()
	cat, err := catalog.Open(dsn)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	defer cat.Close()

	ctx := context.Background()
	games := []*core.Game{
		{ID: 1, Name: "Brass Birmingham", Categories: []string{"Economic"}},
		{ID: 2, Name: "Pandemic", Categories: []string{"Medical"}},
		{ID: 3, Name: "Pandemic: On the Brink", Categories: []string{"Medical"}, IsExpansion: true},
		{ID: 4, Name: "Gloomhaven", Categories: []string{"Adventure"}},
	}
	for _, g := range games {
		if err := cat.UpsertGame(ctx, g); err != nil {
			t.Fatalf("UpsertGame(%d): %v", g.ID, err)
		}
	}
}

// --- 工件构造：与离线导出一致的 npz + 映射 JSON ---

func writeModelArtifacts(t *testing.T, dir, tag string) {
	t.Helper()

	// 行 0..3 ↔ id 1..4：(1,0) (0.8,0.6) (0.6,0.8) (0,1)
	matrix := filepath.Join(dir, "game_embeddings_"+tag+".npz")
	writeCSRNpz(t, matrix,
		4, 2,
		[]int32{0, 1, 3, 5, 6},
		[]int32{0, 0, 1, 0, 1, 1},
		[]float64{1, 0.8, 0.6, 0.6, 0.8, 1},
	)

	mapping := filepath.Join(dir, "reverse_mappings_"+tag+".json")
	if err := os.WriteFile(mapping, []byte(`{"0":1,"1":2,"2":3,"3":4}`), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeCSRNpz(t *testing.T, path string, rows, cols int, indptr, indices []int32, data []float64) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	write := func(name string, b []byte) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip entry %s: %v", name, err)
		}
		if _, err := w.Write(b); err != nil {
			t.Fatalf("zip entry %s: %v", name, err)
		}
	}
	write("format.npy", npyEncode(t, "|S3", nil, []byte("csr")))
	write("shape.npy", npyEncode(t, "<i8", []int{2}, le64(int64(rows), int64(cols))))
	write("indptr.npy", npyEncode(t, "<i4", []int{len(indptr)}, le32(indptr...)))
	write("indices.npy", npyEncode(t, "<i4", []int{len(indices)}, le32(indices...)))
	write("data.npy", npyEncode(t, "<f8", []int{len(data)}, leF64(data...)))
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
}

func npyEncode(t *testing.T, descr string, shape []int, data []byte) []byte {
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

func le64(vals ...int64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
	}
	return out
}

func le32(vals ...int32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
	}
	return out
}

func leF64(vals ...float64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}
