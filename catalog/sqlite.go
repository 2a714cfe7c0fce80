// Package catalog 提供桌游目录的存储实现与水合节点。
// 接口定义在 core 包（依赖倒置）；这里是基础设施层。
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/rushteam/meeplekit/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS games (
    id             INTEGER PRIMARY KEY,
    name           TEXT NOT NULL,
    description    TEXT NOT NULL DEFAULT '',
    year_published INTEGER NOT NULL DEFAULT 0,
    "rank"         INTEGER NOT NULL DEFAULT 0,
    min_players    INTEGER NOT NULL DEFAULT 0,
    max_players    INTEGER NOT NULL DEFAULT 0,
    play_time      INTEGER NOT NULL DEFAULT 0,
    image_url      TEXT NOT NULL DEFAULT '',
    is_expansion   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_games_name ON games(name);
CREATE INDEX IF NOT EXISTS idx_games_rank ON games("rank");

CREATE TABLE IF NOT EXISTS game_mechanics (
    game_id INTEGER NOT NULL REFERENCES games(id),
    name    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mechanics_game ON game_mechanics(game_id);
CREATE INDEX IF NOT EXISTS idx_mechanics_name ON game_mechanics(name);

CREATE TABLE IF NOT EXISTS game_categories (
    game_id INTEGER NOT NULL REFERENCES games(id),
    name    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_categories_game ON game_categories(game_id);
CREATE INDEX IF NOT EXISTS idx_categories_name ON game_categories(name);

CREATE TABLE IF NOT EXISTS game_designers (
    game_id INTEGER NOT NULL REFERENCES games(id),
    name    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_designers_game ON game_designers(game_id);
CREATE INDEX IF NOT EXISTS idx_designers_name ON game_designers(name);

CREATE TABLE IF NOT EXISTS game_publishers (
    game_id INTEGER NOT NULL REFERENCES games(id),
    name    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_publishers_game ON game_publishers(game_id);
CREATE INDEX IF NOT EXISTS idx_publishers_name ON game_publishers(name);

CREATE TABLE IF NOT EXISTS registries (
    name    TEXT NOT NULL,
    game_id INTEGER NOT NULL,
    PRIMARY KEY (name, game_id)
);
`

const gameColumns = `id, name, description, year_published, "rank", min_players, max_players, play_time, image_url, is_expansion`

// SQLiteCatalog 是 SQLite 实现的 core.CatalogStore（纯 Go 驱动，无 cgo）。
type SQLiteCatalog struct {
	db *sqlx.DB
}

var _ core.CatalogStore = (*SQLiteCatalog)(nil)

// Open 打开（必要时初始化）目录数据库。path 可以是 ":memory:"。
func Open(path string) (*SQLiteCatalog, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init catalog schema: %w", err)
	}
	return &SQLiteCatalog{db: db}, nil
}

func (c *SQLiteCatalog) Name() string { return "sqlite" }

func (c *SQLiteCatalog) Close() error { return c.db.Close() }

// GetGame 获取单个桌游详情。
func (c *SQLiteCatalog) GetGame(ctx context.Context, id int64) (*core.Game, error) {
	var g core.Game
	err := c.db.GetContext(ctx, &g,
		`SELECT `+gameColumns+` FROM games WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get game %d: %w", id, err)
	}
	out := map[int64]*core.Game{id: &g}
	if err := c.loadFacets(ctx, out); err != nil {
		return nil, err
	}
	return &g, nil
}

// GetGamesByIDs 单次集合查询批量取回桌游；不存在的 ID 缺席于结果。
func (c *SQLiteCatalog) GetGamesByIDs(ctx context.Context, ids []int64) (map[int64]*core.Game, error) {
	out := make(map[int64]*core.Game, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`SELECT `+gameColumns+` FROM games WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build batch query: %w", err)
	}
	var rows []core.Game
	if err := c.db.SelectContext(ctx, &rows, c.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("batch get games: %w", err)
	}
	for i := range rows {
		g := rows[i]
		out[g.ID] = &g
	}
	if err := c.loadFacets(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRegistry 获取命名子集的 ID 集合；不存在的 registry 返回空集合。
func (c *SQLiteCatalog) GetRegistry(ctx context.Context, name string) (map[int64]struct{}, error) {
	var ids []int64
	if err := c.db.SelectContext(ctx, &ids,
		`SELECT game_id FROM registries WHERE name = ?`, name); err != nil {
		return nil, fmt.Errorf("get registry %q: %w", name, err)
	}
	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// ListGames 分面筛选列表，按榜单排名升序、未上榜排最后。
func (c *SQLiteCatalog) ListGames(ctx context.Context, q *core.GameQuery) ([]*core.Game, error) {
	if q == nil {
		q = &core.GameQuery{}
	}

	var (
		sb    strings.Builder
		conds []string
		args  []any
	)
	sb.WriteString(`SELECT DISTINCT g.` + strings.ReplaceAll(gameColumns, ", ", ", g.") + ` FROM games g`)

	facetJoin := func(table, alias, value string) {
		sb.WriteString(fmt.Sprintf(` JOIN %s %s ON %s.game_id = g.id AND %s.name = ?`, table, alias, alias, alias))
		args = append(args, value)
	}
	if q.Designer != "" {
		facetJoin("game_designers", "fd", q.Designer)
	}
	if q.Mechanic != "" {
		facetJoin("game_mechanics", "fm", q.Mechanic)
	}
	if q.Category != "" {
		facetJoin("game_categories", "fc", q.Category)
	}
	if q.Publisher != "" {
		facetJoin("game_publishers", "fp", q.Publisher)
	}

	if q.Search != "" {
		conds = append(conds, `g.name LIKE ?`)
		args = append(args, "%"+q.Search+"%")
	}
	if q.Players > 0 {
		conds = append(conds, `g.min_players <= ? AND g.max_players >= ?`)
		args = append(args, q.Players, q.Players)
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}

	// 未上榜（rank = 0）排最后
	sb.WriteString(` ORDER BY CASE WHEN g."rank" <= 0 THEN 1 ELSE 0 END, g."rank" ASC, g.id ASC`)

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	sb.WriteString(` LIMIT ? OFFSET ?`)
	args = append(args, limit, q.Offset)

	var rows []core.Game
	if err := c.db.SelectContext(ctx, &rows, sb.String(), args...); err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}

	byID := make(map[int64]*core.Game, len(rows))
	out := make([]*core.Game, 0, len(rows))
	for i := range rows {
		g := &rows[i]
		byID[g.ID] = g
		out = append(out, g)
	}
	if err := c.loadFacets(ctx, byID); err != nil {
		return nil, err
	}
	return out, nil
}

// FilterOptions 枚举所有可用的筛选项。
func (c *SQLiteCatalog) FilterOptions(ctx context.Context) (*core.FilterOptions, error) {
	distinct := func(table string) ([]string, error) {
		var names []string
		err := c.db.SelectContext(ctx, &names,
			`SELECT DISTINCT name FROM `+table+` ORDER BY name`)
		return names, err
	}

	var (
		opts core.FilterOptions
		err  error
	)
	if opts.Designers, err = distinct("game_designers"); err != nil {
		return nil, fmt.Errorf("filter options: %w", err)
	}
	if opts.Mechanics, err = distinct("game_mechanics"); err != nil {
		return nil, fmt.Errorf("filter options: %w", err)
	}
	if opts.Categories, err = distinct("game_categories"); err != nil {
		return nil, fmt.Errorf("filter options: %w", err)
	}
	if opts.Publishers, err = distinct("game_publishers"); err != nil {
		return nil, fmt.Errorf("filter options: %w", err)
	}
	return &opts, nil
}

// UpsertGame 写入或更新一个桌游及其分面（导入/测试用）。
func (c *SQLiteCatalog) UpsertGame(ctx context.Context, g *core.Game) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert game %d: %w", g.ID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO games (`+gameColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    name = excluded.name, description = excluded.description,
		    year_published = excluded.year_published, "rank" = excluded."rank",
		    min_players = excluded.min_players, max_players = excluded.max_players,
		    play_time = excluded.play_time, image_url = excluded.image_url,
		    is_expansion = excluded.is_expansion`,
		g.ID, g.Name, g.Description, g.YearPublished, g.Rank,
		g.MinPlayers, g.MaxPlayers, g.PlayTime, g.ImageURL, g.IsExpansion); err != nil {
		return fmt.Errorf("upsert game %d: %w", g.ID, err)
	}

	facets := []struct {
		table string
		names []string
	}{
		{"game_mechanics", g.Mechanics},
		{"game_categories", g.Categories},
		{"game_designers", g.Designers},
		{"game_publishers", g.Publishers},
	}
	for _, f := range facets {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+f.table+` WHERE game_id = ?`, g.ID); err != nil {
			return fmt.Errorf("upsert game %d facets: %w", g.ID, err)
		}
		for _, name := range f.names {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO `+f.table+` (game_id, name) VALUES (?, ?)`, g.ID, name); err != nil {
				return fmt.Errorf("upsert game %d facets: %w", g.ID, err)
			}
		}
	}

	return tx.Commit()
}

// SetRegistry 覆盖写入一个命名子集（导入/测试用）。
func (c *SQLiteCatalog) SetRegistry(ctx context.Context, name string, ids []int64) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set registry %q: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM registries WHERE name = ?`, name); err != nil {
		return fmt.Errorf("set registry %q: %w", name, err)
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO registries (name, game_id) VALUES (?, ?)`, name, id); err != nil {
			return fmt.Errorf("set registry %q: %w", name, err)
		}
	}
	return tx.Commit()
}

// loadFacets 批量回填分面列表（每张分面表一次集合查询）。
func (c *SQLiteCatalog) loadFacets(ctx context.Context, games map[int64]*core.Game) error {
	if len(games) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(games))
	for id := range games {
		ids = append(ids, id)
	}

	type facetRow struct {
		GameID int64  `db:"game_id"`
		Name   string `db:"name"`
	}
	load := func(table string, assign func(g *core.Game, name string)) error {
		query, args, err := sqlx.In(
			`SELECT game_id, name FROM `+table+` WHERE game_id IN (?) ORDER BY name`, ids)
		if err != nil {
			return fmt.Errorf("load %s: %w", table, err)
		}
		var rows []facetRow
		if err := c.db.SelectContext(ctx, &rows, c.db.Rebind(query), args...); err != nil {
			return fmt.Errorf("load %s: %w", table, err)
		}
		for _, r := range rows {
			if g, ok := games[r.GameID]; ok {
				assign(g, r.Name)
			}
		}
		return nil
	}

	if err := load("game_mechanics", func(g *core.Game, n string) { g.Mechanics = append(g.Mechanics, n) }); err != nil {
		return err
	}
	if err := load("game_categories", func(g *core.Game, n string) { g.Categories = append(g.Categories, n) }); err != nil {
		return err
	}
	if err := load("game_designers", func(g *core.Game, n string) { g.Designers = append(g.Designers, n) }); err != nil {
		return err
	}
	return load("game_publishers", func(g *core.Game, n string) { g.Publishers = append(g.Publishers, n) })
}
