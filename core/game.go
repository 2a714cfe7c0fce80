package core

// Game 是桌游目录实体，由 CatalogStore 提供。
// ID 与 embedding 工件中的物品 ID 同源且稳定。
//
// 推荐链路对 Game 只读：分数等请求级状态由 Item / Recommendation 承载，
// 绝不写回 Game 本身。
type Game struct {
	ID            int64  `db:"id" json:"id"`
	Name          string `db:"name" json:"name"`
	Description   string `db:"description" json:"description,omitempty"`
	YearPublished int    `db:"year_published" json:"year_published,omitempty"`

	// Rank 是榜单排名，0 表示未上榜。
	Rank int `db:"rank" json:"rank,omitempty"`

	MinPlayers int    `db:"min_players" json:"min_players,omitempty"`
	MaxPlayers int    `db:"max_players" json:"max_players,omitempty"`
	PlayTime   int    `db:"play_time" json:"play_time,omitempty"`
	ImageURL   string `db:"image_url" json:"image_url,omitempty"`

	// IsExpansion 标记扩展包（expansion），常用于 registry 限定或过滤。
	IsExpansion bool `db:"is_expansion" json:"is_expansion,omitempty"`

	Mechanics  []string `db:"-" json:"mechanics,omitempty"`
	Categories []string `db:"-" json:"categories,omitempty"`
	Designers  []string `db:"-" json:"designers,omitempty"`
	Publishers []string `db:"-" json:"publishers,omitempty"`
}

// Recommendation 是推荐结果的最终形态：目录实体 + 相似度分数的显式配对。
// 分数不会注入 Game；Game 可能被多个请求共享。
type Recommendation struct {
	Game  *Game   `json:"game"`
	Score float64 `json:"score"`
}
