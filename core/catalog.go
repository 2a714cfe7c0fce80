package core

import "context"

// CatalogStore 是桌游目录存储的领域接口。
//
// 设计原则：
//   - 定义在领域层（core），由基础设施层（catalog）实现
//   - 遵循依赖倒置原则：领域层定义接口，基础设施层实现接口
//   - 推荐链路对目录只读；水合使用单次批量查询，不做逐 ID 往返
//
// 使用场景：
//   - 候选水合：按 ID 集合批量取回 Game 实体
//   - registry 限定：取回命名子集的 ID 集合（例如 "ranked" 榜单游戏）
//   - 目录浏览：分面筛选列表、详情、筛选项枚举
//
// 实现：
//   - catalog.SQLiteCatalog 实现此接口
//   - catalog.CachedCatalog 在任意实现外加 core.Store 缓存
type CatalogStore interface {
	// Name 返回存储后端名称（用于日志/监控）
	Name() string

	// GetGame 获取单个桌游详情；不存在时返回 ErrGameNotFound
	GetGame(ctx context.Context, id int64) (*Game, error)

	// GetGamesByIDs 按 ID 集合批量获取桌游（单次集合查询）。
	// 目录中不存在的 ID 不报错，直接缺席于结果 map。
	GetGamesByIDs(ctx context.Context, ids []int64) (map[int64]*Game, error)

	// GetRegistry 获取命名子集的 ID 集合（例如 "ranked"）。
	// registry 不存在时返回空集合，不报错。
	GetRegistry(ctx context.Context, name string) (map[int64]struct{}, error)

	// ListGames 分面筛选列表（搜索/人数/设计师/机制/类别/出版社），
	// 按榜单排名升序，未上榜排最后
	ListGames(ctx context.Context, q *GameQuery) ([]*Game, error)

	// FilterOptions 枚举所有可用的筛选项
	FilterOptions(ctx context.Context) (*FilterOptions, error)

	// Close 关闭连接/释放资源
	Close() error
}

// GameQuery 是 ListGames 的分面筛选条件；零值字段不参与筛选。
type GameQuery struct {
	Search    string // 名称模糊搜索
	Players   int    // 人数：min_players <= Players <= max_players
	Designer  string
	Mechanic  string
	Category  string
	Publisher string

	Offset int
	Limit  int // <= 0 时使用默认 100
}

// FilterOptions 是目录的可用筛选项枚举。
type FilterOptions struct {
	Designers  []string `json:"designers"`
	Mechanics  []string `json:"mechanics"`
	Categories []string `json:"categories"`
	Publishers []string `json:"publishers"`
}

// Catalog 错误定义（使用统一的 DomainError）
var (
	// ErrGameNotFound 表示桌游不存在
	ErrGameNotFound = NewDomainError(ModuleCatalog, ErrorCodeNotFound, "catalog: game not found")
)

// IsGameNotFound 检查错误是否为桌游不存在
func IsGameNotFound(err error) bool {
	if err == nil {
		return false
	}
	domainErr := GetDomainError(err)
	if domainErr != nil && domainErr.Module == ModuleCatalog {
		return domainErr.Code == ErrorCodeNotFound
	}
	return false
}
