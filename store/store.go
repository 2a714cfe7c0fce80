package store

// 注意：此包只包含实现，接口定义在 core 包。
// 使用 core.Store 和 core.KeyValueStore 接口。
//
// 典型用途：目录水合缓存（catalog.CachedCatalog）、registry 集合缓存、
// 热门榜单有序集合（recall.HotRecall 的 "rank:games"）。
//
// 示例：
//   var store core.Store = NewMemoryStore()
//   var kvStore core.KeyValueStore = NewMemoryStore()
