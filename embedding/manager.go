package embedding

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Manager 是进程级的模型缓存：懒加载、全进程至多加载一次。
//
// 并发契约：未初始化 → 已初始化的状态迁移由互斥锁保护，并发的首批
// 调用方不会触发重复加载。加载失败的结果同样被缓存：后续 Get 直接
// 返回同一个错误，不做自动重试；恢复由显式 Reload 驱动。
//
// 在进程入口构造一次，按引用注入到各请求处理方，不要做包级单例。
type Manager struct {
	loader ModelLoader
	logger zerolog.Logger

	mu     sync.Mutex
	loaded bool
	model  *Model
	err    error
}

// NewManager 创建模型管理器。
func NewManager(loader ModelLoader, logger zerolog.Logger) *Manager {
	return &Manager{
		loader: loader,
		logger: logger.With().Str("component", "embedding").Logger(),
	}
}

// Get 返回缓存的模型，首次调用时触发加载。
func (m *Manager) Get(ctx context.Context) (*Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		m.load(ctx)
	}
	return m.model, m.err
}

// Reload 丢弃缓存并重新加载（运维显式触发，没有自动失效）。
// 重载失败时保留失败结果，与首次加载失败的语义一致。
func (m *Manager) Reload(ctx context.Context) (*Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.load(ctx)
	return m.model, m.err
}

// load 调用方必须持有 m.mu。
func (m *Manager) load(ctx context.Context) {
	model, err := m.loader.Load(ctx)
	m.model, m.err = model, err
	m.loaded = true

	if err != nil {
		m.logger.Error().Err(err).Msg("load embedding model failed")
		return
	}
	m.logger.Info().
		Str("generation", model.Generation()).
		Int("items", model.Rows()).
		Int("dimension", model.Matrix().Cols()).
		Msg("embedding model loaded")
}
