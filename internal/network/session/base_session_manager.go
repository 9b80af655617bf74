package session

import (
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
)

// BaseManager 提供了基于内存 map 的 Manager 实现。
//
// 特性：
//   - 使用读写锁保证并发安全；
//   - Register 在遇到重复 ID 时返回错误，避免覆盖旧通道；
//   - Range 在遍历前复制一份通道切片，避免在持锁情况下执行用户回调。
type BaseManager struct {
	mu       sync.RWMutex
	channels map[uint64]Channel
}

// 确保 BaseManager 实现了 Manager 接口。
var _ Manager = (*BaseManager)(nil)

// NewBaseManager 创建一个空的 BaseManager。
func NewBaseManager() *BaseManager {
	return &BaseManager{
		channels: make(map[uint64]Channel),
	}
}

// Register 实现 Manager.Register。
func (m *BaseManager) Register(ch Channel) error {
	if ch == nil {
		return nil
	}
	id := ch.ID()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.channels[id]; exists {
		return errors.Newf("session: channel %d already registered", id)
	}
	m.channels[id] = ch
	return nil
}

// Unregister 实现 Manager.Unregister。
func (m *BaseManager) Unregister(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.channels[id]; !exists {
		return errors.Newf("session: channel %d not found", id)
	}
	delete(m.channels, id)
	return nil
}

// Range 实现 Manager.Range。
func (m *BaseManager) Range(fn func(ch Channel) bool) {
	if fn == nil {
		return
	}

	m.mu.RLock()
	snapshot := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		snapshot = append(snapshot, ch)
	}
	m.mu.RUnlock()

	for _, ch := range snapshot {
		if !fn(ch) {
			return
		}
	}
}

// Count 实现 Manager.Count。
func (m *BaseManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels)
}

// IDGenerator 为通道分配进程内唯一的自增 ID，从 1 开始。
type IDGenerator struct {
	next atomic.Uint64
}

// Next 返回下一个可用的 ID。
func (g *IDGenerator) Next() uint64 {
	return g.next.Inc()
}
