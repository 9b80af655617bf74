package typeutil

// OrderedMap 是按插入顺序遍历的 map。
//
// 说明：
//   - 对已存在的 key 再次 Set 只更新值，不改变顺序；
//   - Delete 的复杂度为 O(n)，适用于元素数量较少的场景（例如会话成员）；
//   - 非并发安全，需要由调用方加锁。
type OrderedMap[K comparable, V any] struct {
	keys   []K
	values map[K]V
}

func NewOrderedMap[K comparable, V any]() *OrderedMap[K, V] {
	return &OrderedMap[K, V]{
		values: make(map[K]V),
	}
}

// Get 返回 key 对应的值以及是否存在。
func (m *OrderedMap[K, V]) Get(key K) (V, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Contain 判断 key 是否存在。
func (m *OrderedMap[K, V]) Contain(key K) bool {
	_, ok := m.values[key]
	return ok
}

// Set 写入键值对。
func (m *OrderedMap[K, V]) Set(key K, value V) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Delete 删除 key，返回被删除的值以及 key 是否存在。
func (m *OrderedMap[K, V]) Delete(key K) (V, bool) {
	v, ok := m.values[key]
	if !ok {
		return v, false
	}
	delete(m.values, key)
	for i := range m.keys {
		if m.keys[i] == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
	return v, true
}

// Len 返回元素个数。
func (m *OrderedMap[K, V]) Len() int {
	return len(m.keys)
}

// Keys 按插入顺序返回所有 key 的拷贝。
func (m *OrderedMap[K, V]) Keys() []K {
	keys := make([]K, len(m.keys))
	copy(keys, m.keys)
	return keys
}

// Values 按插入顺序返回所有值。
func (m *OrderedMap[K, V]) Values() []V {
	values := make([]V, 0, len(m.keys))
	for _, k := range m.keys {
		values = append(values, m.values[k])
	}
	return values
}

// Range 按插入顺序遍历，回调返回 false 时提前结束。
func (m *OrderedMap[K, V]) Range(f func(key K, value V) bool) {
	for _, k := range m.keys {
		if !f(k, m.values[k]) {
			return
		}
	}
}
