package typeutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	set := NewSet(1, 2, 3)
	assert.True(t, set.Contain(1, 2))
	assert.False(t, set.Contain(1, 4))

	set.Insert(4)
	set.Remove(1)
	assert.ElementsMatch(t, []int{2, 3, 4}, set.Collect())

	clone := set.Clone()
	clone.Clear()
	assert.Equal(t, 0, clone.Len())
	assert.Equal(t, 3, set.Len())
}

func TestOrderedMapKeepsInsertionOrder(t *testing.T) {
	m := NewOrderedMap[string, int]()
	m.Set("carol", 3)
	m.Set("alice", 1)
	m.Set("bob", 2)
	m.Set("alice", 10)

	assert.Equal(t, []string{"carol", "alice", "bob"}, m.Keys())
	assert.Equal(t, []int{3, 10, 2}, m.Values())

	v, ok := m.Delete("alice")
	assert.True(t, ok)
	assert.Equal(t, 10, v)
	_, ok = m.Delete("alice")
	assert.False(t, ok)

	assert.Equal(t, []string{"carol", "bob"}, m.Keys())
	assert.Equal(t, 2, m.Len())
	assert.False(t, m.Contain("alice"))

	got, ok := m.Get("bob")
	assert.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestOrderedMapRange(t *testing.T) {
	m := NewOrderedMap[int, string]()
	for i := 0; i < 5; i++ {
		m.Set(i, "v")
	}

	visited := make([]int, 0)
	m.Range(func(k int, _ string) bool {
		visited = append(visited, k)
		return k < 2
	})
	assert.Equal(t, []int{0, 1, 2}, visited)
}
