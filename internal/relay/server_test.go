package relay

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	network "github.com/lk2023060901/session-relay-go/internal/network"
)

func TestServerLifecycle(t *testing.T) {
	registry := newTestRegistry(t)
	server := NewServer(registry)
	assert.Same(t, registry, server.Registry())

	alice, bob := newFakeChannel(), newFakeChannel()
	server.OnConnected(alice)
	server.OnConnected(bob)
	assert.Equal(t, 2, server.ConnectedChannels())

	server.OnMessage(alice, []byte(`{"action":"create","appname":"x","password":"p","username":"alice"}`))
	state := alice.drain()
	require.Len(t, state, 1)
	id := state[0]["id"].(string)

	server.OnMessage(bob, []byte(`{"action":"join","id":"`+id+`","appname":"x","password":"p","username":"bob"}`))
	require.Len(t, bob.drain(), 1)
	require.Len(t, alice.drain(), 1)

	// 通道关闭后上下文已取消，隐式离开仍然要通知其余成员。
	require.NoError(t, alice.Close())
	server.OnClosed(alice, nil)
	assert.Equal(t, 1, server.ConnectedChannels())
	assert.Equal(t, []map[string]any{{"left": "alice", "users": []any{"bob"}}}, bob.drain())

	// 重复的关闭回调不会产生副作用。
	server.OnClosed(alice, nil)

	server.OnClosed(bob, errors.New("read: connection reset"))
	assert.Equal(t, 0, server.ConnectedChannels())
	assert.Equal(t, 0, registry.NamespaceCount())
}

func TestServerIgnoresUnknownChannel(t *testing.T) {
	registry := newTestRegistry(t)
	server := NewServer(registry)

	ch := newFakeChannel()
	server.OnMessage(ch, []byte(`{"action":"leave"}`))
	assert.Empty(t, ch.drain())

	server.OnError(nil, network.StageHandshake, network.ErrHandshakeFailed)
	server.OnError(ch, network.StageRecvRaw, network.ErrRateLimited)
}
