package relay

import (
	"context"
	"fmt"

	"go.uber.org/atomic"

	"github.com/lk2023060901/session-relay-go/internal/network/session"
)

// Connection 将一个客户端通道绑定到会话中的一个用户名。
type Connection struct {
	session  *Session
	channel  session.Channel
	username string
	released atomic.Bool
}

func newConnection(s *Session, ch session.Channel, username string) *Connection {
	return &Connection{
		session:  s,
		channel:  ch,
		username: username,
	}
}

func (c *Connection) Session() *Session {
	return c.session
}

func (c *Connection) Channel() session.Channel {
	return c.channel
}

func (c *Connection) Username() string {
	return c.username
}

// Leave 让该连接离开会话，只有第一次调用生效。
// 显式 leave 与通道关闭后的隐式 leave 并发时，后到的一方什么也不做。
func (c *Connection) Leave(ctx context.Context) {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	c.session.leaveConnection(ctx, c)
}

// Released 返回该连接是否已经离开会话。
func (c *Connection) Released() bool {
	return c.released.Load()
}

func (c *Connection) String() string {
	return fmt.Sprintf("Connection(#%s, %s)", c.session.displayID, c.username)
}
