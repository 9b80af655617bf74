package client

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lk2023060901/session-relay-go/internal/json"
)

// Config 为连接中继服务的参数。
type Config struct {
	// URL 为中继服务的 WebSocket 地址，例如 ws://127.0.0.1:8765/。
	URL string `validate:"required,url"`
	// AppName 为应用命名空间，不同应用的会话互不可见。
	AppName  string `validate:"required"`
	Username string `validate:"required"`
	Password string

	// WriteTimeout 为单次写入的最长时间。
	WriteTimeout time.Duration
	// DialRetryTimeout 为拨号重试的总时长，0 表示只尝试一次。
	DialRetryTimeout time.Duration
	Dialer           *websocket.Dialer
}

const defaultWriteTimeout = 10 * time.Second

func (c *Config) writeTimeout() time.Duration {
	if c.WriteTimeout <= 0 {
		return defaultWriteTimeout
	}
	return c.WriteTimeout
}

func (c *Config) dialer() *websocket.Dialer {
	if c.Dialer == nil {
		return websocket.DefaultDialer
	}
	return c.Dialer
}

// Handlers 为客户端的事件回调，未设置的回调会被忽略。
//
// 说明：
//   - 回调在客户端的读协程中调用，OnRequest 除外（每个请求一个协程）；
//   - OnJoin/OnLeave 被调用前成员缓存已经更新，回调中调用 Users 可以拿到最新列表。
type Handlers struct {
	// OnMessage 在收到普通消息时被调用。
	OnMessage func(from string, message json.RawMessage)
	// OnRequest 在收到请求时被调用，返回值作为响应回传给请求方。
	// 未设置时回复一条说明请求未被处理的字符串。
	OnRequest func(ctx context.Context, from string, request json.RawMessage) any
	// OnJoin 在新成员加入后被调用。
	OnJoin func(username string)
	// OnLeave 在成员离开后被调用。
	OnLeave func(username string)
	// OnError 在收到与请求无关的错误信封时被调用。
	OnError func(err error)
}
