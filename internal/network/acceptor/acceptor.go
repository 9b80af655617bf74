package acceptor

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	network "github.com/lk2023060901/session-relay-go/internal/network"
	"github.com/lk2023060901/session-relay-go/internal/network/session"
)

// Route 描述一条挂载在接入层 HTTP 服务上的附加路由（例如 /metrics、/healthz）。
type Route struct {
	Method  string
	Path    string
	Handler http.Handler
}

// Config 描述 Acceptor 的配置。
//
// 说明：
//   - Path 控制 WebSocket 的升级路径（如 "/"）；
//   - Session 为每条通道的收发参数，见 session.Options；
//   - RateLimit/RateBurst 控制单个连接每秒允许的入站消息数，RateLimit 为 0 表示不限流；
//   - Routes 为挂载在同一 HTTP 服务上的附加路由。
type Config struct {
	Path    string
	Session session.Options

	RateLimit rate.Limit
	RateBurst int

	EnableCompression bool

	// Upgrader 允许调用方自定义 gorilla/websocket 的升级行为。
	// 若为 nil，则使用内部默认的 Upgrader（接受任意 Origin）。
	Upgrader *websocket.Upgrader

	Routes []Route

	// ReadHeaderTimeout 为 HTTP 请求头读取超时。
	ReadHeaderTimeout time.Duration
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		Path:              "/",
		Session:           session.DefaultOptions(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler 由框架使用者实现，用于在连接的各个阶段插入自定义逻辑。
//
// 说明：
//   - 同一条通道上的 OnConnected/OnMessage/OnClosed 在同一个协程中按顺序调用；
//   - 不同通道的回调并发执行，实现方需自行保证共享状态的并发安全。
type Handler interface {
	// OnConnected 在握手成功并创建好通道后被调用。
	OnConnected(ch session.Channel)

	// OnMessage 在读到一条完整消息后被调用，payload 为帧内的原始字节。
	OnMessage(ch session.Channel, payload []byte)

	// OnClosed 在通道生命周期结束时被调用一次。
	//
	// 参数 err 为关闭原因，正常关闭时为 nil。
	OnClosed(ch session.Channel, err error)

	// OnError 在通道处理的各个阶段发生错误时被调用。
	//
	// stage 用于标识错误发生的位置；握手失败时 ch 为 nil。
	OnError(ch session.Channel, stage network.Stage, err error)
}

// Acceptor 抽象了服务器侧的 WebSocket 接入层。
//
// 职责：
//   - 在指定 listener 上监听 HTTP，并处理 WebSocket 升级；
//   - 为每个连接创建 Channel，并调用 Handler 的各阶段回调；
//   - 维护当前活跃通道列表，便于运维与监控。
type Acceptor interface {
	// Serve 在给定 listener 上启动服务，阻塞直至 ctx 取消或出现致命错误。
	Serve(ctx context.Context, ln net.Listener, h Handler) error

	// Close 主动关闭所有通道以及内部资源。
	Close() error

	// Channels 返回当前活跃通道的快照。
	Channels() []session.Channel
}
