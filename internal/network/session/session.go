//go:generate go run go.uber.org/mock/mockgen -source=session.go -destination=../../mocks/mock_channel.go -package=mocks

package session

import (
	"context"
	"net"
)

// Channel 抽象了一条双向的文本消息通道（一条 WebSocket 连接）。
//
// 约定：
//   - 每个 Channel 对应一条底层连接；
//   - Channel ID 使用 64 位无符号整型，在进程内全局唯一；
//   - 框架层只关心连接本身，不关心会话/用户等业务概念。
type Channel interface {
	// ID 返回该通道在进程内的唯一标识。
	//
	// 说明：
	//   - 由接入层在升级完成时分配（自增 uint64）；
	//   - 业务层可以基于该 ID 建立 “通道 <-> 用户” 的映射，或在日志中关联。
	ID() uint64

	// Context 返回与该通道关联的上下文。
	//
	// 说明：
	//   - 通道关闭时 Context.Done() 会被触发；
	//   - 接入层会在其中附带携带 traceID 的 Logger，可通过 log.Ctx 取出。
	Context() context.Context

	// RemoteAddr 返回远端地址（客户端地址）。
	RemoteAddr() net.Addr

	// LocalAddr 返回本端地址（服务器监听地址）。
	LocalAddr() net.Addr

	// Send 发送一条完整的文本消息。
	//
	// 参数：
	//   - ctx    ：控制本次发送的最长等待时间；
	//   - payload：完整的 JSON 文本，调用返回后调用方不得再修改。
	//
	// 行为：
	//   - 消息进入通道的发送队列，由唯一的写协程按顺序写出，保证同一连接上的消息不交叉；
	//   - 阻塞直到消息真正写入底层连接、通道关闭或 ctx 结束；
	//   - 通道已关闭时返回 merr.ErrChannelClosed，ctx 结束时返回 ctx.Err()。
	Send(ctx context.Context, payload []byte) error

	// Close 主动关闭该通道。
	//
	// 说明：
	//   - 尽力发送 WebSocket Close 帧后关闭底层连接，并触发 Context 的取消；
	//   - 多次调用是幂等的，只有第一次调用的结果会被返回。
	Close() error

	// IsClosed 返回通道是否已关闭。
	IsClosed() bool
}
