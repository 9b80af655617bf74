package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/session-relay-go/pkg/log"
	"github.com/lk2023060901/session-relay-go/pkg/util/merr"
)

// Options 描述单条 WebSocket 通道的收发参数。
//
// 说明：
//   - WriteTimeout 为单次写帧的超时时间，为 0 表示不设置 deadline；
//   - PongWait 为等待对端任意数据（包括 Pong）的最长时间，为 0 表示不设置读 deadline；
//   - PingPeriod 为发送 Ping 的周期，为 0 表示不发送 Ping，应小于 PongWait；
//   - ReadLimit 为单条消息的最大字节数，为 0 表示不限制。
type Options struct {
	SendQueueSize int
	WriteTimeout  time.Duration
	PongWait      time.Duration
	PingPeriod    time.Duration
	ReadLimit     int64
}

// DefaultOptions 返回一组适用于大多数场景的默认参数。
func DefaultOptions() Options {
	return Options{
		SendQueueSize: 256,
		WriteTimeout:  10 * time.Second,
		PongWait:      60 * time.Second,
		PingPeriod:    54 * time.Second,
		ReadLimit:     1 << 20,
	}
}

// closeFrameTimeout 为关闭时发送 Close 帧的最长等待时间。
const closeFrameTimeout = time.Second

// outboundMessage 表示一条待发送的文本消息。
// done 的容量为 1，写协程写出后将结果投递进去，发送方可以已经离开。
type outboundMessage struct {
	payload []byte
	done    chan error
}

// WSSession 是基于 gorilla/websocket 的 Channel 实现。
//
// 设计目标：
//   - 读路径由接入层的连接协程调用 Read 串行驱动；
//   - 写路径只在 writeLoop 协程中执行，Send 仅负责投递并等待结果；
//   - 发送队列从不关闭，关闭通道时通过 ctx 通知写协程退出，避免向已关闭的 chan 写入。
type WSSession struct {
	id uint64

	ctx    context.Context
	cancel context.CancelFunc

	conn *websocket.Conn
	opts Options

	sendQueue chan outboundMessage

	// writing 在写协程写帧期间为 true，Close 据此决定是否发送 Close 帧。
	writing atomic.Bool

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// 确保 WSSession 实现了 Channel 接口。
var _ Channel = (*WSSession)(nil)

// NewWSSession 基于已完成升级的 WebSocket 连接创建一个通道，并启动写协程。
//
// 参数：
//   - parent：通道所属的上层上下文（例如 Acceptor 的 Serve ctx）；若为 nil，则使用 context.Background()；
//   - id    ：通道 ID，应在调用侧保证全局唯一；
//   - conn  ：已完成升级的 WebSocket 连接；
//   - opts  ：收发参数。
func NewWSSession(parent context.Context, id uint64, conn *websocket.Conn, opts Options) *WSSession {
	if parent == nil {
		parent = context.Background()
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = DefaultOptions().SendQueueSize
	}
	ctx, cancel := context.WithCancel(parent)

	s := &WSSession{
		id:        id,
		ctx:       ctx,
		cancel:    cancel,
		conn:      conn,
		opts:      opts,
		sendQueue: make(chan outboundMessage, opts.SendQueueSize),
	}

	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}
	s.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		s.extendReadDeadline()
		return nil
	})

	go s.writeLoop()
	return s
}

// ID 实现 Channel.ID。
func (s *WSSession) ID() uint64 {
	return s.id
}

// Context 实现 Channel.Context。
func (s *WSSession) Context() context.Context {
	return s.ctx
}

// RemoteAddr 实现 Channel.RemoteAddr。
func (s *WSSession) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// LocalAddr 实现 Channel.LocalAddr。
func (s *WSSession) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// IsClosed 实现 Channel.IsClosed。
func (s *WSSession) IsClosed() bool {
	return s.closed.Load()
}

// Send 实现 Channel.Send。
func (s *WSSession) Send(ctx context.Context, payload []byte) error {
	if s.closed.Load() {
		return merr.WrapErrChannelClosed(s.id, nil)
	}

	msg := outboundMessage{payload: payload, done: make(chan error, 1)}
	select {
	case <-s.ctx.Done():
		return merr.WrapErrChannelClosed(s.id, nil)
	case <-ctx.Done():
		return ctx.Err()
	case s.sendQueue <- msg:
	}

	select {
	case err := <-msg.done:
		return err
	case <-s.ctx.Done():
		// 写协程可能已经在关闭前写出了该消息。
		select {
		case err := <-msg.done:
			return err
		default:
		}
		return merr.WrapErrChannelClosed(s.id, nil)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read 读取下一条完整消息，只允许在单个协程中调用。
//
// 说明：
//   - 文本帧与二进制帧都按原样返回，由上层决定如何解码；
//   - 任何读错误都意味着连接不可再用，调用方应结束读循环并关闭通道。
func (s *WSSession) Read() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	s.extendReadDeadline()
	return data, nil
}

// Close 实现 Channel.Close。
//
// 说明：
//   - 写协程空闲时先尽力发送 Close 帧，最多等待 closeFrameTimeout；
//   - 写协程正阻塞在写帧上（例如对端不再读取）时跳过 Close 帧，直接关闭底层连接，
//     被阻塞的写操作随之返回，Close 不会等待 WriteTimeout。
func (s *WSSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()

		if !s.writing.Load() {
			deadline := time.Now().Add(closeFrameTimeout)
			if s.opts.WriteTimeout > 0 && s.opts.WriteTimeout < closeFrameTimeout {
				deadline = time.Now().Add(s.opts.WriteTimeout)
			}
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		}
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// write 写出一帧。ctx 已取消时不再写出，与 Close 对 writing 的检查配合，
// 保证 Close 只在没有进行中的写操作时才发送 Close 帧。
func (s *WSSession) write(messageType int, payload []byte) error {
	s.writing.Store(true)
	defer s.writing.Store(false)
	if s.ctx.Err() != nil {
		return merr.WrapErrChannelClosed(s.id, nil)
	}
	s.setWriteDeadline()
	return s.conn.WriteMessage(messageType, payload)
}

// writeLoop 为每个通道启动的专职写协程。
//
// 行为：
//   - 从 sendQueue 中按顺序取出待发送消息并写出，结果回传给发送方；
//   - 按 PingPeriod 周期发送 Ping，维持 NAT/代理上的连接活性；
//   - 写失败视为通道异常，关闭通道以触发上层清理。
func (s *WSSession) writeLoop() {
	var tick <-chan time.Time
	if s.opts.PingPeriod > 0 {
		ticker := time.NewTicker(s.opts.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.sendQueue:
			err := s.write(websocket.TextMessage, msg.payload)
			if err != nil && !errors.Is(err, merr.ErrChannelClosed) {
				err = merr.WrapErrChannelClosed(s.id, err)
			}
			msg.done <- err
			if err != nil {
				log.Ctx(s.ctx).Debug("write websocket message failed", zap.Error(err))
				_ = s.Close()
				return
			}

		case <-tick:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				log.Ctx(s.ctx).Debug("write websocket ping failed", zap.Error(err))
				_ = s.Close()
				return
			}
		}
	}
}

func (s *WSSession) setWriteDeadline() {
	if s.opts.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	}
}

func (s *WSSession) extendReadDeadline() {
	if s.opts.PongWait > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	}
}
