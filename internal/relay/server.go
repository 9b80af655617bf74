package relay

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	network "github.com/lk2023060901/session-relay-go/internal/network"
	"github.com/lk2023060901/session-relay-go/internal/network/acceptor"
	"github.com/lk2023060901/session-relay-go/internal/network/session"
	"github.com/lk2023060901/session-relay-go/pkg/log"
)

// Server 将接入层的通道回调绑定到协议 Handler。
//
// 说明：
//   - 每条通道在 OnConnected 时创建一个 Handler，OnClosed 时移除；
//   - 同一通道的回调由接入层在同一协程中顺序调用，因此 Handler 无需加锁；
//   - 通道关闭后的隐式离开使用与通道脱离的上下文，避免因通道上下文已取消而无法通知其余成员。
type Server struct {
	log.Binder

	registry *Registry
	handlers sync.Map // channel id -> *Handler
}

var _ acceptor.Handler = (*Server)(nil)

// NewServer 创建一个使用 registry 的 Server。
func NewServer(registry *Registry) *Server {
	s := &Server{registry: registry}
	s.SetLogger(log.With(log.FieldModule("relay"), log.FieldComponent("server")))
	return s
}

// Registry 返回 Server 使用的会话目录。
func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) OnConnected(ch session.Channel) {
	s.handlers.Store(ch.ID(), NewHandler(s.registry, ch))
}

func (s *Server) OnMessage(ch session.Channel, payload []byte) {
	h, ok := s.handler(ch.ID())
	if !ok {
		s.Logger().Warn("message from unknown channel", log.FieldChannel(ch.ID()))
		return
	}
	h.Handle(ch.Context(), payload)
}

func (s *Server) OnClosed(ch session.Channel, err error) {
	v, ok := s.handlers.LoadAndDelete(ch.ID())
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ch.Context()), ImplicitLeaveTimeout)
	defer cancel()

	h := v.(*Handler)
	if conn := h.Connection(); conn != nil {
		log.Ctx(ctx).Debug("implicit leave on channel close", zap.Stringer("connection", conn), zap.Error(err))
	}
	h.Close(ctx)
}

func (s *Server) OnError(ch session.Channel, stage network.Stage, err error) {
	fields := []zap.Field{zap.String("stage", string(stage)), zap.Error(err)}
	if ch != nil {
		fields = append(fields, log.FieldChannel(ch.ID()))
	}
	switch {
	case errors.Is(err, network.ErrRateLimited):
		s.Logger().RatedWarn(1, "client exceeds inbound rate limit", fields...)
	case errors.Is(err, network.ErrHandshakeFailed):
		s.Logger().Debug("websocket handshake failed", fields...)
	default:
		s.Logger().Warn("channel error", fields...)
	}
}

// ConnectedChannels 返回当前持有 Handler 的通道数。
func (s *Server) ConnectedChannels() int {
	n := 0
	s.handlers.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *Server) handler(id uint64) (*Handler, bool) {
	v, ok := s.handlers.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Handler), true
}
