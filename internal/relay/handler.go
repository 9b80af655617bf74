package relay

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/session-relay-go/internal/json"
	"github.com/lk2023060901/session-relay-go/internal/network/session"
	"github.com/lk2023060901/session-relay-go/internal/relay/protocol"
	"github.com/lk2023060901/session-relay-go/pkg/log"
	"github.com/lk2023060901/session-relay-go/pkg/metrics"
	"github.com/lk2023060901/session-relay-go/pkg/util/merr"
)

// Handler 是单个客户端通道的协议状态机。
//
// 说明：
//   - 未加入会话时 conn 为 nil（Unbound），加入后为绑定的 Connection（Bound）；
//   - Handle 必须由同一个协程按消息到达顺序调用，Handler 本身不加锁；
//   - 输入类错误以错误信封回复给客户端，状态保持不变，其余错误只记录日志。
type Handler struct {
	registry *Registry
	channel  session.Channel
	conn     *Connection
}

// NewHandler 为通道 ch 创建一个处于 Unbound 状态的 Handler。
func NewHandler(registry *Registry, ch session.Channel) *Handler {
	return &Handler{
		registry: registry,
		channel:  ch,
	}
}

// Connection 返回当前绑定的 Connection，未加入会话时返回 nil。
func (h *Handler) Connection() *Connection {
	return h.conn
}

// Handle 处理一条客户端消息。
//
// 流程：
//  1. 解析外层信息（JSON 对象、action、回显用的 id）；
//  2. 检查动作要求的状态（create/join 要求 Unbound，其余要求 Bound）；
//  3. 解码具体请求并执行；
//  4. 失败时按错误类型回复错误信封或记录日志。
func (h *Handler) Handle(ctx context.Context, payload []byte) {
	env, err := protocol.ParseEnvelope(payload)
	if err != nil {
		h.fail(ctx, err, env.ID)
		return
	}
	metrics.ReceivedMessages.WithLabelValues(env.Action.String()).Inc()

	if err := h.checkState(env.Action); err != nil {
		h.fail(ctx, err, env.ID)
		return
	}
	req, err := env.Decode()
	if err != nil {
		h.fail(ctx, err, env.ID)
		return
	}
	if err := h.dispatch(ctx, req); err != nil {
		h.fail(ctx, err, env.ID)
	}
}

func (h *Handler) checkState(action protocol.Action) error {
	if action.RequiresBound() {
		if h.conn == nil {
			return merr.WrapErrNotConnected(action.String())
		}
		return nil
	}
	if h.conn != nil {
		return merr.WrapErrAlreadyConnected(h.conn.session.displayID, h.conn.username)
	}
	return nil
}

func (h *Handler) dispatch(ctx context.Context, req protocol.Request) error {
	switch req := req.(type) {
	case *protocol.CreateRequest:
		return h.create(ctx, req)
	case *protocol.JoinRequest:
		return h.join(ctx, req)
	case *protocol.SendRequest:
		return h.send(ctx, req)
	case *protocol.ForwardRequest:
		return h.conn.session.Forward(ctx, h.conn.username, req)
	case *protocol.LeaveRequest:
		h.conn.Leave(ctx)
		h.conn = nil
		return nil
	default:
		return merr.WrapErrUnknownAction(req.Action().String())
	}
}

// create 创建会话并以创建者身份加入，加入失败时删除刚创建的会话。
func (h *Handler) create(ctx context.Context, req *protocol.CreateRequest) error {
	s, err := h.registry.Create(req.AppName, req.Password)
	if err != nil {
		return err
	}
	conn, err := s.Join(ctx, h.channel, req.Username)
	if err != nil {
		s.Delete()
		return err
	}
	return h.bind(ctx, conn)
}

func (h *Handler) join(ctx context.Context, req *protocol.JoinRequest) error {
	conn, err := h.registry.JoinSession(ctx, req.AppName, req.ID, h.channel, req.Username, req.Password)
	if err != nil {
		return err
	}
	return h.bind(ctx, conn)
}

// bind 记录 Connection 并回复会话状态。
func (h *Handler) bind(ctx context.Context, conn *Connection) error {
	h.conn = conn
	return h.reply(ctx, conn.session.State())
}

// send 投递普通消息，接收方不存在时静默丢弃。
func (h *Handler) send(ctx context.Context, req *protocol.SendRequest) error {
	err := h.conn.session.Send(ctx, h.conn.username, req.User, req.Message)
	if errors.Is(err, merr.ErrUsernameNotFound) {
		log.Ctx(ctx).Debug("discard message to unknown user", log.FieldRecipient(*req.User))
		return nil
	}
	return err
}

// Close 在通道关闭后执行隐式离开，只有仍处于 Bound 状态时才生效。
func (h *Handler) Close(ctx context.Context) {
	if h.conn == nil {
		return
	}
	h.conn.Leave(ctx)
	h.conn = nil
}

func (h *Handler) reply(ctx context.Context, v any) error {
	payload, err := h.registry.opts.Serializer.Marshal(v)
	if err != nil {
		return merr.WrapErrServiceInternal(err.Error(), "marshal reply")
	}
	sendCtx, cancel := context.WithTimeout(ctx, h.registry.opts.SendTimeout)
	defer cancel()
	return h.channel.Send(sendCtx, payload)
}

// fail 将错误回复给客户端或记录日志。
func (h *Handler) fail(ctx context.Context, err error, id json.RawMessage) {
	logger := log.Ctx(ctx)
	if !merr.IsInputError(err) {
		logger.Warn("failed to handle message", zap.Stringer("connection", h), zap.Error(err))
		return
	}

	metrics.ReplyErrors.WithLabelValues(merr.Kind(err)).Inc()
	logger.Debug("reply error to client", zap.Error(err))
	if err := h.reply(ctx, protocol.NewErrorReply(merr.Describe(err), id)); err != nil {
		logger.Warn("failed to reply error", zap.Error(err))
	}
}

func (h *Handler) String() string {
	if h.conn == nil {
		return "Unbound"
	}
	return h.conn.String()
}
