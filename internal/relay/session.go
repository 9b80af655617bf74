package relay

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lk2023060901/session-relay-go/internal/json"
	"github.com/lk2023060901/session-relay-go/internal/network/session"
	"github.com/lk2023060901/session-relay-go/internal/relay/protocol"
	"github.com/lk2023060901/session-relay-go/pkg/log"
	"github.com/lk2023060901/session-relay-go/pkg/metrics"
	"github.com/lk2023060901/session-relay-go/pkg/util/merr"
	"github.com/lk2023060901/session-relay-go/pkg/util/typeutil"
)

// maxUsernameLength 为用户名长度上界（不含），按 Unicode 码点计数。
const maxUsernameLength = 30

// Session 是一组共享同一密码的成员。
//
// 说明：
//   - 成员按加入顺序保存，users 列表总是按该顺序输出；
//   - mu 保护成员表，且在扇出期间保持持有，同一会话内的事件对所有成员按相同顺序投递；
//   - 最后一个成员离开时会话从目录中删除，之后的 Join 返回 SessionNotFound。
type Session struct {
	registry  *Registry
	appname   string
	id        uint32
	displayID string
	password  string
	logger    *log.MLogger

	mu      sync.Mutex
	deleted bool
	members *typeutil.OrderedMap[string, *Connection]
}

func newSession(r *Registry, appname string, id uint32, password string) *Session {
	displayID := FormatSessionID(id)
	return &Session{
		registry:  r,
		appname:   appname,
		id:        id,
		displayID: displayID,
		password:  password,
		logger:    r.Logger().With(log.FieldAppName(appname), log.FieldSession(displayID)),
		members:   typeutil.NewOrderedMap[string, *Connection](),
	}
}

// ID 返回会话的数值 ID。
func (s *Session) ID() uint32 {
	return s.id
}

// DisplayID 返回会话的展示 ID。
func (s *Session) DisplayID() string {
	return s.displayID
}

// AppName 返回会话所属的命名空间。
func (s *Session) AppName() string {
	return s.appname
}

func (s *Session) checkPassword(password string) bool {
	return comparePassword(s.password, password)
}

// Join 以 username 加入会话，返回绑定该通道的 Connection。
//
// 行为：
//   - 用户名为空、不少于 30 个字符或已被占用时返回 InvalidUsername，成员表不变；
//   - 成功后向其余成员投递 {"joined": username, "users": [...]}，
//     users 为插入之后的成员列表；
//   - 会话已被删除时返回 SessionNotFound。
func (s *Session) Join(ctx context.Context, ch session.Channel, username string) (*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleted {
		return nil, merr.WrapErrSessionNotFound(s.displayID)
	}
	if n := protocol.UsernameLength(username); n == 0 || n >= maxUsernameLength {
		return nil, merr.WrapErrInvalidUsername(username, "the username cannot be empty nor too big")
	}
	if s.members.Contain(username) {
		return nil, merr.WrapErrInvalidUsername(username,
			fmt.Sprintf("%s is already connected to session #%s", username, s.displayID))
	}

	conn := newConnection(s, ch, username)
	s.members.Set(username, conn)
	metrics.SessionMembers.Inc()
	s.logger.Info("user joined session", log.FieldUser(username), log.FieldChannel(ch.ID()))

	others := make([]*Connection, 0, s.members.Len()-1)
	s.members.Range(func(name string, c *Connection) bool {
		if name != username {
			others = append(others, c)
		}
		return true
	})
	if err := s.deliverLocked(ctx, &protocol.Joined{Joined: username, Users: s.members.Keys()}, others); err != nil {
		s.logger.Warn("failed to notify join", log.FieldUser(username), zap.Error(err))
	}
	return conn, nil
}

// Leave 将 username 移出会话。
//
// 行为：
//   - username 不在会话中时返回 UsernameNotFound；
//   - 会话变空时同步从目录中删除，否则向剩余成员投递 {"left": username, "users": [...]}。
func (s *Session) Leave(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.members.Get(username)
	if !ok {
		return merr.WrapErrUsernameNotFound(username, "session #"+s.displayID)
	}
	conn.released.Store(true)
	s.removeLocked(ctx, conn)
	return nil
}

// leaveConnection 移除指定的 Connection，若它已不在会话中则什么也不做。
func (s *Session) leaveConnection(ctx context.Context, conn *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.members.Get(conn.username); ok && current == conn {
		s.removeLocked(ctx, conn)
	}
}

func (s *Session) removeLocked(ctx context.Context, conn *Connection) {
	s.members.Delete(conn.username)
	metrics.SessionMembers.Dec()
	s.logger.Info("user left session", log.FieldUser(conn.username), log.FieldChannel(conn.channel.ID()))

	if s.members.Len() == 0 {
		s.deleteLocked()
		return
	}
	left := &protocol.Left{Left: conn.username, Users: s.members.Keys()}
	if err := s.deliverLocked(ctx, left, s.members.Values()); err != nil {
		s.logger.Warn("failed to notify leave", log.FieldUser(conn.username), zap.Error(err))
	}
}

// Delete 将空会话从目录中删除，返回是否删除成功。
// 会话中已有成员（例如并发加入的用户）时不会删除。
func (s *Session) Delete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleted || s.members.Len() > 0 {
		return false
	}
	s.deleteLocked()
	return true
}

func (s *Session) deleteLocked() {
	s.deleted = true
	s.registry.Unregister(s.appname, s.id)
	s.logger.Info("session is empty, and removed")
}

// Send 以 from 的身份发送一条普通消息。
// target 为 nil 时投递给全部成员（包括发送者本身），否则只投递给该成员，成员不存在时返回 UsernameNotFound。
func (s *Session) Send(ctx context.Context, from string, target *string, message json.RawMessage) error {
	event := protocol.NewMessage(from, message)

	s.mu.Lock()
	defer s.mu.Unlock()

	if target == nil {
		return s.deliverLocked(ctx, event, s.members.Values())
	}
	conn, ok := s.members.Get(*target)
	if !ok {
		return merr.WrapErrUsernameNotFound(*target, "session #"+s.displayID)
	}
	return s.deliverLocked(ctx, event, []*Connection{conn})
}

// Forward 以 from 的身份将 request/response 转发给 req.User。
func (s *Session) Forward(ctx context.Context, from string, req *protocol.ForwardRequest) error {
	event := protocol.NewForward(req.Kind, from, req.Message, req.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.members.Get(req.User)
	if !ok {
		return merr.WrapErrUsernameNotFound(req.User, "session #"+s.displayID)
	}
	return s.deliverLocked(ctx, event, []*Connection{conn})
}

// State 返回会话状态快照。
func (s *Session) State() *protocol.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &protocol.State{ID: s.displayID, Users: s.members.Keys()}
}

// Users 按加入顺序返回成员用户名。
func (s *Session) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.members.Keys()
}

func (s *Session) deliverLocked(ctx context.Context, event any, recipients []*Connection) error {
	if len(recipients) == 0 {
		return nil
	}
	payload, err := s.registry.opts.Serializer.Marshal(event)
	if err != nil {
		return merr.WrapErrServiceInternal(err.Error(), "marshal event")
	}
	// 单个接收方的失败已由 fanout 记录，不回传给调用方。
	_ = s.registry.fanout.deliver(ctx, payload, recipients)
	return nil
}
