package client

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/session-relay-go/internal/json"
	"github.com/lk2023060901/session-relay-go/internal/relay/protocol"
	"github.com/lk2023060901/session-relay-go/pkg/log"
)

var validate = validator.New()

// Client 为中继服务的 Go 客户端，一个 Client 对应一个会话中的一个用户。
type Client struct {
	log.Binder

	cfg      Config
	handlers Handlers
	conn     *websocket.Conn

	sessionID string

	writeMu sync.Mutex

	mu      sync.RWMutex
	users   []string
	pending map[uint64]chan askResult

	nextID atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

type askResult struct {
	response json.RawMessage
	err      error
}

// Create 连接中继服务，创建一个新会话并以 cfg.Username 加入。
func Create(ctx context.Context, cfg Config, h Handlers) (*Client, error) {
	return open(ctx, cfg, h, map[string]any{
		"action":   protocol.ActionCreate,
		"password": cfg.Password,
		"username": cfg.Username,
		"appname":  cfg.AppName,
	})
}

// Join 连接中继服务并加入展示 ID 为 sessionID 的会话。
func Join(ctx context.Context, cfg Config, sessionID string, h Handlers) (*Client, error) {
	return open(ctx, cfg, h, map[string]any{
		"action":   protocol.ActionJoin,
		"id":       sessionID,
		"password": cfg.Password,
		"username": cfg.Username,
		"appname":  cfg.AppName,
	})
}

// open 拨号、发送 create/join 并等待会话状态。
//
// 流程：
//  1. 校验配置并按指数退避拨号；
//  2. 发送首条请求，同步读取回复；
//  3. 回复为错误信封时关闭连接并返回 RemoteError，否则记录会话状态并启动读协程。
func open(ctx context.Context, cfg Config, h Handlers, hello map[string]any) (*Client, error) {
	if err := validate.Struct(&cfg); err != nil {
		return nil, errors.Wrap(err, "invalid client config")
	}

	conn, err := dial(ctx, &cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		handlers: h,
		conn:     conn,
		pending:  make(map[uint64]chan askResult),
		done:     make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.SetLogger(log.With(log.FieldComponent("relay-client"), log.FieldAppName(cfg.AppName), log.FieldUser(cfg.Username)))

	if err := c.handshake(ctx, hello); err != nil {
		_ = conn.Close()
		c.cancel()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

func dial(ctx context.Context, cfg *Config) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = cfg.DialRetryTimeout
	b.Reset()

	for {
		conn, _, err := cfg.dialer().DialContext(ctx, cfg.URL, nil)
		if err == nil {
			return conn, nil
		}
		if cfg.DialRetryTimeout <= 0 {
			return nil, errors.Wrapf(err, "dial %s", cfg.URL)
		}
		next := b.NextBackOff()
		if next == backoff.Stop {
			return nil, errors.Wrapf(err, "dial %s: retries exhausted", cfg.URL)
		}
		log.Ctx(ctx).Debug("dial relay failed, wait for retry", zap.String("url", cfg.URL), zap.Duration("next", next), zap.Error(err))
		select {
		case <-time.After(next):
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "dial %s", cfg.URL)
		}
	}
}

func (c *Client) handshake(ctx context.Context, hello map[string]any) error {
	if err := c.write(ctx, hello); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
		defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return errors.Wrap(err, "read session state")
	}
	var reply struct {
		Error *string         `json:"error"`
		ID    json.RawMessage `json:"id"`
		Users []string        `json:"users"`
	}
	if err := json.Unmarshal(data, &reply); err != nil {
		return errors.Wrap(ErrUnexpectedReply, err.Error())
	}
	if reply.Error != nil {
		return newRemoteError(*reply.Error, reply.ID)
	}

	state := protocol.State{Users: reply.Users}
	if err := json.Unmarshal(reply.ID, &state.ID); err != nil || state.ID == "" {
		return errors.Wrapf(ErrUnexpectedReply, "%s", data)
	}
	c.sessionID = state.ID
	c.users = state.Users
	return nil
}

// ID 返回会话的展示 ID，可分享给其他用户用于加入。
func (c *Client) ID() string {
	return c.sessionID
}

// Username 返回本客户端的用户名。
func (c *Client) Username() string {
	return c.cfg.Username
}

// Users 按加入顺序返回成员列表的缓存。
func (c *Client) Users() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	users := make([]string, len(c.users))
	copy(users, c.users)
	return users
}

// Send 向 user 发送一条普通消息，不检查 user 是否存在（不存在时服务端丢弃）。
func (c *Client) Send(ctx context.Context, user string, message any) error {
	return c.write(ctx, map[string]any{
		"action":  protocol.ActionSend,
		"user":    user,
		"message": message,
	})
}

// Broadcast 向会话内全部成员（包括自己）发送一条普通消息。
func (c *Client) Broadcast(ctx context.Context, message any) error {
	return c.write(ctx, map[string]any{
		"action":  protocol.ActionSend,
		"user":    nil,
		"message": message,
	})
}

// Ask 向 user 发送一条请求，阻塞直到收到响应、错误信封、连接关闭或 ctx 结束。
func (c *Client) Ask(ctx context.Context, user string, message any) (json.RawMessage, error) {
	id := c.nextID.Inc()
	ch := make(chan askResult, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, map[string]any{
		"action":  protocol.ActionRequest,
		"user":    user,
		"message": message,
		"id":      id,
	}); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		return res.response, res.err
	case <-c.done:
		return nil, c.closeErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Leave 离开会话并关闭连接。
func (c *Client) Leave(ctx context.Context) error {
	err := c.write(ctx, map[string]any{"action": protocol.ActionLeave})
	return errors.CombineErrors(err, c.Close())
}

// Close 关闭连接，服务端会执行隐式离开。
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		// 先取消 ctx，读协程据此区分主动关闭与连接异常。
		c.cancel()
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// Done 在读协程退出（连接关闭）后关闭。
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err 返回连接关闭的原因，主动关闭时为 ErrClosed。
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.closeErr()
	default:
		return nil
	}
}

func (c *Client) closeErr() error {
	if c.err != nil {
		return c.err
	}
	return ErrClosed
}

func (c *Client) write(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	deadline := time.Now().Add(c.cfg.writeTimeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.Wrap(err, "write to relay")
	}
	return nil
}

func (c *Client) readLoop() {
	defer func() {
		_ = c.Close()
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && c.ctx.Err() == nil {
				c.err = errors.Wrap(err, "read from relay")
				c.Logger().Warn("relay connection lost", zap.Error(err))
			}
			return
		}
		c.dispatch(data)
	}
}

// dispatch 按字段区分服务端消息：request、response、error、message、joined、left。
func (c *Client) dispatch(data []byte) {
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.Logger().Warn("drop malformed message from relay", zap.Error(err))
		return
	}
	from := c.stringField(msg, "from")

	if request, ok := msg["request"]; ok {
		go c.respond(from, request, msg["id"])
		return
	}
	if response, ok := msg["response"]; ok {
		if ch, ok := c.pendingFor(msg["id"]); ok {
			resolve(ch, askResult{response: response})
		}
		return
	}
	if desc, ok := msg["error"]; ok {
		var text string
		_ = json.Unmarshal(desc, &text)
		rerr := newRemoteError(text, msg["id"])
		if ch, ok := c.pendingFor(msg["id"]); ok {
			resolve(ch, askResult{err: rerr})
			return
		}
		if c.handlers.OnError != nil {
			c.handlers.OnError(rerr)
		}
		return
	}
	if message, ok := msg["message"]; ok {
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(from, message)
		}
		return
	}
	if _, ok := msg["joined"]; ok {
		c.updateUsers(msg["users"])
		if c.handlers.OnJoin != nil {
			c.handlers.OnJoin(c.stringField(msg, "joined"))
		}
		return
	}
	if _, ok := msg["left"]; ok {
		c.updateUsers(msg["users"])
		if c.handlers.OnLeave != nil {
			c.handlers.OnLeave(c.stringField(msg, "left"))
		}
		return
	}
	c.Logger().Debug("ignore unknown message from relay", zap.ByteString("message", data))
}

func (c *Client) respond(from string, request, id json.RawMessage) {
	var response any = fmt.Sprintf("REQUEST NOT HANDLED: %s", request)
	if c.handlers.OnRequest != nil {
		response = c.handlers.OnRequest(c.ctx, from, request)
	}
	if id == nil {
		id = json.Null
	}
	err := c.write(c.ctx, map[string]any{
		"action":  protocol.ActionResponse,
		"user":    from,
		"message": response,
		"id":      id,
	})
	if err != nil {
		c.Logger().Warn("failed to send response", log.FieldRecipient(from), zap.Error(err))
	}
}

func (c *Client) pendingFor(raw json.RawMessage) (chan askResult, bool) {
	if json.IsNull(raw) {
		return nil, false
	}
	id, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.pending[id]
	return ch, ok
}

func resolve(ch chan askResult, res askResult) {
	select {
	case ch <- res:
	default:
	}
}

func (c *Client) updateUsers(raw json.RawMessage) {
	var users []string
	if err := json.Unmarshal(raw, &users); err != nil {
		c.Logger().Warn("drop malformed users list", zap.Error(err))
		return
	}
	c.mu.Lock()
	c.users = users
	c.mu.Unlock()
}

func (c *Client) stringField(msg map[string]json.RawMessage, key string) string {
	var s string
	_ = json.Unmarshal(msg[key], &s)
	return s
}
