package acceptor

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	network "github.com/lk2023060901/session-relay-go/internal/network"
	"github.com/lk2023060901/session-relay-go/internal/network/session"
	"github.com/lk2023060901/session-relay-go/pkg/log"
	"github.com/lk2023060901/session-relay-go/pkg/metrics"
)

// WSAcceptor 是 Acceptor 接口的 WebSocket 实现。
//
// 设计目标：
//   - 对外只暴露 Acceptor 接口和 Handler 回调，不绑定具体业务逻辑；
//   - 内部负责：HTTP 路由、WebSocket 升级、创建 Channel、驱动读取并回调 Handler；
//   - 每个连接使用独立的 goroutine 串行读取消息，保证同一通道上 Handler 串行执行。
type WSAcceptor struct {
	cfg      Config
	upgrader *websocket.Upgrader
	channels session.Manager
	ids      session.IDGenerator

	mu     sync.Mutex
	server *http.Server
	closed bool

	conns     sync.WaitGroup
	closeOnce sync.Once
}

// 确保 WSAcceptor 实现了 Acceptor 接口。
var _ Acceptor = (*WSAcceptor)(nil)

// NewWSAcceptor 创建一个 WebSocket 接入器。
//
// 参数：
//   - cfg：接入配置，零值字段会使用 DefaultConfig 中的默认值；
//   - sm ：通道管理器，可为 nil，为 nil 时使用内部的 BaseManager。
func NewWSAcceptor(cfg Config, sm session.Manager) *WSAcceptor {
	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = def.ReadHeaderTimeout
	}
	if sm == nil {
		sm = session.NewBaseManager()
	}

	upgrader := cfg.Upgrader
	if upgrader == nil {
		upgrader = &websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// 浏览器客户端通常与中继部署在不同源上。
			CheckOrigin: func(*http.Request) bool { return true },
		}
	}
	upgrader.EnableCompression = cfg.EnableCompression

	return &WSAcceptor{
		cfg:      cfg,
		upgrader: upgrader,
		channels: sm,
	}
}

// Serve 实现 Acceptor.Serve。
//
// 行为：
//   - ctx 取消后关闭 HTTP 服务与全部通道，等待所有连接协程退出后返回 nil；
//   - HTTP 服务异常退出时返回对应错误。
func (a *WSAcceptor) Serve(ctx context.Context, ln net.Listener, h Handler) error {
	if h == nil {
		return errors.New("acceptor: handler is nil")
	}
	if ln == nil {
		return errors.New("acceptor: listener is nil")
	}

	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, a.cfg.Path, func(w http.ResponseWriter, r *http.Request) {
		a.handleUpgrade(ctx, w, r, h)
	})
	for _, route := range a.cfg.Routes {
		router.Handler(route.Method, route.Path, route.Handler)
	}

	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
	}
	a.mu.Lock()
	a.server = server
	a.mu.Unlock()

	log.Ctx(ctx).Info("websocket acceptor serving",
		zap.Stringer("addr", ln.Addr()),
		zap.String("path", a.cfg.Path))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ln)
	}()

	var err error
	select {
	case <-ctx.Done():
		_ = a.Close()
		<-serveErr
	case err = <-serveErr:
		_ = a.Close()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	a.conns.Wait()
	return err
}

// Close 实现 Acceptor.Close。
func (a *WSAcceptor) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		server := a.server
		a.closed = true
		a.mu.Unlock()
		if server != nil {
			// 已升级的连接不受 http.Server 管理，需要单独关闭。
			err = server.Close()
		}
		a.channels.Range(func(ch session.Channel) bool {
			_ = ch.Close()
			return true
		})
	})
	return err
}

// Channels 实现 Acceptor.Channels。
func (a *WSAcceptor) Channels() []session.Channel {
	snapshot := make([]session.Channel, 0, a.channels.Count())
	a.channels.Range(func(ch session.Channel) bool {
		snapshot = append(snapshot, ch)
		return true
	})
	return snapshot
}

// handleUpgrade 完成 WebSocket 升级，并在当前协程中驱动该连接直至结束。
func (a *WSAcceptor) handleUpgrade(ctx context.Context, w http.ResponseWriter, r *http.Request, h Handler) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		http.Error(w, "relay is shutting down", http.StatusServiceUnavailable)
		return
	}
	a.conns.Add(1)
	a.mu.Unlock()
	defer a.conns.Done()

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.RejectedConnections.WithLabelValues("handshake").Inc()
		h.OnError(nil, network.StageHandshake, errors.Mark(err, network.ErrHandshakeFailed))
		return
	}
	id := a.ids.Next()
	chCtx := log.WithFields(ctx,
		log.FieldChannel(id),
		zap.String("remote", r.RemoteAddr),
		zap.String(log.FieldNameTraceID, uuid.NewString()))
	ch := session.NewWSSession(chCtx, id, conn, a.cfg.Session)

	a.handleConnection(ch, h)
}

// handleConnection 处理单条通道的生命周期。
//
// 流程：
//  1. 注册通道并调用 Handler.OnConnected；
//  2. 循环读取消息，经过限流检查后回调 Handler.OnMessage；
//  3. 读失败后关闭通道、移除索引并调用 Handler.OnClosed。
func (a *WSAcceptor) handleConnection(ch *session.WSSession, h Handler) {
	logger := log.Ctx(ch.Context())

	if err := a.channels.Register(ch); err != nil {
		h.OnError(ch, network.StageHandshake, err)
		_ = ch.Close()
		return
	}
	// 注册之后再检查关闭标记：Close 先置位再遍历通道，两者必有其一能关闭该通道。
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		_ = ch.Close()
	}
	metrics.AcceptedConnections.Inc()
	metrics.ActiveConnections.Inc()
	logger.Debug("websocket channel connected")

	var cause error
	defer func() {
		_ = ch.Close()
		_ = a.channels.Unregister(ch.ID())
		metrics.ActiveConnections.Dec()
		h.OnClosed(ch, cause)
		logger.Debug("websocket channel closed", zap.Error(cause))
	}()

	h.OnConnected(ch)

	var limiter *rate.Limiter
	if a.cfg.RateLimit > 0 {
		burst := a.cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(a.cfg.RateLimit, burst)
	}

	for {
		payload, err := ch.Read()
		if err != nil {
			if !isNormalClose(err) && !ch.IsClosed() {
				cause = errors.Mark(err, network.ErrRecvFailed)
				h.OnError(ch, network.StageRecvRaw, cause)
			}
			return
		}

		if limiter != nil && !limiter.Allow() {
			metrics.RejectedConnections.WithLabelValues("rate_limited").Inc()
			h.OnError(ch, network.StageRecvRaw, network.ErrRateLimited)
			continue
		}

		h.OnMessage(ch, payload)
	}
}

// isNormalClose 判断读错误是否属于对端正常断开。
func isNormalClose(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived)
}
