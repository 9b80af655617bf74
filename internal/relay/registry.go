package relay

import (
	"context"
	"crypto/subtle"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/session-relay-go/internal/network/session"
	"github.com/lk2023060901/session-relay-go/pkg/log"
	"github.com/lk2023060901/session-relay-go/pkg/metrics"
	"github.com/lk2023060901/session-relay-go/pkg/util/merr"
)

// maxAllocateAttempts 为分配会话 ID 时的最大尝试次数。
const maxAllocateAttempts = 20

var errNamespaceNotFound = errors.New("namespace not found")

// Registry 是进程内的会话目录，按应用命名空间划分。
//
// 说明：
//   - mu 只保护命名空间表本身，每个命名空间的会话表由命名空间自己的锁保护；
//   - 持有 mu 时不会再去获取命名空间锁，加锁顺序为 会话 → 命名空间 → mu；
//   - 命名空间在最后一个会话被移除时一并删除。
type Registry struct {
	log.Binder

	mu         sync.RWMutex
	namespaces map[string]*namespace

	opts   Options
	fanout *fanout
}

type namespace struct {
	name     string
	mu       sync.Mutex
	dropped  bool
	sessions map[uint32]*Session
}

// NewRegistry 创建一个空的会话目录。
func NewRegistry(opts ...Option) *Registry {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	r := &Registry{
		namespaces: make(map[string]*namespace),
		opts:       o,
	}
	r.fanout = newFanout(o.FanoutPoolSize, o.SendTimeout)
	r.SetLogger(log.With(log.FieldModule("relay")))
	return r
}

// SetLogger 绑定目录的 Logger，扇出使用其派生的 Logger。
// 已创建的会话保留创建时的 Logger。
func (r *Registry) SetLogger(logger *log.MLogger) {
	r.Binder.SetLogger(logger)
	r.fanout.SetLogger(logger.With(log.FieldComponent("fanout")))
}

// Close 释放扇出协程池。之后的投递都会失败。
func (r *Registry) Close() {
	r.fanout.release()
}

// withNamespace 在持有命名空间锁的情况下执行 fn。
//
// 行为：
//   - create 为 false 且命名空间不存在时返回 errNamespaceNotFound；
//   - fn 执行完后若命名空间已空，将其从目录中删除并标记 dropped；
//   - 拿到已被删除的命名空间时重新查找，保证 fn 始终作用于目录中的那一个。
func (r *Registry) withNamespace(name string, create bool, fn func(ns *namespace) error) error {
	for {
		r.mu.RLock()
		ns := r.namespaces[name]
		r.mu.RUnlock()

		if ns == nil {
			if !create {
				return errNamespaceNotFound
			}
			r.mu.Lock()
			if ns = r.namespaces[name]; ns == nil {
				ns = &namespace{name: name, sessions: make(map[uint32]*Session)}
				r.namespaces[name] = ns
			}
			r.mu.Unlock()
		}

		ns.mu.Lock()
		if ns.dropped {
			ns.mu.Unlock()
			continue
		}
		err := fn(ns)
		if len(ns.sessions) == 0 {
			ns.dropped = true
			r.mu.Lock()
			if r.namespaces[name] == ns {
				delete(r.namespaces, name)
			}
			r.mu.Unlock()
		}
		ns.mu.Unlock()
		return err
	}
}

func (r *Registry) allocateLocked(ns *namespace) (uint32, error) {
	for i := 0; i < maxAllocateAttempts; i++ {
		id := r.opts.IDSource() % MaxSessionID
		if _, ok := ns.sessions[id]; !ok {
			return id, nil
		}
	}
	return 0, merr.WrapErrIDAllocationExhausted(ns.name, maxAllocateAttempts)
}

// Allocate 返回命名空间内一个当前未被使用的随机会话 ID。
// 返回的 ID 不会被预留，需要原子地分配并注册时使用 Create。
func (r *Registry) Allocate(appname string) (uint32, error) {
	var id uint32
	err := r.withNamespace(appname, true, func(ns *namespace) (err error) {
		id, err = r.allocateLocked(ns)
		return err
	})
	return id, err
}

// Register 将会话注册到命名空间中。
func (r *Registry) Register(appname string, id uint32, s *Session) error {
	return r.withNamespace(appname, true, func(ns *namespace) error {
		if _, ok := ns.sessions[id]; ok {
			return merr.WrapErrServiceInternal("session id already registered", FormatSessionID(id))
		}
		ns.sessions[id] = s
		metrics.ActiveSessions.Inc()
		return nil
	})
}

// Unregister 从命名空间中移除会话，命名空间变空时一并删除。
func (r *Registry) Unregister(appname string, id uint32) {
	_ = r.withNamespace(appname, false, func(ns *namespace) error {
		if _, ok := ns.sessions[id]; ok {
			delete(ns.sessions, id)
			metrics.ActiveSessions.Dec()
		}
		return nil
	})
}

// Lookup 按命名空间与会话 ID 查找会话。
func (r *Registry) Lookup(appname string, id uint32) (*Session, error) {
	var found *Session
	err := r.withNamespace(appname, false, func(ns *namespace) error {
		if found = ns.sessions[id]; found == nil {
			return merr.WrapErrSessionNotFound(FormatSessionID(id))
		}
		return nil
	})
	if errors.Is(err, errNamespaceNotFound) {
		return nil, merr.WrapErrSessionNotFoundInApp(appname, FormatSessionID(id))
	}
	return found, err
}

// Create 在命名空间中分配 ID 并注册一个新的空会话。
// 分配与注册在同一次命名空间加锁内完成，分配失败时不会注册任何会话。
func (r *Registry) Create(appname, password string) (*Session, error) {
	var s *Session
	err := r.withNamespace(appname, true, func(ns *namespace) error {
		id, err := r.allocateLocked(ns)
		if err != nil {
			return err
		}
		s = newSession(r, appname, id, password)
		ns.sessions[id] = s
		metrics.ActiveSessions.Inc()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("session created")
	return s, nil
}

// JoinSession 以展示 ID 查找会话，校验密码后加入。
//
// 流程：
//  1. 解析展示 ID，格式错误返回 SessionNotFound；
//  2. 按命名空间与 ID 查找会话；
//  3. 校验密码，不一致返回 InvalidPassword；
//  4. 调用 Session.Join。
func (r *Registry) JoinSession(ctx context.Context, appname, displayID string, ch session.Channel, username, password string) (*Connection, error) {
	id, err := ParseSessionID(displayID)
	if err != nil {
		return nil, err
	}
	s, err := r.Lookup(appname, id)
	if err != nil {
		return nil, err
	}
	if !s.checkPassword(password) {
		r.Logger().Debug("join rejected by password",
			log.FieldAppName(appname),
			log.FieldSession(displayID),
			log.FieldUser(username))
		return nil, merr.WrapErrInvalidPassword(displayID)
	}
	return s.Join(ctx, ch, username)
}

// SessionCount 返回命名空间内存活的会话数。
func (r *Registry) SessionCount(appname string) int {
	n := 0
	_ = r.withNamespace(appname, false, func(ns *namespace) error {
		n = len(ns.sessions)
		return nil
	})
	return n
}

// NamespaceCount 返回当前存在的命名空间数。
func (r *Registry) NamespaceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.namespaces)
}

func comparePassword(expected, actual string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) == 1
}
