package relay

import (
	"math/rand/v2"
	"time"

	"github.com/lk2023060901/session-relay-go/internal/network/serializer"
)

const (
	// DefaultSendTimeout 为向单个成员投递一条消息的默认最长等待时间。
	DefaultSendTimeout = 5 * time.Second
	// DefaultFanoutPoolSize 为扇出协程池的默认容量。
	DefaultFanoutPoolSize = 1024
	// ImplicitLeaveTimeout 为连接关闭后执行隐式离开的最长时间。
	ImplicitLeaveTimeout = 10 * time.Second
)

// IDSource 返回一个随机的会话 ID 候选值，只有低 24 位会被使用。
type IDSource func() uint32

// Options 为 Registry 的可选配置。
type Options struct {
	SendTimeout    time.Duration
	FanoutPoolSize int
	IDSource       IDSource
	Serializer     serializer.Serializer
}

// Option 用于修改 Options 的选项函数。
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		SendTimeout:    DefaultSendTimeout,
		FanoutPoolSize: DefaultFanoutPoolSize,
		IDSource:       rand.Uint32,
		Serializer:     serializer.JSONSerializer{},
	}
}

// WithSendTimeout 设置单个成员的投递超时，超时的成员连接会被关闭。
func WithSendTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.SendTimeout = d
		}
	}
}

// WithFanoutPoolSize 设置扇出协程池容量。
func WithFanoutPoolSize(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.FanoutPoolSize = size
		}
	}
}

// WithIDSource 替换会话 ID 的随机源，主要用于测试。
func WithIDSource(src IDSource) Option {
	return func(o *Options) {
		if src != nil {
			o.IDSource = src
		}
	}
}

// WithSerializer 替换出站消息的序列化实现。
func WithSerializer(s serializer.Serializer) Option {
	return func(o *Options) {
		if s != nil {
			o.Serializer = s
		}
	}
}
