package relay

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/lk2023060901/session-relay-go/internal/json"
	"github.com/lk2023060901/session-relay-go/internal/network/session"
	"github.com/lk2023060901/session-relay-go/pkg/log"
	"github.com/lk2023060901/session-relay-go/pkg/util/merr"
)

var fakeIDs atomic.Uint64

// newTestRegistry 创建一个日志写入 t 的会话目录，测试结束时释放。
func newTestRegistry(t testing.TB, opts ...Option) *Registry {
	t.Helper()
	logger, _, err := log.InitTestLogger(t, &log.Config{Level: "debug", Format: log.FormatConsole})
	require.NoError(t, err)

	r := NewRegistry(opts...)
	r.SetLogger(&log.MLogger{Logger: logger.With(log.FieldModule("relay"))})
	t.Cleanup(r.Close)
	return r
}

// fakeChannel 在内存中记录发出的消息。
type fakeChannel struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

var _ session.Channel = (*fakeChannel)(nil)

func newFakeChannel() *fakeChannel {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeChannel{id: fakeIDs.Inc(), ctx: ctx, cancel: cancel}
}

func (c *fakeChannel) ID() uint64 { return c.id }

func (c *fakeChannel) Context() context.Context { return c.ctx }

func (c *fakeChannel) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000}
}

func (c *fakeChannel) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8765}
}

func (c *fakeChannel) Send(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return merr.WrapErrChannelClosed(c.id, nil)
	}
	c.sent = append(c.sent, append([]byte(nil), payload...))
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cancel()
	return nil
}

func (c *fakeChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// drain 返回并清空已记录的消息，每条消息解码为 map。
func (c *fakeChannel) drain() []map[string]any {
	c.mu.Lock()
	sent := c.sent
	c.sent = nil
	c.mu.Unlock()

	out := make([]map[string]any, 0, len(sent))
	for _, raw := range sent {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			panic(err)
		}
		out = append(out, m)
	}
	return out
}

// raw 返回并清空已记录的原始消息。
func (c *fakeChannel) raw() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, b := range c.sent {
		out = append(out, string(b))
	}
	c.sent = nil
	return out
}
