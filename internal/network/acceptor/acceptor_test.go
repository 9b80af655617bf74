package acceptor

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	network "github.com/lk2023060901/session-relay-go/internal/network"
	"github.com/lk2023060901/session-relay-go/internal/network/session"
)

type recordingHandler struct {
	mu        sync.Mutex
	connected []uint64
	messages  chan string
	closed    chan uint64
	errs      []error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		messages: make(chan string, 16),
		closed:   make(chan uint64, 16),
	}
}

func (h *recordingHandler) OnConnected(ch session.Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = append(h.connected, ch.ID())
}

func (h *recordingHandler) OnMessage(ch session.Channel, payload []byte) {
	h.messages <- string(payload)
	// 回显，便于验证发送路径。
	_ = ch.Send(context.Background(), payload)
}

func (h *recordingHandler) OnClosed(ch session.Channel, _ error) {
	h.closed <- ch.ID()
}

func (h *recordingHandler) OnError(_ session.Channel, _ network.Stage, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

type AcceptorSuite struct {
	suite.Suite

	handler  *recordingHandler
	acceptor *WSAcceptor
	addr     string
	cancel   context.CancelFunc
	served   chan error
}

func (s *AcceptorSuite) start(cfg Config) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)

	s.handler = newRecordingHandler()
	s.acceptor = NewWSAcceptor(cfg, nil)
	s.addr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.served = make(chan error, 1)
	go func() {
		s.served <- s.acceptor.Serve(ctx, ln, s.handler)
	}()
}

func (s *AcceptorSuite) TearDownTest() {
	if s.cancel != nil {
		s.cancel()
		select {
		case err := <-s.served:
			s.NoError(err)
		case <-time.After(5 * time.Second):
			s.Fail("acceptor did not stop")
		}
		s.cancel = nil
	}
}

func (s *AcceptorSuite) dial(path string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.addr+path, nil)
	s.Require().NoError(err)
	return conn
}

func (s *AcceptorSuite) TestEchoAndClose() {
	cfg := DefaultConfig()
	cfg.Path = "/ws"
	s.start(cfg)

	conn := s.dial("/ws")
	s.Require().NoError(conn.WriteMessage(websocket.TextMessage, []byte("hello")))

	select {
	case msg := <-s.handler.messages:
		s.Equal("hello", msg)
	case <-time.After(5 * time.Second):
		s.FailNow("message not delivered")
	}

	_, echoed, err := conn.ReadMessage()
	s.Require().NoError(err)
	s.Equal("hello", string(echoed))
	s.Len(s.acceptor.Channels(), 1)

	s.Require().NoError(conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	select {
	case id := <-s.handler.closed:
		s.EqualValues(1, id)
	case <-time.After(5 * time.Second):
		s.FailNow("close not observed")
	}
	s.Empty(s.handler.errors())
	_ = conn.Close()
}

func (s *AcceptorSuite) TestExtraRoutes() {
	cfg := DefaultConfig()
	cfg.Routes = []Route{{
		Method: http.MethodGet,
		Path:   "/healthz",
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("ok"))
		}),
	}}
	s.start(cfg)

	resp, err := http.Get("http://" + s.addr + "/healthz")
	s.Require().NoError(err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Equal("ok", string(body))

	// 非 WebSocket 请求访问升级路径会握手失败。
	resp2, err := http.Get("http://" + s.addr + "/")
	s.Require().NoError(err)
	resp2.Body.Close()
	s.Equal(http.StatusBadRequest, resp2.StatusCode)
}

func (s *AcceptorSuite) TestRateLimit() {
	cfg := DefaultConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 1
	s.start(cfg)

	conn := s.dial("/")
	defer conn.Close()
	s.Require().NoError(conn.WriteMessage(websocket.TextMessage, []byte("first")))
	s.Require().NoError(conn.WriteMessage(websocket.TextMessage, []byte("second")))
	s.Require().NoError(conn.WriteMessage(websocket.TextMessage, []byte("third")))

	s.Equal("first", <-s.handler.messages)
	s.Eventually(func() bool {
		for _, err := range s.handler.errors() {
			if errors.Is(err, network.ErrRateLimited) {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case msg := <-s.handler.messages:
		s.Failf("unexpected message", "got %q", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func (s *AcceptorSuite) TestShutdownClosesChannels() {
	s.start(DefaultConfig())

	conn := s.dial("/")
	defer conn.Close()
	s.Eventually(func() bool { return len(s.acceptor.Channels()) == 1 }, 5*time.Second, 10*time.Millisecond)

	s.cancel()
	select {
	case err := <-s.served:
		s.NoError(err)
	case <-time.After(5 * time.Second):
		s.FailNow("acceptor did not stop")
	}
	s.cancel = nil

	select {
	case <-s.handler.closed:
	case <-time.After(5 * time.Second):
		s.FailNow("channel not closed on shutdown")
	}
	_, _, err := conn.ReadMessage()
	s.Error(err)
}

func TestAcceptor(t *testing.T) {
	suite.Run(t, new(AcceptorSuite))
}
