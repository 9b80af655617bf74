package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/session-relay-go/pkg/util/merr"
)

type WSSessionSuite struct {
	suite.Suite

	server   *httptest.Server
	accepted chan *WSSession
	client   *websocket.Conn
	ch       *WSSession
}

func (s *WSSessionSuite) SetupTest() {
	s.accepted = make(chan *WSSession, 1)
	upgrader := websocket.Upgrader{}
	var ids IDGenerator

	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		opts := DefaultOptions()
		opts.PingPeriod = 0
		s.accepted <- NewWSSession(context.Background(), ids.Next(), conn, opts)
	}))

	url := "ws" + strings.TrimPrefix(s.server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	s.client = client

	select {
	case s.ch = <-s.accepted:
	case <-time.After(5 * time.Second):
		s.FailNow("server side channel not created")
	}
}

func (s *WSSessionSuite) TearDownTest() {
	_ = s.client.Close()
	_ = s.ch.Close()
	s.server.Close()
}

func (s *WSSessionSuite) TestSendAndRead() {
	s.EqualValues(1, s.ch.ID())
	s.NotNil(s.ch.RemoteAddr())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Require().NoError(s.ch.Send(ctx, []byte(`{"action":"state"}`)))

	_, data, err := s.client.ReadMessage()
	s.Require().NoError(err)
	s.Equal(`{"action":"state"}`, string(data))

	s.Require().NoError(s.client.WriteMessage(websocket.TextMessage, []byte(`{"action":"leave"}`)))
	got, err := s.ch.Read()
	s.Require().NoError(err)
	s.Equal(`{"action":"leave"}`, string(got))
}

func (s *WSSessionSuite) TestSendPreservesOrder() {
	ctx := context.Background()
	for _, msg := range []string{"1", "2", "3"} {
		s.Require().NoError(s.ch.Send(ctx, []byte(msg)))
	}
	for _, want := range []string{"1", "2", "3"} {
		_, data, err := s.client.ReadMessage()
		s.Require().NoError(err)
		s.Equal(want, string(data))
	}
}

func (s *WSSessionSuite) TestSendAfterClose() {
	s.NoError(s.ch.Close())
	s.True(s.ch.IsClosed())
	// 重复关闭是幂等的。
	s.NoError(s.ch.Close())

	err := s.ch.Send(context.Background(), []byte("late"))
	s.ErrorIs(err, merr.ErrChannelClosed)

	select {
	case <-s.ch.Context().Done():
	case <-time.After(time.Second):
		s.Fail("context not canceled after close")
	}

	_, _, err = s.client.ReadMessage()
	s.True(websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func (s *WSSessionSuite) TestReadFailsAfterPeerClose() {
	s.Require().NoError(s.client.Close())
	_, err := s.ch.Read()
	s.Error(err)
}

func TestWSSession(t *testing.T) {
	suite.Run(t, new(WSSessionSuite))
}

// 对端停止读取时，写协程阻塞在写帧上；Close 不应等待 WriteTimeout。
func TestCloseDoesNotWaitForStuckWrite(t *testing.T) {
	accepted := make(chan *WSSession, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		opts := DefaultOptions()
		opts.PingPeriod = 0
		opts.WriteTimeout = 3 * time.Second
		accepted <- NewWSSession(context.Background(), 1, conn, opts)
	}))
	defer server.Close()

	// 客户端从不读取，服务端的写最终会被 TCP 缓冲区阻塞。
	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	var ch *WSSession
	select {
	case ch = <-accepted:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "server side channel not created")
	}

	payload := make([]byte, 1<<20)
	timedOut := false
	for i := 0; i < 256 && !timedOut; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		err := ch.Send(ctx, payload)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			timedOut = true
		} else {
			require.NoError(t, err)
		}
	}
	require.True(t, timedOut, "send never blocked")

	start := time.Now()
	_ = ch.Close()
	require.Less(t, time.Since(start), time.Second)
	require.True(t, ch.IsClosed())
	require.ErrorIs(t, ch.Send(context.Background(), payload), merr.ErrChannelClosed)
}

func TestBaseManager(t *testing.T) {
	m := NewBaseManager()
	ch := &WSSession{id: 7}

	require.NoError(t, m.Register(ch))
	require.Error(t, m.Register(ch))

	require.Equal(t, 1, m.Count())

	var visited []Channel
	m.Range(func(got Channel) bool {
		visited = append(visited, got)
		return true
	})
	require.Equal(t, []Channel{ch}, visited)

	require.NoError(t, m.Unregister(7))
	require.Error(t, m.Unregister(7))
	require.Equal(t, 0, m.Count())
}

func TestIDGenerator(t *testing.T) {
	var g IDGenerator
	require.EqualValues(t, 1, g.Next())
	require.EqualValues(t, 2, g.Next())
}
