package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/lk2023060901/session-relay-go/internal/mocks"
	"github.com/lk2023060901/session-relay-go/pkg/util/merr"
)

func TestFanoutIsolatesSlowRecipient(t *testing.T) {
	ctrl := gomock.NewController(t)
	registry := newTestRegistry(t, WithSendTimeout(50 * time.Millisecond))
	created, err := registry.Create("chess", "pw")
	require.NoError(t, err)

	slow := mocks.NewMockChannel(ctrl)
	slow.EXPECT().ID().Return(uint64(1)).AnyTimes()
	slow.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ []byte) error {
			<-ctx.Done()
			return ctx.Err()
		}).Times(1)
	// 超时的接收方通道会被关闭。
	slow.EXPECT().Close().Return(nil).Times(1)

	fast := mocks.NewMockChannel(ctrl)
	fast.EXPECT().ID().Return(uint64(2)).AnyTimes()
	fast.EXPECT().Send(gomock.Any(), []byte("payload")).Return(nil).Times(1)

	recipients := []*Connection{
		newConnection(created, slow, "slow"),
		newConnection(created, fast, "fast"),
	}

	start := time.Now()
	err = registry.fanout.deliver(context.Background(), []byte("payload"), recipients)
	require.ErrorIs(t, err, merr.ErrSendTimeout)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestFanoutCollectsClosedRecipients(t *testing.T) {
	ctrl := gomock.NewController(t)
	registry := newTestRegistry(t)
	created, err := registry.Create("chess", "pw")
	require.NoError(t, err)

	closed := mocks.NewMockChannel(ctrl)
	closed.EXPECT().ID().Return(uint64(1)).AnyTimes()
	closed.EXPECT().Send(gomock.Any(), gomock.Any()).Return(merr.WrapErrChannelClosed(1, nil)).Times(1)

	open := mocks.NewMockChannel(ctrl)
	open.EXPECT().ID().Return(uint64(2)).AnyTimes()
	open.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	recipients := []*Connection{
		newConnection(created, closed, "gone"),
		newConnection(created, open, "here"),
	}

	err = registry.fanout.deliver(context.Background(), []byte("payload"), recipients)
	require.ErrorIs(t, err, merr.ErrChannelClosed)
	require.Contains(t, err.Error(), "gone")
}

func TestFanoutIgnoresCallerCancellation(t *testing.T) {
	ctrl := gomock.NewController(t)
	registry := newTestRegistry(t)
	created, err := registry.Create("chess", "pw")
	require.NoError(t, err)

	ch := mocks.NewMockChannel(ctrl)
	ch.EXPECT().ID().Return(uint64(1)).AnyTimes()
	ch.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ []byte) error {
			return ctx.Err()
		}).Times(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = registry.fanout.deliver(ctx, []byte("payload"), []*Connection{newConnection(created, ch, "alice")})
	require.NoError(t, err)
}
