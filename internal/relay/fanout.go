package relay

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/session-relay-go/pkg/log"
	"github.com/lk2023060901/session-relay-go/pkg/metrics"
	"github.com/lk2023060901/session-relay-go/pkg/util/conc"
	"github.com/lk2023060901/session-relay-go/pkg/util/merr"
)

// fanout 并发地把同一条消息投递给多个成员。
//
// 说明：
//   - 每个接收方一个任务，提交到有界协程池，调用方等待全部任务结束；
//   - 单个接收方失败不影响其余接收方，所有失败合并后返回；
//   - 每次投递最多等待 sendTimeout，超时的接收方通道会被关闭，
//     随后由接入层触发该成员的隐式离开。
type fanout struct {
	log.Binder

	pool        *conc.Pool[struct{}]
	sendTimeout time.Duration
}

func newFanout(poolSize int, sendTimeout time.Duration) *fanout {
	return &fanout{
		pool:        conc.NewPool[struct{}](poolSize, conc.WithConcealPanic(true)),
		sendTimeout: sendTimeout,
	}
}

func (f *fanout) deliver(ctx context.Context, payload []byte, recipients []*Connection) error {
	start := time.Now()
	futures := make([]*conc.Future[struct{}], 0, len(recipients))
	for _, c := range recipients {
		futures = append(futures, f.pool.Submit(func() (struct{}, error) {
			return struct{}{}, f.sendOne(ctx, c, payload)
		}))
	}

	err := conc.AwaitAll(futures...)
	metrics.FanoutLatency.Observe(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		f.Logger().RatedWarn(1, "fan-out delivery failed",
			zap.Int("recipients", len(recipients)),
			zap.Error(err))
	}
	return err
}

func (f *fanout) sendOne(ctx context.Context, c *Connection, payload []byte) error {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.sendTimeout)
	defer cancel()

	err := c.channel.Send(sendCtx, payload)
	switch {
	case err == nil:
		return nil
	case merr.IsCanceledOrTimeout(err):
		metrics.SendFailures.WithLabelValues(metrics.SendFailureTimeout).Inc()
		f.Logger().Warn("recipient too slow, closing its channel",
			log.FieldRecipient(c.username),
			log.FieldChannel(c.channel.ID()))
		_ = c.channel.Close()
		return merr.WrapErrSendTimeout(c.channel.ID(), f.sendTimeout)
	case errors.Is(err, merr.ErrChannelClosed):
		metrics.SendFailures.WithLabelValues(metrics.SendFailureClosed).Inc()
	default:
		metrics.SendFailures.WithLabelValues(metrics.SendFailureOther).Inc()
	}
	return errors.Wrapf(err, "deliver to %s", c)
}

func (f *fanout) release() {
	f.pool.Release()
}
