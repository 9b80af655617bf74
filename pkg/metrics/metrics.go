// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	// #nosec
	_ "net/http/pprof"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// relayNamespace 是当前项目所有 Prometheus 指标使用的命名空间。
	relayNamespace = "relay"

	connectionSubsystem = "connection"
	sessionSubsystem    = "session"
	messageSubsystem    = "message"

	// 以下为当前使用的通用标签名。
	actionLabelName = "action"
	kindLabelName   = "kind"
	reasonLabelName = "reason"
)

const (
	SendFailureTimeout = "timeout"
	SendFailureClosed  = "closed"
	SendFailureOther   = "other"
)

var (
	// buckets 为耗时直方图的桶划分，单位为毫秒。
	// 实际桶分布为：
	// [0.25 0.5 1 2 4 8 16 32 64 128 256 512 1024 2048 4096 8192]
	buckets = prometheus.ExponentialBuckets(0.25, 2, 16)

	// ActiveConnections 为当前在线的 WebSocket 连接数。
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: relayNamespace,
			Subsystem: connectionSubsystem,
			Name:      "active",
			Help:      "number of open websocket connections",
		})

	// AcceptedConnections 为累计接入的连接数。
	AcceptedConnections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: relayNamespace,
			Subsystem: connectionSubsystem,
			Name:      "accepted_total",
			Help:      "number of accepted websocket connections",
		})

	// RejectedConnections 为升级失败或超出限流被拒绝的连接数。
	RejectedConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: relayNamespace,
			Subsystem: connectionSubsystem,
			Name:      "rejected_total",
			Help:      "number of rejected websocket upgrades or frames",
		}, []string{reasonLabelName})

	// ActiveSessions 为当前存活的会话数。
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: relayNamespace,
			Subsystem: sessionSubsystem,
			Name:      "active",
			Help:      "number of live sessions across all namespaces",
		})

	// SessionMembers 为当前加入会话的用户总数。
	SessionMembers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: relayNamespace,
			Subsystem: sessionSubsystem,
			Name:      "members",
			Help:      "number of users bound to a session",
		})

	// ReceivedMessages 按动作统计收到的客户端消息。
	ReceivedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: relayNamespace,
			Subsystem: messageSubsystem,
			Name:      "received_total",
			Help:      "number of client messages by action",
		}, []string{actionLabelName})

	// ReplyErrors 按错误种类统计回传给客户端的错误信封。
	ReplyErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: relayNamespace,
			Subsystem: messageSubsystem,
			Name:      "errors_total",
			Help:      "number of error envelopes sent back to clients by kind",
		}, []string{kindLabelName})

	// SendFailures 按原因统计向接收方投递失败的次数。
	SendFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: relayNamespace,
			Subsystem: messageSubsystem,
			Name:      "send_failures_total",
			Help:      "number of failed deliveries to recipients by reason",
		}, []string{reasonLabelName})

	// FanoutLatency 为一次扇出（广播/定向）完成的耗时。
	FanoutLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: relayNamespace,
			Subsystem: messageSubsystem,
			Name:      "fanout_latency",
			Help:      "latency of one fan-out in milliseconds",
			Buckets:   buckets,
		})

	metricRegisterer prometheus.Registerer
	registerOnce     sync.Once
)

// GetRegisterer 返回全局 Prometheus Registerer。
// 如果尚未通过 Register 显式设置，则返回 prometheus.DefaultRegisterer。
func GetRegisterer() prometheus.Registerer {
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register 注册当前定义的所有指标，只有第一次调用生效。
func Register(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(ActiveConnections)
		r.MustRegister(AcceptedConnections)
		r.MustRegister(RejectedConnections)
		r.MustRegister(ActiveSessions)
		r.MustRegister(SessionMembers)
		r.MustRegister(ReceivedMessages)
		r.MustRegister(ReplyErrors)
		r.MustRegister(SendFailures)
		r.MustRegister(FanoutLatency)
		metricRegisterer = r
	})
}
