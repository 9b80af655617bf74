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

package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitTestLogger(t *testing.T) {
	lg, props, err := InitTestLogger(t, &Config{Level: "info", Format: FormatConsole})
	require.NoError(t, err)
	require.NotNil(t, lg)
	assert.Equal(t, zapcore.InfoLevel, props.Level.Level())
	lg.Info("hello", zap.String("who", "test"))
}

func TestInitLoggerBadLevel(t *testing.T) {
	_, _, err := InitLoggerWithWriteSyncer(&Config{Level: "loud"}, zapcore.AddSync(&bytes.Buffer{}))
	assert.Error(t, err)
}

func TestJSONFormatCarriesFields(t *testing.T) {
	buf := &bytes.Buffer{}
	lg, _, err := InitLoggerWithWriteSyncer(&Config{Level: "debug", Format: FormatJSON}, zapcore.AddSync(buf))
	require.NoError(t, err)

	lg.With(FieldSession("ABCDEF"), FieldUser("alice")).Info("joined")
	out := buf.String()
	assert.Contains(t, out, `"session":"ABCDEF"`)
	assert.Contains(t, out, `"user":"alice"`)
	assert.Contains(t, out, `"message":"joined"`)
}

func TestCtxLogger(t *testing.T) {
	base := Ctx(context.Background())
	require.NotNil(t, base)

	ctx := WithTraceID(context.Background(), "trace-1")
	traced := Ctx(ctx)
	assert.NotSame(t, base, traced)
	// 同一个 ctx 上取到的是同一个 Logger。
	assert.Same(t, traced, Ctx(ctx))

	ctx = WithModule(ctx, "relay")
	assert.NotSame(t, traced, Ctx(ctx))
}

func TestRatedLogger(t *testing.T) {
	logger := Ctx(context.Background()).With(FieldModule("rated")).
		WithRateGroup("log_test.rated", 0.0001, 1)

	assert.True(t, logger.RatedWarn(1, "first"))
	assert.False(t, logger.RatedWarn(1, "second"))

	// With 派生出的 Logger 共享同一个限流组。
	child := logger.With(FieldUser("bob"))
	assert.False(t, child.RatedInfo(1, "third"))
}

func TestSetLevel(t *testing.T) {
	old := GetLevel()
	defer SetLevel(old)

	SetLevel(zapcore.WarnLevel)
	assert.Equal(t, zapcore.WarnLevel, GetLevel())
	assert.False(t, Level().Enabled(zapcore.InfoLevel))
}

func TestBinder(t *testing.T) {
	var b Binder
	assert.NotNil(t, b.Logger())

	l := With(FieldComponent("binder"))
	b.SetLogger(l)
	assert.Same(t, l, b.Logger())
}
