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

package conc

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	"github.com/lk2023060901/session-relay-go/pkg/util/merr"
)

type PoolSuite struct {
	suite.Suite
}

func (s *PoolSuite) TestSubmit() {
	pool := NewPool[int](4)
	defer pool.Release()

	futures := make([]*Future[int], 0, 10)
	for i := 0; i < 10; i++ {
		i := i
		futures = append(futures, pool.Submit(func() (int, error) {
			return i * i, nil
		}))
	}

	s.NoError(AwaitAll(futures...))
	for i, f := range futures {
		s.Equal(i*i, f.Value())
	}
	s.Equal(4, pool.Cap())
}

func (s *PoolSuite) TestAwaitAllCollectsEveryError() {
	pool := NewPool[struct{}](2)
	defer pool.Release()

	errFirst := errors.New("first")
	errSecond := errors.New("second")
	var finished atomic.Int32

	futures := []*Future[struct{}]{
		pool.Submit(func() (struct{}, error) {
			finished.Inc()
			return struct{}{}, errFirst
		}),
		pool.Submit(func() (struct{}, error) {
			time.Sleep(20 * time.Millisecond)
			finished.Inc()
			return struct{}{}, nil
		}),
		pool.Submit(func() (struct{}, error) {
			finished.Inc()
			return struct{}{}, errSecond
		}),
	}

	err := AwaitAll(futures...)
	s.ErrorIs(err, errFirst)
	s.ErrorIs(err, errSecond)
	s.EqualValues(3, finished.Load())
}

func (s *PoolSuite) TestConcealPanic() {
	var handled atomic.Bool
	pool := NewPool[int](1, WithConcealPanic(true), WithPanicHandler(func(any) {
		handled.Store(true)
	}))
	defer pool.Release()

	future := pool.Submit(func() (int, error) {
		panic("boom")
	})
	err := future.Err()
	s.ErrorIs(err, merr.ErrServiceInternal)
	s.True(handled.Load())

	// 发生过 panic 的池仍然可以继续使用。
	s.Equal(7, pool.Submit(func() (int, error) { return 7, nil }).Value())
}

func (s *PoolSuite) TestSubmitAfterRelease() {
	pool := NewPool[int](1)
	pool.Release()

	future := pool.Submit(func() (int, error) { return 1, nil })
	<-future.Done()
	s.ErrorIs(future.Err(), merr.ErrServiceUnavailable)
}

func (s *PoolSuite) TestGo() {
	v, err := Go(func() (string, error) { return "ok", nil }).Await()
	s.NoError(err)
	s.Equal("ok", v)
}

func TestPool(t *testing.T) {
	suite.Run(t, new(PoolSuite))
}
