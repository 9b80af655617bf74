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

package merr

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
)

type ErrSuite struct {
	suite.Suite
}

func (s *ErrSuite) TestCode() {
	err := WrapErrSessionNotFound("ABCDEF")
	err = errors.Wrap(err, "failed to join session")
	s.ErrorIs(err, ErrSessionNotFound)
	s.Equal(Code(ErrSessionNotFound), Code(err))
	s.Equal(TimeoutCode, Code(context.DeadlineExceeded))
	s.Equal(CanceledCode, Code(context.Canceled))
	s.Equal(errUnexpected.errCode, Code(errUnexpected))
	s.Equal(int32(0), Code(nil))

	sameCodeErr := newRelayError("Other", "new error", ErrSessionNotFound.errCode, InputError)
	s.True(sameCodeErr.Is(ErrSessionNotFound))
}

func (s *ErrSuite) TestKind() {
	s.Equal("SessionNotFound", Kind(WrapErrSessionNotFound("000000")))
	s.Equal("InvalidUsername", Kind(errors.Wrap(WrapErrInvalidUsername("", "empty"), "join")))
	s.Equal("Unexpected", Kind(errors.New("boom")))
	s.Equal("", Kind(nil))
}

func (s *ErrSuite) TestDescribe() {
	s.Equal("NotConnected: not connected to any session[action=send]", Describe(WrapErrNotConnected("send")))
	s.Equal("UnknownAction: unknown action[action=dance]", Describe(WrapErrUnknownAction("dance")))
	s.Equal("MalformedMessage: malformed message[field=appname]: missing required field", Describe(WrapErrMissingField("appname")))
	s.Equal("", Describe(nil))
}

func (s *ErrSuite) TestInputError() {
	s.True(IsInputError(WrapErrInvalidPassword("ABCDEF")))
	s.True(IsInputError(errors.Wrap(WrapErrAlreadyConnected("ABCDEF", "alice"), "create")))
	s.False(IsInputError(WrapErrChannelClosed(1, nil)))
	s.False(IsInputError(errors.New("boom")))
}

func (s *ErrSuite) TestWrap() {
	// Session 相关错误。
	s.ErrorIs(WrapErrIDAllocationExhausted("app", 20), ErrIDAllocationExhausted)
	s.ErrorIs(WrapErrSessionNotFound("ABCDEF", "bad format"), ErrSessionNotFound)
	s.ErrorIs(WrapErrSessionNotFoundInApp("app", "ABCDEF"), ErrSessionNotFound)
	s.ErrorIs(WrapErrInvalidPassword("ABCDEF"), ErrInvalidPassword)
	s.ErrorIs(WrapErrInvalidUsername("alice", "already connected"), ErrInvalidUsername)
	s.ErrorIs(WrapErrUsernameNotFound("bob"), ErrUsernameNotFound)

	// 协议相关错误。
	s.ErrorIs(WrapErrAlreadyConnected("ABCDEF", "alice"), ErrAlreadyConnected)
	s.ErrorIs(WrapErrNotConnected("leave"), ErrNotConnected)
	s.ErrorIs(WrapErrUnknownAction("dance"), ErrUnknownAction)
	s.ErrorIs(WrapErrMalformedMessage("invalid json"), ErrMalformedMessage)
	s.ErrorIs(WrapErrMissingField("user"), ErrMalformedMessage)

	// 通道相关错误。
	s.ErrorIs(WrapErrChannelClosed(1, errors.New("broken pipe")), ErrChannelClosed)
	s.ErrorIs(WrapErrSendTimeout(1, "5s"), ErrSendTimeout)

	// 服务相关错误。
	s.ErrorIs(WrapErrServiceInternal("panic", "fanout"), ErrServiceInternal)
	s.ErrorIs(WrapErrServiceUnavailable("pool closed"), ErrServiceUnavailable)

	s.NotErrorIs(WrapErrSessionNotFound("ABCDEF"), ErrInvalidPassword)
}

func (s *ErrSuite) TestCombine() {
	var (
		errFirst  = errors.New("first")
		errSecond = errors.New("second")
		errThird  = errors.New("third")
	)

	err := Combine(errFirst, errSecond)
	s.True(errors.Is(err, errFirst))
	s.True(errors.Is(err, errSecond))
	s.False(errors.Is(err, errThird))

	s.Equal("first: second", err.Error())
}

func (s *ErrSuite) TestCombineWithNil() {
	err := errors.New("non-nil")

	err = Combine(nil, err)
	s.NotNil(err)
}

func (s *ErrSuite) TestCombineOnlyNil() {
	err := Combine(nil, nil)
	s.Nil(err)
}

func (s *ErrSuite) TestCombineCode() {
	err := Combine(WrapErrChannelClosed(1, nil), WrapErrSessionNotFound("ABCDEF"))
	s.Equal(Code(ErrSessionNotFound), Code(err))
}

func TestErrors(t *testing.T) {
	suite.Run(t, new(ErrSuite))
}
