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
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

const (
	CanceledCode int32 = 10000
	TimeoutCode  int32 = 10001
)

type ErrorType int32

const (
	SystemError ErrorType = 0
	InputError  ErrorType = 1
)

var ErrorTypeName = map[ErrorType]string{
	SystemError: "system_error",
	InputError:  "input_error",
}

func (err ErrorType) String() string {
	return ErrorTypeName[err]
}

// Define leaf errors here,
// WARN: take care to add new error,
// check whether you can use the errors below before adding a new one.
// Name: Err + related prefix + error name
var (
	// Service related
	ErrServiceInternal    = newRelayError("ServiceInternal", "service internal error", 5, SystemError)
	ErrServiceUnavailable = newRelayError("ServiceUnavailable", "service unavailable", 2, SystemError)

	// Session related，这些错误会原样回传给客户端。
	ErrIDAllocationExhausted = newRelayError("IdAllocationExhausted", "could not find a non-allocated session id", 100, InputError)
	ErrSessionNotFound       = newRelayError("SessionNotFound", "session not found", 101, InputError)
	ErrInvalidPassword       = newRelayError("InvalidPassword", "invalid password", 102, InputError)
	ErrInvalidUsername       = newRelayError("InvalidUsername", "invalid username", 103, InputError)
	ErrUsernameNotFound      = newRelayError("UsernameNotFound", "unknown user", 104, InputError)

	// Protocol related
	ErrAlreadyConnected = newRelayError("AlreadyConnected", "already connected to a session", 200, InputError)
	ErrNotConnected     = newRelayError("NotConnected", "not connected to any session", 201, InputError)
	ErrUnknownAction    = newRelayError("UnknownAction", "unknown action", 202, InputError)
	ErrMalformedMessage = newRelayError("MalformedMessage", "malformed message", 203, InputError)

	// Channel related
	ErrChannelClosed = newRelayError("ChannelClosed", "channel closed", 300, SystemError)
	ErrSendTimeout   = newRelayError("SendTimeout", "send timeout", 301, SystemError)

	// Do NOT export this,
	// never allow programmer using this, keep only for converting unknown error to relayError
	errUnexpected = newRelayError("Unexpected", "unexpected error", (1<<16)-1, SystemError)
)

// relayError 为带错误码与错误种类的叶子错误。
//
// 说明：
//   - kind 为稳定的错误种类名，会出现在回传给客户端的错误信封中；
//   - 两个 relayError 只要错误码相同即视为同一类错误（见 Is）。
type relayError struct {
	kind    string
	msg     string
	detail  string
	errCode int32
	errType ErrorType
}

func newRelayError(kind string, msg string, code int32, etype ErrorType) relayError {
	err := relayError{
		kind:    kind,
		msg:     msg,
		detail:  msg,
		errCode: code,
		errType: etype,
	}
	return err
}

func (e relayError) code() int32 {
	return e.errCode
}

func (e relayError) Error() string {
	return e.msg
}

func (e relayError) Detail() string {
	return e.detail
}

func (e relayError) Is(err error) bool {
	cause := errors.Cause(err)
	if cause, ok := cause.(relayError); ok {
		return e.errCode == cause.errCode
	}
	return false
}

type multiErrors struct {
	errs []error
}

func (e multiErrors) Unwrap() error {
	if len(e.errs) <= 1 {
		return nil
	}
	// To make merr work for multi errors,
	// we need cause of multi errors, which defined as the last error
	if len(e.errs) == 2 {
		return e.errs[1]
	}

	return multiErrors{
		errs: e.errs[1:],
	}
}

func (e multiErrors) Error() string {
	final := e.errs[0]
	for i := 1; i < len(e.errs); i++ {
		final = errors.Wrap(e.errs[i], final.Error())
	}
	return final.Error()
}

func (e multiErrors) Is(err error) bool {
	for _, item := range e.errs {
		if errors.Is(item, err) {
			return true
		}
	}
	return false
}

// Combine 将多个错误合并为一个，nil 会被忽略；全部为 nil 时返回 nil。
func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}
	return multiErrors{
		errs,
	}
}
