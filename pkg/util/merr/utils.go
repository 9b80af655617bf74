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
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Code 返回给定错误对应的错误码。
func Code(err error) int32 {
	if err == nil {
		return 0
	}

	cause := errors.Cause(err)
	switch specificErr := cause.(type) {
	case relayError:
		return specificErr.code()

	default:
		if errors.Is(specificErr, context.Canceled) {
			return CanceledCode
		} else if errors.Is(specificErr, context.DeadlineExceeded) {
			return TimeoutCode
		} else {
			return errUnexpected.code()
		}
	}
}

// Kind 返回错误的稳定种类名（例如 "SessionNotFound"）。
// 对于非 relayError 的错误返回 errUnexpected 的种类名。
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var rerr relayError
	if errors.As(err, &rerr) {
		return rerr.kind
	}
	return errUnexpected.kind
}

// IsInputError 判断错误是否由客户端输入引起。
//
// 说明：
//   - 输入类错误需要以错误信封的形式回传给发起请求的客户端；
//   - 其余错误只记录日志，不回传。
func IsInputError(err error) bool {
	return GetErrorType(err) == InputError
}

func GetErrorType(err error) ErrorType {
	var rerr relayError
	if errors.As(err, &rerr) {
		return rerr.errType
	}

	return SystemError
}

// Describe 按 "<Kind>: <message>" 的格式渲染错误，用于错误信封的 error 字段。
func Describe(err error) string {
	if err == nil {
		return ""
	}
	return Kind(err) + ": " + err.Error()
}

// IsCanceledOrTimeout 判断 err 是否由上下文取消或超时引起。
func IsCanceledOrTimeout(err error) bool {
	return errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
}

// Service 相关错误封装。
func WrapErrServiceInternal(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrServiceInternal, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrServiceUnavailable(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrServiceUnavailable, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Session 相关错误封装。
func WrapErrIDAllocationExhausted(namespace string, attempts int) error {
	return wrapFields(ErrIDAllocationExhausted,
		value("appname", namespace),
		value("attempts", attempts),
	)
}

func WrapErrSessionNotFound(session any, msg ...string) error {
	err := wrapFields(ErrSessionNotFound, value("session", session))
	if len(msg) > 0 {
		err = wrapDesc(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrSessionNotFoundInApp(namespace string, session any) error {
	return wrapFields(ErrSessionNotFound,
		value("appname", namespace),
		value("session", session),
	)
}

func WrapErrInvalidPassword(session any) error {
	return wrapFields(ErrInvalidPassword, value("session", session))
}

func WrapErrInvalidUsername(username string, reason string) error {
	return wrapFieldsWithDesc(ErrInvalidUsername, reason, value("username", username))
}

func WrapErrUsernameNotFound(username string, msg ...string) error {
	err := wrapFields(ErrUsernameNotFound, value("username", username))
	if len(msg) > 0 {
		err = wrapDesc(err, strings.Join(msg, "->"))
	}
	return err
}

// Protocol 相关错误封装。
func WrapErrAlreadyConnected(session any, username string) error {
	return wrapFields(ErrAlreadyConnected,
		value("session", session),
		value("username", username),
	)
}

func WrapErrNotConnected(action string) error {
	return wrapFields(ErrNotConnected, value("action", action))
}

func WrapErrUnknownAction(action string) error {
	return wrapFields(ErrUnknownAction, value("action", action))
}

func WrapErrMalformedMessage(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrMalformedMessage, reason)
	if len(msg) > 0 {
		err = wrapDesc(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrMissingField(field string) error {
	return wrapFieldsWithDesc(ErrMalformedMessage, "missing required field", value("field", field))
}

// Channel 相关错误封装。
func WrapErrChannelClosed(channel any, cause error) error {
	if cause == nil {
		return wrapFields(ErrChannelClosed, value("channel", channel))
	}
	return wrapFieldsWithDesc(ErrChannelClosed, cause.Error(), value("channel", channel))
}

func WrapErrSendTimeout(channel any, timeout any) error {
	return wrapFields(ErrSendTimeout,
		value("channel", channel),
		value("timeout", timeout),
	)
}

// wrapDesc 在保留叶子错误（错误码/种类）的前提下追加描述信息。
func wrapDesc(err error, desc string) error {
	if rerr, ok := err.(relayError); ok {
		rerr.msg += ": " + desc
		rerr.detail = rerr.msg
		return rerr
	}
	return errors.Wrap(err, desc)
}

func wrapFields(err relayError, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.detail = err.msg
	return err
}

func wrapFieldsWithDesc(err relayError, desc string, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.msg += ": " + desc
	err.detail = err.msg
	return err
}

type errorField interface {
	String() string
}

type valueField struct {
	name  string
	value any
}

func value(name string, value any) valueField {
	return valueField{
		name,
		value,
	}
}

func (f valueField) String() string {
	return fmt.Sprintf("%s=%v", f.name, f.value)
}
