package client

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/session-relay-go/internal/json"
	"github.com/lk2023060901/session-relay-go/pkg/util/merr"
)

var (
	// ErrClosed 表示客户端连接已关闭。
	ErrClosed = errors.New("relay client closed")
	// ErrUnexpectedReply 表示收到了无法识别的服务端消息。
	ErrUnexpectedReply = errors.New("unexpected reply from relay")
)

// RemoteError 为服务端回传的错误信封。
//
// 说明：
//   - Kind 为错误种类（例如 "InvalidPassword"），Message 为可读描述；
//   - 可以用 errors.Is(err, merr.ErrInvalidPassword) 判断种类。
type RemoteError struct {
	Kind    string
	Message string
	ID      json.RawMessage
}

func newRemoteError(desc string, id json.RawMessage) *RemoteError {
	kind, msg, ok := strings.Cut(desc, ": ")
	if !ok {
		return &RemoteError{Message: desc, ID: id}
	}
	return &RemoteError{Kind: kind, Message: msg, ID: id}
}

func (e *RemoteError) Error() string {
	if e.Kind == "" {
		return e.Message
	}
	return e.Kind + ": " + e.Message
}

// Is 按错误种类与 merr 中的叶子错误匹配。
func (e *RemoteError) Is(target error) bool {
	return e.Kind != "" && merr.Kind(target) == e.Kind
}
