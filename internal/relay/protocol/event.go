package protocol

import (
	"github.com/lk2023060901/session-relay-go/internal/json"
)

// State 为会话状态，作为 create/join 成功后的回复。
type State struct {
	ID    string   `json:"id"`
	Users []string `json:"users"`
}

// Joined 在新成员加入后发送给其余成员。
type Joined struct {
	Joined string   `json:"joined"`
	Users  []string `json:"users"`
}

// Left 在成员离开后发送给剩余成员。
type Left struct {
	Left  string   `json:"left"`
	Users []string `json:"users"`
}

// Message 为 send 动作投递给接收方的消息。
type Message struct {
	From    string          `json:"from"`
	Message json.RawMessage `json:"message"`
}

// RequestEvent 为 request 动作投递给接收方的消息。
type RequestEvent struct {
	From    string          `json:"from"`
	Request json.RawMessage `json:"request"`
	ID      json.RawMessage `json:"id"`
}

// ResponseEvent 为 response 动作投递给接收方的消息。
type ResponseEvent struct {
	From     string          `json:"from"`
	Response json.RawMessage `json:"response"`
	ID       json.RawMessage `json:"id"`
}

// ErrorReply 为回传给客户端的错误信封。
type ErrorReply struct {
	Error string          `json:"error"`
	ID    json.RawMessage `json:"id"`
}

func NewMessage(from string, message json.RawMessage) *Message {
	return &Message{From: from, Message: orNull(message)}
}

// NewForward 根据动作类型构造 request 或 response 事件。
func NewForward(kind Action, from string, message, id json.RawMessage) any {
	if kind == ActionResponse {
		return &ResponseEvent{From: from, Response: orNull(message), ID: orNull(id)}
	}
	return &RequestEvent{From: from, Request: orNull(message), ID: orNull(id)}
}

func NewErrorReply(desc string, id json.RawMessage) *ErrorReply {
	return &ErrorReply{Error: desc, ID: orNull(id)}
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.Null
	}
	return raw
}
