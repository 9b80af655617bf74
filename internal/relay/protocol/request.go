package protocol

import (
	"unicode/utf8"

	"github.com/lk2023060901/session-relay-go/internal/json"
	"github.com/lk2023060901/session-relay-go/pkg/util/merr"
)

// Request 为协议请求的封闭变体集合，每种动作对应一个具体类型。
type Request interface {
	Action() Action
	decode(fields map[string]json.RawMessage) error
}

// CreateRequest 创建会话并以 Username 加入。
type CreateRequest struct {
	AppName  string
	Password string
	Username string
}

// JoinRequest 以 Username 加入展示 ID 为 ID 的会话。
type JoinRequest struct {
	ID       string
	AppName  string
	Username string
	Password string
}

// SendRequest 发送一条普通消息，User 为 nil 表示广播给全部成员（包括自己）。
type SendRequest struct {
	User    *string
	Message json.RawMessage
}

// ForwardRequest 转发一条 request 或 response，只能发给单个成员。
type ForwardRequest struct {
	Kind    Action
	User    string
	Message json.RawMessage
	ID      json.RawMessage
}

// LeaveRequest 离开当前会话。
type LeaveRequest struct{}

var (
	_ Request = (*CreateRequest)(nil)
	_ Request = (*JoinRequest)(nil)
	_ Request = (*SendRequest)(nil)
	_ Request = (*ForwardRequest)(nil)
	_ Request = (*LeaveRequest)(nil)
)

// decoders 维护动作到请求类型的映射，每次解码都会创建新的请求对象。
var decoders = map[Action]func() Request{
	ActionCreate:   func() Request { return &CreateRequest{} },
	ActionJoin:     func() Request { return &JoinRequest{} },
	ActionSend:     func() Request { return &SendRequest{} },
	ActionRequest:  func() Request { return &ForwardRequest{Kind: ActionRequest} },
	ActionResponse: func() Request { return &ForwardRequest{Kind: ActionResponse} },
	ActionLeave:    func() Request { return &LeaveRequest{} },
}

func (*CreateRequest) Action() Action { return ActionCreate }

func (r *CreateRequest) decode(fields map[string]json.RawMessage) (err error) {
	if r.Password, err = requireString(fields, "password"); err != nil {
		return err
	}
	if r.Username, err = requireString(fields, "username"); err != nil {
		return err
	}
	r.AppName, err = requireString(fields, "appname")
	return err
}

func (*JoinRequest) Action() Action { return ActionJoin }

func (r *JoinRequest) decode(fields map[string]json.RawMessage) (err error) {
	if r.ID, err = requireString(fields, "id"); err != nil {
		return err
	}
	if r.Username, err = requireString(fields, "username"); err != nil {
		return err
	}
	if r.Password, err = requireString(fields, "password"); err != nil {
		return err
	}
	r.AppName, err = requireString(fields, "appname")
	return err
}

func (*SendRequest) Action() Action { return ActionSend }

func (r *SendRequest) decode(fields map[string]json.RawMessage) (err error) {
	if r.User, err = requireNullableString(fields, "user"); err != nil {
		return err
	}
	r.Message, err = requireRaw(fields, "message")
	return err
}

func (r *ForwardRequest) Action() Action { return r.Kind }

func (r *ForwardRequest) decode(fields map[string]json.RawMessage) error {
	user, err := requireNullableString(fields, "user")
	if err != nil {
		return err
	}
	if r.Message, err = requireRaw(fields, "message"); err != nil {
		return err
	}
	if r.ID, err = requireRaw(fields, "id"); err != nil {
		return err
	}
	if user == nil {
		return merr.WrapErrInvalidUsername("", "cannot broadcast a "+string(r.Kind))
	}
	r.User = *user
	return nil
}

func (*LeaveRequest) Action() Action { return ActionLeave }

func (*LeaveRequest) decode(map[string]json.RawMessage) error { return nil }

func requireRaw(fields map[string]json.RawMessage, name string) (json.RawMessage, error) {
	raw, ok := fields[name]
	if !ok {
		return nil, merr.WrapErrMissingField(name)
	}
	return raw, nil
}

func requireString(fields map[string]json.RawMessage, name string) (string, error) {
	raw, err := requireRaw(fields, name)
	if err != nil {
		return "", err
	}
	var s string
	if json.IsNull(raw) || json.Unmarshal(raw, &s) != nil {
		return "", merr.WrapErrMalformedMessage("field must be a string", name)
	}
	return s, nil
}

// requireNullableString 要求字段存在，但允许其值为 null。
func requireNullableString(fields map[string]json.RawMessage, name string) (*string, error) {
	raw, err := requireRaw(fields, name)
	if err != nil {
		return nil, err
	}
	if json.IsNull(raw) {
		return nil, nil
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return nil, merr.WrapErrMalformedMessage("field must be a string or null", name)
	}
	return &s, nil
}

// UsernameLength 返回用户名的字符数（按 Unicode 码点计）。
func UsernameLength(username string) int {
	return utf8.RuneCountInString(username)
}
