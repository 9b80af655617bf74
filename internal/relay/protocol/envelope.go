package protocol

import (
	"github.com/lk2023060901/session-relay-go/internal/json"
	"github.com/lk2023060901/session-relay-go/pkg/util/merr"
)

// Envelope 为一条客户端消息的外层信息。
//
// 说明：
//   - 解码分两步：ParseEnvelope 只解析 action 与回显用的 id，
//     调用方据此完成状态检查后，再调用 Decode 得到具体的请求类型；
//   - 这样"未加入会话"之类的状态错误会先于字段缺失错误返回。
type Envelope struct {
	Action Action
	// ID 为消息中 id 字段的原始内容，用于错误信封回显；字段不存在时为 nil。
	ID json.RawMessage

	fields map[string]json.RawMessage
}

// ParseEnvelope 解析一条原始消息的外层信息。
//
// 返回的错误均为 MalformedMessage 或 UnknownAction；
// 解析失败时返回的 Envelope 仍可能携带 ID，用于错误回显。
func ParseEnvelope(data []byte) (*Envelope, error) {
	env := &Envelope{}
	if !json.Valid(data) {
		return env, merr.WrapErrMalformedMessage("invalid json")
	}

	if err := json.Unmarshal(data, &env.fields); err != nil || env.fields == nil {
		return env, merr.WrapErrMalformedMessage("message must be a json object")
	}
	if raw, ok := env.fields["id"]; ok {
		env.ID = raw
	}

	raw, ok := env.fields["action"]
	if !ok {
		return env, merr.WrapErrMissingField("action")
	}
	var action string
	if json.IsNull(raw) || json.Unmarshal(raw, &action) != nil {
		return env, merr.WrapErrMalformedMessage("field must be a string", "action")
	}
	env.Action = Action(action)
	if !env.Action.Known() {
		return env, merr.WrapErrUnknownAction(action)
	}
	return env, nil
}

// Decode 将 envelope 解码为对应动作的请求类型。
func (env *Envelope) Decode() (Request, error) {
	newRequest, ok := decoders[env.Action]
	if !ok {
		return nil, merr.WrapErrUnknownAction(string(env.Action))
	}
	req := newRequest()
	if err := req.decode(env.fields); err != nil {
		return nil, err
	}
	return req, nil
}

