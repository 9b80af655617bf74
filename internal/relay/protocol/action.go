package protocol

// Action 为客户端消息 envelope 中的 action 字段取值。
type Action string

const (
	ActionCreate   Action = "create"
	ActionJoin     Action = "join"
	ActionSend     Action = "send"
	ActionRequest  Action = "request"
	ActionResponse Action = "response"
	ActionLeave    Action = "leave"
)

// RequiresBound 返回该动作是否要求客户端已经加入会话。
// create/join 要求未加入，其余动作要求已加入。
func (a Action) RequiresBound() bool {
	switch a {
	case ActionCreate, ActionJoin:
		return false
	default:
		return true
	}
}

// Known 返回该动作是否属于协议定义的动作集合。
func (a Action) Known() bool {
	_, ok := decoders[a]
	return ok
}

func (a Action) String() string {
	return string(a)
}
