package log

import (
	"go.uber.org/zap"
)

const (
	FieldNameModule    = "module"
	FieldNameComponent = "component"
	FieldNameTraceID   = "traceID"

	FieldNameAppName  = "appname"
	FieldNameSession  = "session"
	FieldNameUser     = "user"
	FieldNameChannel  = "channel"
	FieldNameAction   = "action"
	FieldNameRecvUser = "recipient"
)

// FieldModule 返回一个包含模块名的 zap 字段。
func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

// FieldComponent 返回一个包含组件名的 zap 字段。
func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

// FieldAppName 返回一个包含应用命名空间的 zap 字段。
func FieldAppName(appname string) zap.Field {
	return zap.String(FieldNameAppName, appname)
}

// FieldSession 返回一个包含会话展示 ID 的 zap 字段。
func FieldSession(session string) zap.Field {
	return zap.String(FieldNameSession, session)
}

// FieldUser 返回一个包含用户名的 zap 字段。
func FieldUser(user string) zap.Field {
	return zap.String(FieldNameUser, user)
}

// FieldRecipient 返回一个包含接收方用户名的 zap 字段。
func FieldRecipient(user string) zap.Field {
	return zap.String(FieldNameRecvUser, user)
}

// FieldChannel 返回一个包含底层连接 ID 的 zap 字段。
func FieldChannel(id uint64) zap.Field {
	return zap.Uint64(FieldNameChannel, id)
}

// FieldAction 返回一个包含协议动作名的 zap 字段。
func FieldAction(action string) zap.Field {
	return zap.String(FieldNameAction, action)
}
