package relay

import (
	"encoding/hex"
	"strings"

	"github.com/lk2023060901/session-relay-go/pkg/util/merr"
)

const (
	sessionIDBytes = 3
	// MaxSessionID 为会话 ID 的上界（不含）。
	MaxSessionID = 1 << (8 * sessionIDBytes)
)

// FormatSessionID 将会话 ID 渲染为展示 ID：3 字节小端序的大写十六进制。
func FormatSessionID(id uint32) string {
	b := [sessionIDBytes]byte{byte(id), byte(id >> 8), byte(id >> 16)}
	return strings.ToUpper(hex.EncodeToString(b[:]))
}

// ParseSessionID 将展示 ID 解析为会话 ID。
//
// 说明：
//   - 只接受偶数长度的大写十六进制串，其余格式返回 SessionNotFound；
//   - 字节按小端序解释，末尾的 0 字节不影响取值，因此 "2A000000" 与 "2A0000" 等价；
//   - 取值超出 24 位的展示 ID 不可能对应任何会话，同样返回 SessionNotFound。
func ParseSessionID(displayID string) (uint32, error) {
	if len(displayID)%2 != 0 || strings.IndexFunc(displayID, isNotUpperHex) >= 0 {
		return 0, merr.WrapErrSessionNotFound(displayID, "bad format of session id")
	}
	raw, err := hex.DecodeString(displayID)
	if err != nil {
		return 0, merr.WrapErrSessionNotFound(displayID, "bad format of session id")
	}
	for len(raw) > 0 && raw[len(raw)-1] == 0 {
		raw = raw[:len(raw)-1]
	}
	if len(raw) > sessionIDBytes {
		return 0, merr.WrapErrSessionNotFound(displayID)
	}

	var id uint32
	for i := len(raw) - 1; i >= 0; i-- {
		id = id<<8 | uint32(raw[i])
	}
	return id, nil
}

func isNotUpperHex(r rune) bool {
	return (r < '0' || r > '9') && (r < 'A' || r > 'F')
}
