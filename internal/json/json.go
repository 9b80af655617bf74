// Package json 统一项目内的 JSON 编解码实现（基于 bytedance/sonic，行为与标准库保持一致）。
package json

import (
	gojson "encoding/json"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

type (
	// RawMessage 为尚未解码的原始 JSON 片段。
	RawMessage = gojson.RawMessage
	// Marshaler 与标准库同名接口一致。
	Marshaler = gojson.Marshaler
)

// Null 为 JSON 字面量 null。
var Null = RawMessage("null")

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

func Valid(data []byte) bool {
	return api.Valid(data)
}

// IsNull 判断原始片段是否为空或 null。
func IsNull(raw RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
