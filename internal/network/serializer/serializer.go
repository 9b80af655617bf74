package serializer

// Serializer 抽象了网络层“对象 <-> 字节流”的序列化能力。
//
// 说明：
//   - 中继协议使用 JSON 文本帧，默认实现为 JSONSerializer；
//   - 调用方通过接口注入具体实现，测试中可以替换为记录型实现。
type Serializer interface {
	// Marshal 将任意对象编码为字节序列。
	Marshal(v any) ([]byte, error)

	// Unmarshal 将字节序列解码到目标对象。
	//
	// v 通常为指针类型，用于接收解码结果。
	Unmarshal(data []byte, v any) error
}
