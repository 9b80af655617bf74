package session

// Manager 维护当前所有在线通道的索引。
//
// 职责说明：
//   - 只负责通道的注册、查询和移除，不直接创建或关闭底层连接；
//   - 通道的具体生命周期（何时创建/关闭）由上层的 acceptor 决定；
//   - 运维侧可以基于 Manager 做在线统计，或在停机时批量关闭通道。
type Manager interface {
	// Register 将一个已创建好的通道注册到管理器中。
	//
	// 要求：
	//   - ch.ID() 必须全局唯一；
	//   - 当存在相同 ID 的通道时返回错误，避免覆盖旧通道。
	Register(ch Channel) error

	// Unregister 从管理器中移除指定 ID 的通道。
	//
	// 说明：
	//   - 仅删除索引，不负责调用 ch.Close()。
	Unregister(id uint64) error

	// Range 遍历当前所有在线通道，fn 返回 false 时中断遍历。
	Range(fn func(ch Channel) bool)

	// Count 返回当前已注册的通道数量。
	Count() int
}
