package slob

import "context"

// Delta 是模型相关的、不透明的变更描述
type Delta []byte

// ReadableSlob 是对象在某个版本上的不可变快照。
// 每次成功的变更都会产生一个新的 ReadableSlob，旧快照永远不会被原地修改。
type ReadableSlob interface {
	// Snapshot 返回用于持久化的序列化形式
	Snapshot() ([]byte, error)
}

// Model 是合并 / OT 算法 (外部协作者)：根据当前状态和 delta 计算新状态。
// 实现必须是无状态的，会被所有并发请求共享。
type Model interface {
	// Load 解码快照。data 为 nil 时返回新对象的空状态。
	Load(data []byte) (ReadableSlob, error)

	// Apply 计算新状态。返回的 error 如果没有分类，按永久故障处理。
	Apply(ctx context.Context, current ReadableSlob, delta Delta) (Applied, error)
}

// Applied 是 Model.Apply 的结果
type Applied struct {
	State ReadableSlob

	// IndexData 只有在本次变更与索引相关时才非 nil
	IndexData *string
}
