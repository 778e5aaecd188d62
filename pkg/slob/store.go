package slob

import (
	"context"
	"errors"

	"slobstore/pkg/types"
)

// ErrTransactionClosed is returned by Transaction methods once the
// transaction has been committed or rolled back.
var ErrTransactionClosed = errors.New("transaction already committed or rolled back")

// Store 是事务型存储引擎 (外部协作者)
// 每个事务只针对一个 SlobID，并发控制采用乐观锁：提交时比较版本号。
type Store interface {
	// Begin 开启一个针对 id 的事务。
	// 调用方必须保证 Commit 或 Rollback 之一被调用 (通常 defer Rollback)。
	Begin(ctx context.Context, id types.SlobID) (Transaction, error)
}

// Transaction 是一次尝试独占的事务句柄，不能跨尝试共享，也不能并发使用。
//
// Commit 的错误必须已经分类：
// 写冲突等瞬时故障包装为 retryhelper.RetryableFailure，其余为 PermanentFailure。
type Transaction interface {
	ID() types.SlobID

	// Load 返回事务开始时读到的当前快照，并把它的版本记为提交时的比较基准。
	// 对象不存在时返回 Version 为 0、Data 为 nil 的 Snapshot。
	Load(ctx context.Context) (Snapshot, error)

	// Stage 暂存新版本，Commit 时才真正写入
	Stage(m Mutation) error

	// PutIndex 暂存派生索引条目。
	// 只要在事务内调用过一次，提交时就用暂存的条目整体替换该对象的索引；
	// 从未调用则保持原索引不变。
	PutIndex(entries ...IndexEntry) error

	Commit(ctx context.Context) error

	// Rollback 放弃所有暂存的写入。Commit 之后调用是无害的空操作。
	Rollback() error
}

// Snapshot 是某个版本上的持久化状态
type Snapshot struct {
	Version int64
	Data    []byte
}

// Exists reports whether the object has ever been committed.
func (s Snapshot) Exists() bool { return s.Version > 0 }

// Mutation 是一次提交要写入的新版本
type Mutation struct {
	// Version 必须等于 Load 读到的版本 + 1
	Version  int64
	Snapshot []byte
	Delta    Delta
	Author   string

	// Meta 是写入变更日志的附加信息 (例如尝试次数)
	Meta map[string]any
}

// IndexEntry 是派生索引中的一行，例如 {Field: "participant", Value: "alice@example.com"}
type IndexEntry struct {
	Field string
	Value string
}
