package slob

import (
	"context"

	"slobstore/pkg/types"

	"go.uber.org/multierr"
)

// PreCommitHook 在变更所在的事务内、提交之前同步执行。
// 它通过 tx 暂存的写入与数据写入原子地可见 (要么都可见，要么都不可见)。
//
// 实现会被所有并发请求共享，必须无状态或内部同步；
// 所需的上下文全部通过参数传入。
type PreCommitHook interface {
	Run(ctx context.Context, tx Transaction, id types.SlobID, resultingVersion int64, resultingState ReadableSlob) error
}

// PostMutateHook 在事务提交之后执行，没有事务保证。
// 它返回的错误只会被上报，不会回滚已提交的变更，也不会触发整个事务重试；
// 需要重试推送的话由 hook 自己负责，并保证幂等。
type PostMutateHook interface {
	Run(ctx context.Context, id types.SlobID, result MutateResult) error
}

// NopPreCommit does nothing.
type NopPreCommit struct{}

func (NopPreCommit) Run(context.Context, Transaction, types.SlobID, int64, ReadableSlob) error {
	return nil
}

// NopPostMutate does nothing.
type NopPostMutate struct{}

func (NopPostMutate) Run(context.Context, types.SlobID, MutateResult) error { return nil }

// PreCommitHooks 按顺序执行，第一个失败即中止整个事务
type PreCommitHooks []PreCommitHook

func (hs PreCommitHooks) Run(ctx context.Context, tx Transaction, id types.SlobID, v int64, state ReadableSlob) error {
	for _, h := range hs {
		if err := h.Run(ctx, tx, id, v, state); err != nil {
			return err
		}
	}
	return nil
}

// PostMutateHooks 依次执行全部 hook，即使前面的失败也继续，错误合并返回
type PostMutateHooks []PostMutateHook

func (hs PostMutateHooks) Run(ctx context.Context, id types.SlobID, result MutateResult) error {
	var err error
	for _, h := range hs {
		err = multierr.Append(err, h.Run(ctx, id, result))
	}
	return err
}
