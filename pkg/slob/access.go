package slob

import (
	"context"
	"fmt"

	"slobstore/pkg/types"
)

// AccessChecker 是权限闸门，在任何事务开启之前调用。
// 实现必须只读 (不能有副作用)。
type AccessChecker interface {
	// Check 返回 caller 能否修改 id。
	// error 表示策略本身查询失败，而不是拒绝。
	Check(ctx context.Context, caller types.Caller, id types.SlobID) (bool, error)
}

// AllowAll approves every mutation. It is meant for tools and tests.
type AllowAll struct{}

func (AllowAll) Check(context.Context, types.Caller, types.SlobID) (bool, error) {
	return true, nil
}

// AccessDeniedError 是终止性的、面向调用方的错误，从不重试
type AccessDeniedError struct {
	Caller types.Caller
	ID     types.SlobID
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: %q may not mutate %s", e.Caller.ID, e.ID)
}
