package conv

import (
	"context"
	"fmt"
	"slices"

	"slobstore/pkg/slob"
	"slobstore/pkg/types"

	"go.uber.org/zap"
)

// PermissionSource 返回 wavelet 的参与者列表；exists 为 false 表示 wavelet 尚未创建
// wavemanager.Manager 是基础实现，PermissionCache / RedisPermissionSource 是装饰器
type PermissionSource interface {
	Participants(ctx context.Context, id types.SlobID) (participants []string, exists bool, err error)
}

// Invalidator 由带缓存的 PermissionSource 实现，提交之后丢弃旧的权限
type Invalidator interface {
	Invalidate(ctx context.Context, id types.SlobID) error
}

// AccessChecker 是会话的访问策略：
// wavelet 不存在时任何已认证的调用方都可以创建，存在时只有参与者可以修改。
type AccessChecker struct {
	source PermissionSource
	log    *zap.Logger
}

var _ slob.AccessChecker = (*AccessChecker)(nil)

func NewAccessChecker(source PermissionSource, log *zap.Logger) *AccessChecker {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccessChecker{source: source, log: log}
}

func (c *AccessChecker) Check(ctx context.Context, caller types.Caller, id types.SlobID) (bool, error) {
	if caller.IsZero() {
		return false, nil
	}
	participants, exists, err := c.source.Participants(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to read permissions for %s: %w", id, err)
	}
	if !exists {
		return true, nil
	}
	allowed := slices.Contains(participants, caller.ID)
	if !allowed {
		c.log.Debug("caller is not a participant", zap.Stringer("caller", caller), zap.Stringer("slob_id", id))
	}
	return allowed, nil
}
