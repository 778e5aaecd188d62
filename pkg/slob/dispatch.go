package slob

import (
	"context"
	"errors"
	"fmt"

	"slobstore/pkg/types"

	"go.uber.org/zap"
)

// ErrNoIndexManager is returned by a Dispatcher that has no index target.
var ErrNoIndexManager = errors.New("no index manager configured")

// IndexUpdate 是发往外部索引的一条更新
type IndexUpdate struct {
	// Data 是不透明的索引内容
	Data string

	// Cursor 是可选的元数据，空字符串表示没有
	Cursor string

	// Version 是这条索引数据对应的已提交版本
	Version int64
}

// IndexManager 是外部索引子系统 (外部协作者)
type IndexManager interface {
	Update(ctx context.Context, id types.SlobID, update IndexUpdate) error
}

// IndexDispatcher is the index-update API the Manager exposes to hooks.
// Every failure it returns is an *IOError.
type IndexDispatcher interface {
	Update(ctx context.Context, id types.SlobID, update IndexUpdate) error
}

// IOError 表示索引推送失败。
// 它不会影响已提交的变更，但需要运维关注，不是正常流程里的错误。
type IOError struct {
	ID      types.SlobID
	Version int64
	Err     error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("index update for %s (version %d) failed: %v", e.ID, e.Version, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Dispatcher 把更新转交给外部 IndexManager，并把所有失败统一包装为 *IOError。
// 它先于 Manager 和 hook 构造，再注入到两者之中。
type Dispatcher struct {
	target IndexManager
	log    *zap.Logger
}

func NewDispatcher(target IndexManager, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{target: target, log: log}
}

func (d *Dispatcher) Update(ctx context.Context, id types.SlobID, update IndexUpdate) error {
	if d == nil || d.target == nil {
		return &IOError{ID: id, Version: update.Version, Err: ErrNoIndexManager}
	}
	if err := d.target.Update(ctx, id, update); err != nil {
		return &IOError{ID: id, Version: update.Version, Err: err}
	}
	d.log.Debug("index update delivered",
		zap.Stringer("slob_id", id),
		zap.Int64("version", update.Version),
		zap.Int("bytes", len(update.Data)),
	)
	return nil
}
