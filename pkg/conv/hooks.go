package conv

import (
	"context"
	"errors"
	"fmt"

	"slobstore/pkg/retryhelper"
	"slobstore/pkg/slob"
	"slobstore/pkg/types"
	"slobstore/pkg/wave"
	"slobstore/pkg/wavemanager"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// PreviewLength 是日志中索引数据预览的最大字符数
const PreviewLength = 50

// IndexPreCommitHook 在提交之前把 wavelet 的派生索引写入同一个事务
type IndexPreCommitHook struct {
	index *wavemanager.WaveIndex
}

func NewIndexPreCommitHook(index *wavemanager.WaveIndex) *IndexPreCommitHook {
	return &IndexPreCommitHook{index: index}
}

func (h *IndexPreCommitHook) Run(ctx context.Context, tx slob.Transaction, id types.SlobID, _ int64, state slob.ReadableSlob) error {
	w, ok := state.(*wave.Wavelet)
	if !ok {
		return retryhelper.Permanent(fmt.Errorf("%w: %T", wave.ErrNotWavelet, state))
	}
	return h.index.Update(tx, id, w)
}

// IndexPostMutateHook 在提交之后把索引数据推送给外部索引
type IndexPostMutateHook struct {
	index slob.IndexDispatcher
	log   *zap.Logger
}

func NewIndexPostMutateHook(index slob.IndexDispatcher, log *zap.Logger) *IndexPostMutateHook {
	if log == nil {
		log = zap.NewNop()
	}
	return &IndexPostMutateHook{index: index, log: log}
}

func (h *IndexPostMutateHook) Run(ctx context.Context, id types.SlobID, result slob.MutateResult) error {
	if !result.HasIndexData() {
		return nil
	}
	data := *result.IndexData

	h.log.Info("updating index",
		zap.Stringer("slob_id", id),
		zap.Int64("version", result.Version),
		zap.String("preview", Summarize(data)),
	)

	err := h.index.Update(ctx, id, slob.IndexUpdate{Data: data, Version: result.Version})
	if err == nil {
		return nil
	}
	var ioErr *slob.IOError
	if !errors.As(err, &ioErr) {
		err = &slob.IOError{ID: id, Version: result.Version, Err: err}
	}
	return fmt.Errorf("index update failed: %w", err)
}

// InvalidatePermissionsHook 在提交之后丢弃缓存的参与者列表
type InvalidatePermissionsHook struct {
	caches []Invalidator
}

func NewInvalidatePermissionsHook(caches ...Invalidator) *InvalidatePermissionsHook {
	return &InvalidatePermissionsHook{caches: caches}
}

func (h *InvalidatePermissionsHook) Run(ctx context.Context, id types.SlobID, _ slob.MutateResult) error {
	var err error
	for _, c := range h.caches {
		err = multierr.Append(err, c.Invalidate(ctx, id))
	}
	return err
}

// Summarize 返回最多 PreviewLength 个字符的预览，被截断时追加 "..."
func Summarize(s string) string {
	n := 0
	for i := range s {
		if n == PreviewLength {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
