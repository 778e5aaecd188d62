package wave

import (
	"context"
	"fmt"
	"slices"

	"slobstore/pkg/slob"
)

// Model 是会话 wavelet 的 slob.Model 实现，无状态，可并发共享
type Model struct{}

var _ slob.Model = Model{}

// Load 解码快照，nil 表示新的空 wavelet
func (Model) Load(data []byte) (slob.ReadableSlob, error) {
	return Decode(data)
}

// Apply 在当前快照的副本上依次执行 delta 中的操作。
// 只有标题或正文发生变化时才返回索引数据。
func (Model) Apply(ctx context.Context, current slob.ReadableSlob, delta slob.Delta) (slob.Applied, error) {
	w, ok := current.(*Wavelet)
	if !ok {
		return slob.Applied{}, fmt.Errorf("%w: %T", ErrNotWavelet, current)
	}
	d, err := DecodeDelta(delta)
	if err != nil {
		return slob.Applied{}, err
	}

	next := w.clone()
	textChanged := false
	for _, op := range d.Ops {
		switch op.Kind {
		case OpAddParticipant:
			// 已存在的参与者：无操作
			if i, found := slices.BinarySearch(next.Participants, op.Value); !found {
				next.Participants = slices.Insert(next.Participants, i, op.Value)
			}
		case OpRemoveParticipant:
			if i, found := slices.BinarySearch(next.Participants, op.Value); found {
				next.Participants = slices.Delete(next.Participants, i, i+1)
			}
		case OpSetTitle:
			if next.Title != op.Value {
				next.Title = op.Value
				textChanged = true
			}
		case OpAppendText:
			if op.Value != "" {
				next.Body += op.Value
				textChanged = true
			}
		}
	}

	applied := slob.Applied{State: next}
	if textChanged {
		text := next.IndexText()
		applied.IndexData = &text
	}
	return applied, nil
}
