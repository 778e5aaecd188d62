package wavemanager

import (
	"context"
	"fmt"

	"slobstore/pkg/meta"
	"slobstore/pkg/types"
	"slobstore/pkg/wave"

	"go.uber.org/zap"
)

// Manager 提供 wavelet 的只读访问，同时作为权限来源 (参与者列表)
type Manager struct {
	store *meta.Store
	log   *zap.Logger
}

func NewManager(store *meta.Store, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{store: store, log: log}
}

// Wavelet 读取当前已提交的 wavelet。version 为 0 表示不存在。
func (m *Manager) Wavelet(ctx context.Context, id types.SlobID) (*wave.Wavelet, int64, error) {
	snap, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load wavelet %s: %w", id, err)
	}
	w, err := wave.Decode(snap.Data)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode wavelet %s@%d: %w", id, snap.Version, err)
	}
	return w, snap.Version, nil
}

// Participants 返回当前参与者；exists 为 false 表示 wavelet 尚未创建
func (m *Manager) Participants(ctx context.Context, id types.SlobID) ([]string, bool, error) {
	w, version, err := m.Wavelet(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if version == 0 {
		return nil, false, nil
	}
	m.log.Debug("loaded participants", zap.Stringer("slob_id", id), zap.Int("count", len(w.Participants)))
	return w.Participants, true, nil
}
