package index

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"slobstore/pkg/slob"
	"slobstore/pkg/types"
)

// FileSink 把索引文档保存在本地的一个 JSON 文件里
type FileSink struct {
	path      string                    // 物理文件路径 (.slob/index.json)
	Documents map[types.SlobID]Document `json:"documents"`
	mu        sync.RWMutex
}

var _ slob.IndexManager = (*FileSink)(nil)

// NewFileSink 加载或创建一个新的 FileSink
func NewFileSink(path string) (*FileSink, error) {
	s := &FileSink{
		path:      path,
		Documents: make(map[types.SlobID]Document),
	}

	// 尝试加载现有文件
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read index: %w", err)
		}
		if err := json.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("corrupted index file: %w", err)
		}
		if s.Documents == nil {
			s.Documents = make(map[types.SlobID]Document)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return s, nil
}

// Update 写入文档并立即持久化。旧版本的更新被忽略。
func (s *FileSink) Update(ctx context.Context, id types.SlobID, u slob.IndexUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.Documents[id]
	if existed && !supersedes(prev, u) {
		return nil
	}
	s.Documents[id] = NewDocument(id, u)

	if err := s.saveLocked(); err != nil {
		// 持久化失败：内存状态回退，保持与磁盘一致
		if existed {
			s.Documents[id] = prev
		} else {
			delete(s.Documents, id)
		}
		return err
	}
	return nil
}

// Get 返回某个对象的索引文档
func (s *FileSink) Get(id types.SlobID) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.Documents[id]
	return d, ok
}

// Snapshot 返回当前文档的副本，用于并发安全的读取
func (s *FileSink) Snapshot() map[types.SlobID]Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(map[types.SlobID]Document, len(s.Documents))
	maps.Copy(snap, s.Documents)
	return snap
}

// saveLocked 原子写入：先写临时文件，再 Rename
func (s *FileSink) saveLocked() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create index dir: %w", err)
	}
	tempFile, err := os.CreateTemp(dir, "index-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	// Rename 成功之后这个删除是无害的
	defer os.Remove(tempFile.Name())

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := tempFile.Close(); err != nil { // 必须先关闭才能 Rename
		return err
	}
	if err := os.Rename(tempFile.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace index: %w", err)
	}
	return nil
}
