package index

import (
	"context"
	"maps"
	"sync"

	"slobstore/pkg/slob"
	"slobstore/pkg/types"
)

// MemorySink 是进程内的索引，用于测试和 index.type=memory
type MemorySink struct {
	mu        sync.RWMutex
	documents map[types.SlobID]Document
	deliver   int
}

var _ slob.IndexManager = (*MemorySink)(nil)

func NewMemorySink() *MemorySink {
	return &MemorySink{documents: make(map[types.SlobID]Document)}
}

func (s *MemorySink) Update(ctx context.Context, id types.SlobID, u slob.IndexUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.documents[id]; ok && !supersedes(prev, u) {
		return nil
	}
	s.documents[id] = NewDocument(id, u)
	s.deliver++
	return nil
}

func (s *MemorySink) Get(id types.SlobID) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[id]
	return d, ok
}

func (s *MemorySink) Snapshot() map[types.SlobID]Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.documents)
}

// Delivered 返回被接受的更新次数
func (s *MemorySink) Delivered() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deliver
}
