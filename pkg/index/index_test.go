package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"slobstore/pkg/slob"
	"slobstore/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSink_Persistence_RoundTrip(t *testing.T) {
	// 1. Setup
	indexPath := filepath.Join(t.TempDir(), "nested", "index.json")
	ctx := context.Background()

	// 2. 创建并写入数据
	s1, err := NewFileSink(indexPath)
	require.NoError(t, err)
	require.NoError(t, s1.Update(ctx, "W1", slob.IndexUpdate{Data: "hello", Version: 1}))
	require.NoError(t, s1.Update(ctx, "W2", slob.IndexUpdate{Data: "world", Version: 3, Cursor: "c1"}))

	// 3. 重新加载 (模拟第二次运行程序)
	s2, err := NewFileSink(indexPath)
	require.NoError(t, err)

	// 4. 验证数据一致性
	assert.Len(t, s2.Snapshot(), 2)
	doc, ok := s2.Get("W2")
	require.True(t, ok)
	assert.Equal(t, "world", doc.Data)
	assert.Equal(t, int64(3), doc.Version)
	assert.Equal(t, "c1", doc.Cursor)
	assert.False(t, doc.UpdatedAt.IsZero())

	// 没有残留的临时文件
	files, err := os.ReadDir(filepath.Dir(indexPath))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestFileSink_IgnoresStaleVersions(t *testing.T) {
	s, err := NewFileSink(filepath.Join(t.TempDir(), "index.json"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, "W1", slob.IndexUpdate{Data: "v2", Version: 2}))
	require.NoError(t, s.Update(ctx, "W1", slob.IndexUpdate{Data: "v1", Version: 1}))

	doc, _ := s.Get("W1")
	assert.Equal(t, "v2", doc.Data)
}

func TestFileSink_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := NewFileSink(path)
	assert.ErrorContains(t, err, "corrupted index file")
}

func TestFileSink_Concurrency(t *testing.T) {
	s, err := NewFileSink(filepath.Join(t.TempDir(), "index.json"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Update(context.Background(), types.SlobID("W"), slob.IndexUpdate{Data: "x", Version: int64(i + 1)}))
		}()
	}
	wg.Wait()

	doc, ok := s.Get("W")
	require.True(t, ok)
	assert.Equal(t, int64(10), doc.Version, "the newest version wins regardless of arrival order")
}

func TestMemorySink(t *testing.T) {
	s := NewMemorySink()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, "W1", slob.IndexUpdate{Data: "a", Version: 1}))
	require.NoError(t, s.Update(ctx, "W1", slob.IndexUpdate{Data: "stale", Version: 1}))
	require.NoError(t, s.Update(ctx, "W1", slob.IndexUpdate{Data: "b", Version: 2}))

	doc, ok := s.Get("W1")
	require.True(t, ok)
	assert.Equal(t, "b", doc.Data)
	assert.Equal(t, 2, s.Delivered())

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, s.Update(cctx, "W1", slob.IndexUpdate{Version: 3}), context.Canceled)
}

type failingSink struct{ err error }

func (f failingSink) Update(context.Context, types.SlobID, slob.IndexUpdate) error { return f.err }

func TestFanout(t *testing.T) {
	a, b := NewMemorySink(), NewMemorySink()
	ctx := context.Background()

	require.NoError(t, Fanout{a, b}.Update(ctx, "W1", slob.IndexUpdate{Data: "x", Version: 1}))
	_, okA := a.Get("W1")
	_, okB := b.Get("W1")
	assert.True(t, okA)
	assert.True(t, okB)

	boom := errors.New("s3 down")
	err := Fanout{a, failingSink{boom}}.Update(ctx, "W1", slob.IndexUpdate{Data: "y", Version: 2})
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "index target 1")

	assert.NoError(t, Fanout{}.Update(ctx, "W1", slob.IndexUpdate{}))
}

// slowSink 记录同一时间内正在执行的推送数量
type slowSink struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	count    atomic.Int32
	err      error
}

func (s *slowSink) Update(context.Context, types.SlobID, slob.IndexUpdate) error {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	s.count.Add(1)
	return s.err
}

func TestOrdered_SerializesPerObject(t *testing.T) {
	sink := &slowSink{}
	o := NewOrdered(sink, nil)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, o.Update(context.Background(), "W1", slob.IndexUpdate{Version: int64(i + 1)}))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), sink.maxSeen.Load(), "updates for one object never overlap")
	assert.Equal(t, int64(8), o.LastDelivered("W1"))
	assert.Empty(t, o.locks, "per-object locks are released")
}

func TestOrdered_DropsStaleAndKeepsFailures(t *testing.T) {
	sink := &slowSink{}
	o := NewOrdered(sink, nil)
	ctx := context.Background()

	require.NoError(t, o.Update(ctx, "W1", slob.IndexUpdate{Version: 2}))
	require.NoError(t, o.Update(ctx, "W1", slob.IndexUpdate{Version: 1}))
	require.NoError(t, o.Update(ctx, "W1", slob.IndexUpdate{Version: 2}))
	assert.Equal(t, int32(1), sink.count.Load())

	// 失败的推送不推进版本，可以重试
	sink.err = errors.New("offline")
	assert.Error(t, o.Update(ctx, "W1", slob.IndexUpdate{Version: 3}))
	assert.Equal(t, int64(2), o.LastDelivered("W1"))

	sink.err = nil
	require.NoError(t, o.Update(ctx, "W1", slob.IndexUpdate{Version: 3}))
	assert.Equal(t, int64(3), o.LastDelivered("W1"))
}

func TestOrdered_IndependentObjects(t *testing.T) {
	sink := &slowSink{}
	o := NewOrdered(sink, nil)

	var wg sync.WaitGroup
	for _, id := range []types.SlobID{"A", "B", "C", "D"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, o.Update(context.Background(), id, slob.IndexUpdate{Version: 1}))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(4), sink.count.Load())
}

func TestOrdered_BoundedHistory(t *testing.T) {
	sink := &slowSink{}
	o := NewOrderedWithCapacity(sink, 2, nil)
	ctx := context.Background()

	for _, id := range []types.SlobID{"A", "B", "C"} {
		require.NoError(t, o.Update(ctx, id, slob.IndexUpdate{Version: 5}))
	}
	assert.Equal(t, 2, o.Tracked(), "history is capped at the configured capacity")
	assert.Zero(t, o.LastDelivered("A"), "least recently used object is evicted")
	assert.Equal(t, int64(5), o.LastDelivered("C"))

	// 仍被记住的对象继续丢弃旧版本
	require.NoError(t, o.Update(ctx, "C", slob.IndexUpdate{Version: 4}))
	assert.Equal(t, int32(3), sink.count.Load())
}
