package index

import (
	"context"
	"sync"

	"slobstore/pkg/slob"
	"slobstore/pkg/types"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// DefaultOrderedCapacity 是 Ordered 记住已推送版本的对象数上限
const DefaultOrderedCapacity = 10000

// Ordered 保证同一个对象的推送串行进行，并丢弃不比上一次更新的版本。
// 不同对象之间互不阻塞。
// 已推送的版本只保留最近使用的 capacity 个对象；被淘汰的对象不再做旧版本检查，
// 交给下游 (FileSink / 文档里的 version) 处理。
type Ordered struct {
	target slob.IndexManager
	log    *zap.Logger

	mu    sync.Mutex
	locks map[types.SlobID]*keyLock
	last  *lru.Cache[types.SlobID, int64]
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

var _ slob.IndexManager = (*Ordered)(nil)

func NewOrdered(target slob.IndexManager, log *zap.Logger) *Ordered {
	return NewOrderedWithCapacity(target, DefaultOrderedCapacity, log)
}

// NewOrderedWithCapacity capacity <= 0 时使用 DefaultOrderedCapacity
func NewOrderedWithCapacity(target slob.IndexManager, capacity int, log *zap.Logger) *Ordered {
	if log == nil {
		log = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = DefaultOrderedCapacity
	}
	// capacity 为正时 lru.New 不会返回错误
	last, _ := lru.New[types.SlobID, int64](capacity)
	return &Ordered{
		target: target,
		log:    log,
		locks:  make(map[types.SlobID]*keyLock),
		last:   last,
	}
}

func (o *Ordered) Update(ctx context.Context, id types.SlobID, u slob.IndexUpdate) error {
	l := o.acquire(id)
	defer o.release(id, l)

	if u.Version != 0 {
		last, _ := o.last.Get(id)
		if u.Version <= last {
			o.log.Debug("dropping stale index update",
				zap.Stringer("slob_id", id),
				zap.Int64("version", u.Version),
				zap.Int64("delivered", last),
			)
			return nil
		}
	}

	if err := o.target.Update(ctx, id, u); err != nil {
		return err
	}

	if u.Version != 0 {
		o.last.Add(id, u.Version)
	}
	return nil
}

// LastDelivered 返回最后一次成功推送的版本
func (o *Ordered) LastDelivered(id types.SlobID) int64 {
	v, _ := o.last.Peek(id)
	return v
}

// Tracked 返回当前记住已推送版本的对象数量
func (o *Ordered) Tracked() int {
	return o.last.Len()
}

func (o *Ordered) acquire(id types.SlobID) *keyLock {
	o.mu.Lock()
	l, ok := o.locks[id]
	if !ok {
		l = &keyLock{}
		o.locks[id] = l
	}
	l.refs++
	o.mu.Unlock()

	l.mu.Lock()
	return l
}

func (o *Ordered) release(id types.SlobID, l *keyLock) {
	l.mu.Unlock()

	o.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(o.locks, id)
	}
	o.mu.Unlock()
}
