package conv

import (
	"context"
	"slices"
	"sync"
	"time"

	"slobstore/pkg/types"
)

// maxCacheEntries 超过之后先清理过期项，仍然超过则整体清空
const maxCacheEntries = 10000

// PermissionCache 是进程内的权限缓存，带 TTL
// 只缓存已存在的 wavelet：不存在的结果随时可能因为创建而失效。
type PermissionCache struct {
	source PermissionSource
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	entries  map[types.SlobID]cacheEntry
	inflight map[types.SlobID]*pendingRead
}

// pendingRead 记录正在穿透到底层的读取；gen 由 Invalidate 递增，
// 读取开始之后发生过失效的结果不能写回缓存
type pendingRead struct {
	gen  uint64
	refs int
}

type cacheEntry struct {
	participants []string
	expires      time.Time
}

var (
	_ PermissionSource = (*PermissionCache)(nil)
	_ Invalidator      = (*PermissionCache)(nil)
)

// NewPermissionCache ttl <= 0 时不缓存，直接透传
func NewPermissionCache(source PermissionSource, ttl time.Duration) *PermissionCache {
	return &PermissionCache{
		source:  source,
		ttl:     ttl,
		now:     time.Now,
		entries:  make(map[types.SlobID]cacheEntry),
		inflight: make(map[types.SlobID]*pendingRead),
	}
}

func (c *PermissionCache) Participants(ctx context.Context, id types.SlobID) ([]string, bool, error) {
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[id]
	if ok && now.Before(e.expires) {
		c.mu.Unlock()
		return slices.Clone(e.participants), true, nil
	}
	p, gen := c.beginReadLocked(id)
	c.mu.Unlock()

	participants, exists, err := c.source.Participants(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.endReadLocked(id, p)
	if err != nil || !exists || c.ttl <= 0 {
		return participants, exists, err
	}
	if p.gen != gen {
		// 读取期间发生了提交，结果可能已经过时
		return participants, true, nil
	}
	if len(c.entries) >= maxCacheEntries {
		c.sweepLocked(now)
	}
	c.entries[id] = cacheEntry{participants: slices.Clone(participants), expires: now.Add(c.ttl)}
	return participants, true, nil
}

func (c *PermissionCache) Invalidate(_ context.Context, id types.SlobID) error {
	c.mu.Lock()
	delete(c.entries, id)
	if p, ok := c.inflight[id]; ok {
		p.gen++
	}
	c.mu.Unlock()
	return nil
}

func (c *PermissionCache) beginReadLocked(id types.SlobID) (*pendingRead, uint64) {
	p, ok := c.inflight[id]
	if !ok {
		p = &pendingRead{}
		c.inflight[id] = p
	}
	p.refs++
	return p, p.gen
}

func (c *PermissionCache) endReadLocked(id types.SlobID, p *pendingRead) {
	p.refs--
	if p.refs == 0 {
		delete(c.inflight, id)
	}
}

func (c *PermissionCache) sweepLocked(now time.Time) {
	for id, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, id)
		}
	}
	if len(c.entries) >= maxCacheEntries {
		clear(c.entries)
	}
}
