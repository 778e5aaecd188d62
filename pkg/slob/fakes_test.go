package slob

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"slobstore/pkg/retryhelper"
	"slobstore/pkg/types"
)

var errConflict = errors.New("version conflict")

// -----------------------------------------------------------------------------
// memStore: 带乐观锁的内存事务存储，支持注入提交失败
// -----------------------------------------------------------------------------

type memStore struct {
	mu      sync.Mutex
	objects map[types.SlobID]Snapshot
	index   map[types.SlobID]indexState
	begins  int32

	// commitErrs 中的错误按顺序在每次 Commit 时弹出
	commitErrs []error
}

type indexState struct {
	version int64
	entries []IndexEntry
}

func newMemStore() *memStore {
	return &memStore{
		objects: make(map[types.SlobID]Snapshot),
		index:   make(map[types.SlobID]indexState),
	}
}

func (s *memStore) Begin(ctx context.Context, id types.SlobID) (Transaction, error) {
	atomic.AddInt32(&s.begins, 1)
	return &memTx{s: s, id: id}, nil
}

func (s *memStore) failNextCommits(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErrs = append(s.commitErrs, errs...)
}

func (s *memStore) get(id types.SlobID) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[id]
}

func (s *memStore) indexOf(id types.SlobID) indexState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index[id]
}

func (s *memStore) beginCount() int { return int(atomic.LoadInt32(&s.begins)) }

type memTx struct {
	s        *memStore
	id       types.SlobID
	base     Snapshot
	loaded   bool
	staged   *Mutation
	entries  []IndexEntry
	indexSet bool
	closed   bool
}

func (t *memTx) ID() types.SlobID { return t.id }

func (t *memTx) Load(ctx context.Context) (Snapshot, error) {
	if t.closed {
		return Snapshot{}, ErrTransactionClosed
	}
	t.base = t.s.get(t.id)
	t.loaded = true
	return t.base, nil
}

func (t *memTx) Stage(m Mutation) error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.staged = &m
	return nil
}

func (t *memTx) PutIndex(entries ...IndexEntry) error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.entries = append(t.entries, entries...)
	t.indexSet = true
	return nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.closed = true
	if err := ctx.Err(); err != nil {
		return retryhelper.Permanent(err)
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if len(t.s.commitErrs) > 0 {
		err := t.s.commitErrs[0]
		t.s.commitErrs = t.s.commitErrs[1:]
		return err
	}
	if t.staged == nil || !t.loaded {
		return retryhelper.Permanent(errors.New("nothing staged"))
	}
	if t.s.objects[t.id].Version != t.base.Version {
		return retryhelper.Retryable(errConflict)
	}
	if t.staged.Version != t.base.Version+1 {
		return retryhelper.Permanent(errors.New("version must advance by one"))
	}
	t.s.objects[t.id] = Snapshot{Version: t.staged.Version, Data: t.staged.Snapshot}
	if t.indexSet {
		t.s.index[t.id] = indexState{version: t.staged.Version, entries: t.entries}
	}
	return nil
}

func (t *memTx) Rollback() error {
	t.closed = true
	return nil
}

// -----------------------------------------------------------------------------
// textModel: 状态是一段文本，delta 追加到末尾
// -----------------------------------------------------------------------------

type textSlob string

func (s textSlob) Snapshot() ([]byte, error) { return []byte(s), nil }

type textModel struct {
	applies atomic.Int32

	// onApply 可选，用于控制并发交错
	onApply func(ctx context.Context, delta string)
}

func (m *textModel) Load(data []byte) (ReadableSlob, error) {
	return textSlob(data), nil
}

func (m *textModel) Apply(ctx context.Context, current ReadableSlob, delta Delta) (Applied, error) {
	m.applies.Add(1)
	if m.onApply != nil {
		m.onApply(ctx, string(delta))
	}
	switch string(delta) {
	case "":
		return Applied{}, errors.New("empty delta")
	case "!retry":
		return Applied{}, retryhelper.Retryable(errors.New("merge backend busy"))
	case "!noindex":
		return Applied{State: current}, nil
	}
	next := current.(textSlob) + textSlob(delta)
	data := string(next)
	return Applied{State: next, IndexData: &data}, nil
}

// -----------------------------------------------------------------------------
// hooks
// -----------------------------------------------------------------------------

type preCommitCall struct {
	id      types.SlobID
	version int64
	state   string
}

type recordingPreCommit struct {
	mu    sync.Mutex
	calls []preCommitCall
	err   error
	panic bool

	// onRun 可选，在暂存索引之后执行
	onRun func()
}

func (h *recordingPreCommit) Run(ctx context.Context, tx Transaction, id types.SlobID, v int64, state ReadableSlob) error {
	h.mu.Lock()
	h.calls = append(h.calls, preCommitCall{id: id, version: v, state: string(state.(textSlob))})
	h.mu.Unlock()

	if err := tx.PutIndex(IndexEntry{Field: "text", Value: string(state.(textSlob))}); err != nil {
		return err
	}
	if h.onRun != nil {
		h.onRun()
	}
	if h.panic {
		panic("index exploded")
	}
	return h.err
}

func (h *recordingPreCommit) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

// forwardingPostMutate 把索引数据转交给 IndexDispatcher
type forwardingPostMutate struct {
	index IndexDispatcher
	calls atomic.Int32
	panic bool
}

func (h *forwardingPostMutate) Run(ctx context.Context, id types.SlobID, result MutateResult) error {
	h.calls.Add(1)
	if h.panic {
		panic("post hook exploded")
	}
	if !result.HasIndexData() {
		return nil
	}
	return h.index.Update(ctx, id, IndexUpdate{Data: *result.IndexData, Version: result.Version})
}

type recordedUpdate struct {
	id     types.SlobID
	update IndexUpdate
}

type recordingIndex struct {
	mu      sync.Mutex
	updates []recordedUpdate
	err     error
}

func (r *recordingIndex) Update(ctx context.Context, id types.SlobID, u IndexUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.updates = append(r.updates, recordedUpdate{id: id, update: u})
	return nil
}

func (r *recordingIndex) all() []recordedUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedUpdate(nil), r.updates...)
}

type denyList map[string]bool

func (d denyList) Check(ctx context.Context, caller types.Caller, id types.SlobID) (bool, error) {
	return !d[caller.ID+"|"+id.String()], nil
}

type transitionLog struct {
	mu  sync.Mutex
	all []Transition
}

func (l *transitionLog) observe(t Transition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.all = append(l.all, t)
}

func (l *transitionLog) states() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]State, 0, len(l.all))
	for _, t := range l.all {
		out = append(out, t.To)
	}
	return out
}
