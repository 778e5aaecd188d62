package slob

import (
	"context"
	"errors"
	"fmt"

	"slobstore/pkg/retryhelper"
	"slobstore/pkg/types"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrInvalidMutation wraps failures that reject a mutation before commit: a malformed delta or a bad model result.
var ErrInvalidMutation = errors.New("invalid mutation")

// Config 汇集 Manager 的全部依赖，全部显式注入
type Config struct {
	Store Store
	Model Model

	// Access 为 nil 时拒绝构造，避免无意中放开权限；需要放开请显式传 AllowAll{}
	Access AccessChecker

	PreCommit  PreCommitHook
	PostMutate PostMutateHook

	// Index 是暴露给 hook 的索引推送 API，通常与 PostMutate hook 共用同一个 Dispatcher
	Index IndexDispatcher

	Retry  *retryhelper.Helper
	Logger *zap.Logger

	// Observer 可选，接收所有状态转换
	Observer Observer

	// OnPostMutateError 可选，接收提交之后 hook 的失败 (旁路诊断)
	OnPostMutateError func(id types.SlobID, version int64, err error)
}

// Manager 是对象存储的入口，负责把单个变更请求驱动到成功或失败。
// Manager 本身无请求级状态，可被并发使用。
type Manager struct {
	store      Store
	model      Model
	access     AccessChecker
	preCommit  PreCommitHook
	postMutate PostMutateHook
	index      IndexDispatcher
	retry      *retryhelper.Helper
	log        *zap.Logger
	observer   Observer
	onPostErr  func(types.SlobID, int64, error)
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("slob: store is required")
	}
	if cfg.Model == nil {
		return nil, errors.New("slob: model is required")
	}
	if cfg.Access == nil {
		return nil, errors.New("slob: access checker is required")
	}

	m := &Manager{
		store:      cfg.Store,
		model:      cfg.Model,
		access:     cfg.Access,
		preCommit:  cfg.PreCommit,
		postMutate: cfg.PostMutate,
		index:      cfg.Index,
		retry:      cfg.Retry,
		log:        cfg.Logger,
		observer:   cfg.Observer,
		onPostErr:  cfg.OnPostMutateError,
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.preCommit == nil {
		m.preCommit = NopPreCommit{}
	}
	if m.postMutate == nil {
		m.postMutate = NopPostMutate{}
	}
	if m.index == nil {
		m.index = NewDispatcher(nil, m.log)
	}
	if m.retry == nil {
		m.retry = retryhelper.New(retryhelper.DefaultPolicy(), m.log)
	}
	return m, nil
}

// Update 是暴露给 hook 的索引推送 API，失败时返回 *IOError
func (m *Manager) Update(ctx context.Context, id types.SlobID, update IndexUpdate) error {
	return m.index.Update(ctx, id, update)
}

// run 追踪一次 Mutate 调用在状态机中的位置
type run struct {
	m       *Manager
	id      types.SlobID
	attempt int
	state   State
}

func (r *run) to(next State, err error) {
	t := Transition{ID: r.id, Attempt: r.attempt, From: r.state, To: next, Err: err}
	r.state = next
	if ce := r.m.log.Check(zap.DebugLevel, "slob state transition"); ce != nil {
		ce.Write(
			zap.Stringer("slob_id", r.id),
			zap.Int("attempt", t.Attempt),
			zap.Stringer("from", t.From),
			zap.Stringer("to", t.To),
			zap.Error(err),
		)
	}
	if r.m.observer != nil {
		r.m.observer(t)
	}
}

// Mutate 驱动一次变更：CheckAccess -> (BeginTransaction ... Commit)* -> RunPostMutateHook。
//
// 返回的错误只有两类：*AccessDeniedError，或 retryhelper.PermanentFailure
// (内部重试对调用方不可见)。
func (m *Manager) Mutate(ctx context.Context, caller types.Caller, id types.SlobID, delta Delta) (MutateResult, error) {
	r := &run{m: m, id: id}

	if err := id.Validate(); err != nil {
		r.to(StateFailed, err)
		return MutateResult{}, retryhelper.Permanent(fmt.Errorf("%w: %w", ErrInvalidMutation, err))
	}

	// 1. CheckAccess (只做一次，重试时不再重复)
	r.to(StateCheckAccess, nil)
	allowed, err := m.access.Check(ctx, caller, id)
	if err != nil {
		err = retryhelper.Permanent(fmt.Errorf("access check failed: %w", err))
		r.to(StateFailed, err)
		return MutateResult{}, err
	}
	if !allowed {
		err := &AccessDeniedError{Caller: caller, ID: id}
		r.to(StateAccessDenied, err)
		return MutateResult{}, err
	}

	// 2-5. 整个事务作为一个单元重试
	var result MutateResult
	err = m.retry.Run(ctx, func(ctx context.Context, attempt int) error {
		r.attempt = attempt
		res, err := m.attempt(ctx, r, caller, delta)
		if err != nil {
			if retryhelper.IsRetryable(err) {
				r.to(StateRetry, err)
			}
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		r.to(StateFailed, err)
		return MutateResult{}, err
	}

	// 6. 提交之后：失败只上报，不回滚
	m.runPostMutate(ctx, r, result)
	r.to(StateDone, nil)
	return result, nil
}

// attempt 执行一次完整的事务尝试。返回的错误已经分类 (或未分类，由 Helper 按永久处理)。
func (m *Manager) attempt(ctx context.Context, r *run, caller types.Caller, delta Delta) (_ MutateResult, err error) {
	r.to(StateBeginTransaction, nil)
	tx, err := m.store.Begin(ctx, r.id)
	if err != nil {
		return MutateResult{}, classifyContext(ctx, fmt.Errorf("begin transaction: %w", err))
	}
	// 作用域内的事务：任何退出路径 (错误、取消、panic) 都会中止。
	// 提交成功之后 Rollback 是空操作。
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, ErrTransactionClosed) {
			m.log.Warn("rollback failed", zap.Stringer("slob_id", r.id), zap.Error(rbErr))
			if err != nil {
				err = multierr.Append(err, rbErr)
			}
		}
	}()

	// 3. ApplyMutation
	r.to(StateApplyMutation, nil)
	current, err := tx.Load(ctx)
	if err != nil {
		return MutateResult{}, classifyContext(ctx, fmt.Errorf("load %s: %w", r.id, err))
	}
	state, err := m.model.Load(current.Data)
	if err != nil {
		return MutateResult{}, retryhelper.Permanent(fmt.Errorf("decode %s@%d: %w", r.id, current.Version, err))
	}
	applied, err := m.model.Apply(ctx, state, delta)
	if err != nil {
		return MutateResult{}, classifyModel(fmt.Errorf("%w: %w", ErrInvalidMutation, err))
	}
	if applied.State == nil {
		return MutateResult{}, retryhelper.Permanent(fmt.Errorf("%w: model returned no state", ErrInvalidMutation))
	}
	data, err := applied.State.Snapshot()
	if err != nil {
		return MutateResult{}, retryhelper.Permanent(fmt.Errorf("encode snapshot: %w", err))
	}

	version := current.Version + 1
	if err := tx.Stage(Mutation{
		Version:  version,
		Snapshot: data,
		Delta:    delta,
		Author:   caller.ID,
		Meta: map[string]any{
			"attempt":        r.attempt,
			"index_relevant": applied.IndexData != nil,
		},
	}); err != nil {
		return MutateResult{}, retryhelper.Permanent(fmt.Errorf("stage mutation: %w", err))
	}

	// 4. RunPreCommitHook
	r.to(StateRunPreCommitHook, nil)
	if err := m.runPreCommit(ctx, tx, r.id, version, applied.State); err != nil {
		return MutateResult{}, classifyContext(ctx, fmt.Errorf("pre-commit hook: %w", err))
	}

	// 提交前被取消：放弃事务，跳过 post-mutate
	if err := ctx.Err(); err != nil {
		return MutateResult{}, retryhelper.Permanent(err)
	}

	// 5. Commit
	r.to(StateCommit, nil)
	if err := tx.Commit(ctx); err != nil {
		return MutateResult{}, classifyContext(ctx, fmt.Errorf("commit %s@%d: %w", r.id, version, err))
	}

	return MutateResult{Version: version, IndexData: applied.IndexData}, nil
}

func (m *Manager) runPreCommit(ctx context.Context, tx Transaction, id types.SlobID, version int64, state ReadableSlob) (err error) {
	defer func() {
		if err != nil && !retryhelper.IsRetryable(err) {
			err = retryhelper.Permanent(err)
		}
	}()
	defer recoverHook(m.log, "pre-commit hook", &err)
	return m.preCommit.Run(ctx, tx, id, version, state)
}

func (m *Manager) runPostMutate(ctx context.Context, r *run, result MutateResult) {
	r.to(StateRunPostMutateHook, nil)

	// 变更已持久化，调用方的取消不应打断索引推送
	err := func() (err error) {
		defer recoverHook(m.log, "post-mutate hook", &err)
		return m.postMutate.Run(context.WithoutCancel(ctx), r.id, result)
	}()
	if err == nil {
		return
	}

	m.log.Error("post-mutate hook failed; mutation remains committed",
		zap.Stringer("slob_id", r.id),
		zap.Int64("version", result.Version),
		zap.Error(err),
	)
	if m.onPostErr != nil {
		m.onPostErr(r.id, result.Version, err)
	}
}

// classifyContext 把取消/超时归为永久故障，其他保持原分类
func classifyContext(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retryhelper.Permanent(err)
	}
	return err
}

// classifyModel 尊重模型显式声明的可重试错误，其余一律永久
func classifyModel(err error) error {
	if retryhelper.IsRetryable(err) {
		return err
	}
	return retryhelper.Permanent(err)
}
