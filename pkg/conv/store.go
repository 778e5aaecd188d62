package conv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slobstore/pkg/meta"
	"slobstore/pkg/retryhelper"
	"slobstore/pkg/slob"
	"slobstore/pkg/types"
	"slobstore/pkg/wave"
	"slobstore/pkg/wavemanager"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// RootEntityKind 是会话 wavelet 在存储中的 kind，已有数据依赖这个值，不能修改
const RootEntityKind = "Wavelet"

// Options 是 NewStore 的依赖
type Options struct {
	DB *meta.DB

	// Kind 为空时使用 RootEntityKind
	Kind string

	// Index 是外部索引，nil 表示不推送
	Index slob.IndexManager

	Retry retryhelper.Policy

	// PermissionTTL 是进程内权限缓存的过期时间
	PermissionTTL time.Duration

	// RedisURL 非空时用 Redis 共享权限缓存，代替进程内缓存
	RedisURL string

	Logger   *zap.Logger
	Observer slob.Observer

	OnPostMutateError func(id types.SlobID, version int64, err error)
}

// Store 是组装完成的会话存储
type Store struct {
	Manager  *slob.Manager
	Wavelets *wavemanager.Manager
	Index    *wavemanager.WaveIndex
	Data     *meta.Store

	permissions PermissionSource
	closers     []func() error
}

func NewStore(opts Options) (*Store, error) {
	if opts.DB == nil {
		return nil, errors.New("conv: database is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	kind := opts.Kind
	if kind == "" {
		kind = RootEntityKind
	}

	s := &Store{}
	s.Data = meta.NewStore(opts.DB, kind, log.Named("meta"))
	s.Wavelets = wavemanager.NewManager(s.Data, log.Named("wavelets"))
	s.Index = wavemanager.NewWaveIndex(s.Data)

	// 1. 权限来源
	var invalidator Invalidator
	if opts.RedisURL != "" {
		rs, err := NewRedisPermissionSource(s.Wavelets, RedisConfig{RedisURL: opts.RedisURL, TTL: opts.PermissionTTL}, log.Named("permissions"))
		if err != nil {
			return nil, err
		}
		s.permissions, invalidator = rs, rs
		s.closers = append(s.closers, rs.Close)
	} else {
		pc := NewPermissionCache(s.Wavelets, opts.PermissionTTL)
		s.permissions, invalidator = pc, pc
	}

	// 2. 索引推送 API 先于 Manager 构造，再注入 Manager 和 hook
	post := slob.PostMutateHooks{NewInvalidatePermissionsHook(invalidator)}
	var dispatcher *slob.Dispatcher
	if opts.Index != nil {
		dispatcher = slob.NewDispatcher(opts.Index, log.Named("index"))
		post = append(post, NewIndexPostMutateHook(dispatcher, log.Named("index")))
	}

	cfg := slob.Config{
		Store:             s.Data,
		Model:             wave.Model{},
		Access:            NewAccessChecker(s.permissions, log.Named("access")),
		PreCommit:         NewIndexPreCommitHook(s.Index),
		PostMutate:        post,
		Retry:             retryhelper.New(opts.Retry, log.Named("retry")),
		Logger:            log.Named("slob"),
		Observer:          opts.Observer,
		OnPostMutateError: opts.OnPostMutateError,
	}
	// 避免把 nil *Dispatcher 包进非 nil 接口
	if dispatcher != nil {
		cfg.Index = dispatcher
	}

	m, err := slob.NewManager(cfg)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to build manager: %w", err)
	}
	s.Manager = m
	return s, nil
}

// Mutate 编码操作并提交一次变更
func (s *Store) Mutate(ctx context.Context, caller types.Caller, id types.SlobID, ops ...wave.Op) (slob.MutateResult, error) {
	delta, err := wave.NewDelta(ops...)
	if err != nil {
		return slob.MutateResult{}, retryhelper.Permanent(err)
	}
	return s.Manager.Mutate(ctx, caller, id, delta)
}

// CanAccess 判断 caller 当前是否可以修改 id
func (s *Store) CanAccess(ctx context.Context, caller types.Caller, id types.SlobID) (bool, error) {
	return NewAccessChecker(s.permissions, nil).Check(ctx, caller, id)
}

func (s *Store) Close() error {
	var err error
	for _, c := range s.closers {
		err = multierr.Append(err, c())
	}
	return err
}
