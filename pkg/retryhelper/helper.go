// Package retryhelper wraps a unit of work in a bounded retry loop that
// distinguishes transient failures from permanent ones.
package retryhelper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Policy 描述重试的上限和退避参数
type Policy struct {
	// MaxAttempts 是总尝试次数 (包括第一次)，而不是“重试”次数
	MaxAttempts int

	// MinBackoff 是第一次重试前的等待时间，之后指数增长
	MinBackoff time.Duration

	// MaxBackoff 是单次等待的上限
	MaxBackoff time.Duration

	// JitterPercent 为每次等待增加 ±N% 的随机抖动，0 表示不抖动
	JitterPercent uint64
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   5,
		MinBackoff:    20 * time.Millisecond,
		MaxBackoff:    time.Second,
		JitterPercent: 10,
	}
}

// normalize 修正非法值 (go-retry 在 base <= 0 时会 panic)
func (p Policy) normalize() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.MinBackoff <= 0 {
		p.MinBackoff = time.Millisecond
	}
	if p.MaxBackoff < p.MinBackoff {
		p.MaxBackoff = p.MinBackoff
	}
	if p.JitterPercent > 100 {
		p.JitterPercent = 100
	}
	return p
}

func (p Policy) backoff() retry.Backoff {
	b := retry.NewExponential(p.MinBackoff)
	b = retry.WithCappedDuration(p.MaxBackoff, b)
	if p.JitterPercent > 0 {
		b = retry.WithJitterPercent(p.JitterPercent, b)
	}
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}

// Helper 是无状态的，可以被并发的请求共享
type Helper struct {
	policy Policy
	log    *zap.Logger
}

func New(policy Policy, log *zap.Logger) *Helper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Helper{policy: policy.normalize(), log: log}
}

func (h *Helper) Policy() Policy { return h.policy }

// Run 执行 fn，直到成功、遇到永久故障，或者重试次数用尽。
//
// fn 返回 RetryableFailure 时整个工作单元会在退避之后重新执行；
// 返回 PermanentFailure 或未分类的错误时立即终止。
// Run 的返回值要么是 nil，要么是 PermanentFailure。
func (h *Helper) Run(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempt := 0
	err := retry.Do(ctx, h.policy.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if Classify(err) == ClassRetryable {
			h.log.Warn("attempt failed, will retry",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", h.policy.MaxAttempts),
				zap.Error(err),
			)
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}

	switch {
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return Permanent(err)
	case Classify(err) == ClassRetryable:
		return Permanent(fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err))
	default:
		return Permanent(err)
	}
}
