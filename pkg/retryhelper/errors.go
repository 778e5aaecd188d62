package retryhelper

import (
	"errors"
	"fmt"
)

// ErrRetriesExhausted 表示重试次数用尽，瞬时故障升级为永久故障
var ErrRetriesExhausted = errors.New("retries exhausted")

// Class 是失败的分类结果
type Class int

const (
	// ClassNone 表示错误没有被显式分类
	ClassNone Class = iota
	ClassRetryable
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassPermanent:
		return "permanent"
	default:
		return "unclassified"
	}
}

// RetryableFailure 表示瞬时故障 (写冲突、锁超时、网络抖动)
// 整个工作单元可以从头安全地重做
type RetryableFailure struct {
	Err error
}

func (e *RetryableFailure) Error() string {
	return fmt.Sprintf("retryable failure: %v", e.Err)
}

func (e *RetryableFailure) Unwrap() error { return e.Err }

// PermanentFailure 表示非瞬时故障，必须原样交给调用方
type PermanentFailure struct {
	Err error
}

func (e *PermanentFailure) Error() string {
	return fmt.Sprintf("permanent failure: %v", e.Err)
}

func (e *PermanentFailure) Unwrap() error { return e.Err }

// Retryable 将 err 标记为可重试。已经分类过的错误保持原分类。
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	if Classify(err) != ClassNone {
		return err
	}
	return &RetryableFailure{Err: err}
}

// Permanent 将 err 标记为永久故障，会覆盖内层的 Retryable 分类
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	if Classify(err) == ClassPermanent {
		return err
	}
	return &PermanentFailure{Err: err}
}

// Classify 沿着 Unwrap 链查找，最外层的分类生效
// 例如 Permanent(Retryable(x)) 是永久故障。
// 对于 errors.Join / multierr 组合的错误，任何一个分支是永久故障则整体永久。
func Classify(err error) Class {
	for err != nil {
		switch e := err.(type) {
		case *PermanentFailure:
			return ClassPermanent
		case *RetryableFailure:
			return ClassRetryable
		case interface{ Unwrap() []error }:
			class := ClassNone
			for _, inner := range e.Unwrap() {
				switch Classify(inner) {
				case ClassPermanent:
					return ClassPermanent
				case ClassRetryable:
					class = ClassRetryable
				}
			}
			return class
		}
		err = errors.Unwrap(err)
	}
	return ClassNone
}

func IsRetryable(err error) bool { return Classify(err) == ClassRetryable }

func IsPermanent(err error) bool { return Classify(err) == ClassPermanent }
