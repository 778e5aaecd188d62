package slob

import (
	"context"
	"errors"
	"testing"

	"slobstore/pkg/types"

	"github.com/stretchr/testify/assert"
)

type funcPostMutate func(ctx context.Context, id types.SlobID, result MutateResult) error

func (f funcPostMutate) Run(ctx context.Context, id types.SlobID, result MutateResult) error {
	return f(ctx, id, result)
}

func TestPostMutateHooks_RunsAllAndCombinesErrors(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	calls := 0
	fail := func(err error) PostMutateHook {
		return funcPostMutate(func(context.Context, types.SlobID, MutateResult) error {
			calls++
			return err
		})
	}

	hooks := PostMutateHooks{fail(errA), fail(nil), fail(errB)}
	err := hooks.Run(context.Background(), "W1", MutateResult{Version: 1})

	assert.Equal(t, 3, calls, "a failing hook does not stop the rest")
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)

	assert.NoError(t, PostMutateHooks{fail(nil)}.Run(context.Background(), "W1", MutateResult{}))
}

type funcPreCommit func() error

func (f funcPreCommit) Run(context.Context, Transaction, types.SlobID, int64, ReadableSlob) error {
	return f()
}

func TestPreCommitHooks_StopsAtFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	secondCalled := false
	hooks := PreCommitHooks{
		funcPreCommit(func() error { return boom }),
		funcPreCommit(func() error { secondCalled = true; return nil }),
	}

	err := hooks.Run(context.Background(), nil, "W1", 1, nil)
	assert.ErrorIs(t, err, boom)
	assert.False(t, secondCalled)
}
