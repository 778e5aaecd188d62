package slob

import "slobstore/pkg/types"

// State 是一次变更在状态机中的位置
//
//	CheckAccess -> BeginTransaction -> ApplyMutation -> RunPreCommitHook -> Commit -> RunPostMutateHook -> Done
//	                    ^                                                      |
//	                    +----------------------- Retry <-----------------------+  (RetryableFailure)
//
// 终止状态：Done、AccessDenied、Failed
type State int

const (
	StateNew State = iota
	StateCheckAccess
	StateBeginTransaction
	StateApplyMutation
	StateRunPreCommitHook
	StateCommit
	StateRetry
	StateRunPostMutateHook
	StateDone
	StateAccessDenied
	StateFailed
)

var stateNames = [...]string{
	StateNew:               "New",
	StateCheckAccess:       "CheckAccess",
	StateBeginTransaction:  "BeginTransaction",
	StateApplyMutation:     "ApplyMutation",
	StateRunPreCommitHook:  "RunPreCommitHook",
	StateCommit:            "Commit",
	StateRetry:             "Retry",
	StateRunPostMutateHook: "RunPostMutateHook",
	StateDone:              "Done",
	StateAccessDenied:      "AccessDenied",
	StateFailed:            "Failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAccessDenied || s == StateFailed
}

// Transition 记录一次状态变化。Attempt 在 CheckAccess 阶段为 0。
type Transition struct {
	ID      types.SlobID
	Attempt int
	From    State
	To      State

	// Err 是导致进入 Retry / Failed / AccessDenied 的错误
	Err error
}

// Observer receives every transition of every mutation. It is called
// synchronously and must be safe for concurrent use.
type Observer func(Transition)
