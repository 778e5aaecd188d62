// Package slob implements the mutation pipeline of the versioned shared-object
// ("slob") store.
//
// A mutation flows in one direction:
//
//	access check -> transaction -> apply -> pre-commit hook -> commit -> post-mutate hook
//
// The whole span from BeginTransaction through Commit is retried as a unit on
// a retryable failure. Everything after Commit is isolated: a failing
// post-mutate hook never unwinds a committed mutation.
//
// The package only defines contracts for its collaborators ([Store],
// [Model], [AccessChecker], [IndexManager]). Concrete implementations live
// in pkg/meta, pkg/wave, pkg/conv and pkg/index.
package slob
