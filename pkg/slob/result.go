package slob

// MutateResult 是一次成功变更对外可见的结果
type MutateResult struct {
	// Version 是提交后的版本号
	Version int64

	// IndexData 只有在变更与索引相关时才存在
	IndexData *string
}

// HasIndexData reports whether the mutation carries an index payload.
func (r MutateResult) HasIndexData() bool { return r.IndexData != nil }
