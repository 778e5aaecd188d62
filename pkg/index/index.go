// pkg/index/index.go
package index

import (
	"time"

	"slobstore/pkg/slob"
	"slobstore/pkg/types"
)

// Document 是外部索引中的一条记录
type Document struct {
	ID types.SlobID `json:"id"`

	// Version 是索引数据对应的已提交版本
	Version int64 `json:"version"`

	// Data 是不透明的索引内容
	Data   string `json:"data"`
	Cursor string `json:"cursor,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewDocument 由一条 IndexUpdate 生成 Document
func NewDocument(id types.SlobID, u slob.IndexUpdate) Document {
	return Document{
		ID:        id,
		Version:   u.Version,
		Data:      u.Data,
		Cursor:    u.Cursor,
		UpdatedAt: time.Now().UTC(),
	}
}

// supersedes 判断 u 是否比已有的文档更新。Version 为 0 表示调用方不关心顺序。
func supersedes(existing Document, u slob.IndexUpdate) bool {
	return u.Version == 0 || u.Version > existing.Version
}
