package meta

import (
	"time"

	"gorm.io/datatypes"
)

// Object 存储每个 Slob 的当前版本和快照
// Kind 用来区分共用同一个数据库的不同 store (例如 "Wavelet")
type Object struct {
	Kind   string `gorm:"primaryKey;type:varchar(64)"`
	SlobID string `gorm:"primaryKey;type:varchar(255)"`

	// Version 用于乐观锁并发控制 (CAS)
	// 每次提交 +1，提交时比较旧版本，防止并发覆盖
	Version int64 `gorm:"not null"`

	Snapshot []byte

	UpdatedAt time.Time
}

func (Object) TableName() string {
	return "slob_objects"
}

// MutationRecord 是变更日志，每个已提交版本一行
type MutationRecord struct {
	Kind    string `gorm:"primaryKey;type:varchar(64)"`
	SlobID  string `gorm:"primaryKey;type:varchar(255)"`
	Version int64  `gorm:"primaryKey"`

	Author string `gorm:"index;type:varchar(255)"`
	Delta  []byte

	// Meta: 尝试次数、是否与索引相关等非结构化信息
	Meta datatypes.JSON

	CreatedAt time.Time
}

func (MutationRecord) TableName() string {
	return "slob_mutations"
}

// IndexRecord 是派生索引的一行，与 Object 在同一个 SQL 事务中写入
// 查询走 idx_slob_index_lookup (kind, field, value)
type IndexRecord struct {
	Kind   string `gorm:"primaryKey;type:varchar(64);index:idx_slob_index_lookup,priority:1"`
	SlobID string `gorm:"primaryKey;type:varchar(255)"`
	Field  string `gorm:"primaryKey;type:varchar(64);index:idx_slob_index_lookup,priority:2"`
	Value  string `gorm:"primaryKey;type:varchar(255);index:idx_slob_index_lookup,priority:3"`

	// Version 是写入这条索引时对象的版本，读者可以用它确认索引与数据一致
	Version int64 `gorm:"not null"`
}

func (IndexRecord) TableName() string {
	return "slob_index_entries"
}
