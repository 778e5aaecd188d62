package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"slobstore/pkg/retryhelper"
	"slobstore/pkg/slob"
	"slobstore/pkg/types"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrConcurrentUpdate = errors.New("concurrent update detected (CAS failed)")
	ErrNotLoaded        = errors.New("transaction committed without reading current state")
	ErrNothingStaged    = errors.New("transaction committed without a staged mutation")
	ErrVersionSkew      = errors.New("staged version must be current version + 1")
)

// Store 是 slob.Store 基于 SQL 的实现
// 读取在事务外进行，所有写入在 Commit 时放进同一个 SQL 事务，
// 用 version 列做 Compare-And-Swap。
type Store struct {
	db   *DB
	kind string
	log  *zap.Logger
}

func NewStore(db *DB, kind string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, kind: kind, log: log}
}

func (s *Store) Kind() string { return s.kind }

// Begin 不占用数据库连接，真正的 SQL 事务只在 Commit 时短暂存在
func (s *Store) Begin(ctx context.Context, id types.SlobID) (slob.Transaction, error) {
	if err := id.Validate(); err != nil {
		return nil, retryhelper.Permanent(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, retryhelper.Permanent(err)
	}
	return &transaction{store: s, id: id}, nil
}

// Load 读取对象的当前已提交状态。对象不存在时返回零值 Snapshot。
func (s *Store) Load(ctx context.Context, id types.SlobID) (slob.Snapshot, error) {
	var obj Object
	err := s.db.GetConn().WithContext(ctx).
		Where("kind = ? AND slob_id = ?", s.kind, id.String()).
		First(&obj).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return slob.Snapshot{}, nil
	}
	if err != nil {
		return slob.Snapshot{}, s.classify(err)
	}
	return slob.Snapshot{Version: obj.Version, Data: obj.Snapshot}, nil
}

// History 按版本倒序返回变更日志
func (s *Store) History(ctx context.Context, id types.SlobID, limit int) ([]MutationRecord, error) {
	var records []MutationRecord
	err := s.db.GetConn().WithContext(ctx).
		Where("kind = ? AND slob_id = ?", s.kind, id.String()).
		Order("version DESC").
		Limit(limitOrAll(limit)).
		Find(&records).Error
	return records, err
}

// FindByIndex 查询派生索引，例如 ("participant", "alice@example.com")
func (s *Store) FindByIndex(ctx context.Context, field, value string, limit int) ([]IndexRecord, error) {
	var records []IndexRecord
	err := s.db.GetConn().WithContext(ctx).
		Where("kind = ? AND field = ? AND value = ?", s.kind, field, value).
		Order("slob_id").
		Limit(limitOrAll(limit)).
		Find(&records).Error
	return records, err
}

// IndexEntries 返回某个对象的全部索引行
func (s *Store) IndexEntries(ctx context.Context, id types.SlobID) ([]IndexRecord, error) {
	var records []IndexRecord
	err := s.db.GetConn().WithContext(ctx).
		Where("kind = ? AND slob_id = ?", s.kind, id.String()).
		Order("field, value").
		Find(&records).Error
	return records, err
}

// limitOrAll: gorm 中 Limit(-1) 表示不限制
func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// classify 把数据库错误映射到 retryhelper 的分类
func (s *Store) classify(err error) error {
	switch {
	case err == nil:
		return nil
	case retryhelper.Classify(err) != retryhelper.ClassNone:
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return retryhelper.Permanent(err)
	case errors.Is(err, ErrConcurrentUpdate), isTransient(err):
		return retryhelper.Retryable(err)
	default:
		return retryhelper.Permanent(err)
	}
}

// isTransient 识别锁冲突 / 序列化失败 (PG 40001, 40P01; sqlite busy/locked)
func isTransient(err error) bool {
	msg := err.Error()
	for _, s := range []string{
		"database is locked",
		"database table is locked",
		"SQLSTATE 40001",
		"SQLSTATE 40P01",
		"could not serialize access",
		"deadlock detected",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// isDuplicate 兼容性,处理不同数据库(PG与SQLite)的唯一约束错误
func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "SQLSTATE 23505")
}

// -----------------------------------------------------------------------------
// transaction
// -----------------------------------------------------------------------------

type transaction struct {
	store *Store
	id    types.SlobID

	base   slob.Snapshot
	loaded bool

	staged   *slob.Mutation
	entries  []IndexRecord
	indexSet bool

	closed bool
}

func (t *transaction) ID() types.SlobID { return t.id }

func (t *transaction) Load(ctx context.Context) (slob.Snapshot, error) {
	if t.closed {
		return slob.Snapshot{}, slob.ErrTransactionClosed
	}
	snap, err := t.store.Load(ctx, t.id)
	if err != nil {
		return slob.Snapshot{}, err
	}
	t.base = snap
	t.loaded = true
	return snap, nil
}

func (t *transaction) Stage(m slob.Mutation) error {
	if t.closed {
		return slob.ErrTransactionClosed
	}
	t.staged = &m
	return nil
}

func (t *transaction) PutIndex(entries ...slob.IndexEntry) error {
	if t.closed {
		return slob.ErrTransactionClosed
	}
	t.indexSet = true
	for _, e := range entries {
		// (field, value) 是主键的一部分，重复条目只保留一条
		if slices.ContainsFunc(t.entries, func(r IndexRecord) bool {
			return r.Field == e.Field && r.Value == e.Value
		}) {
			continue
		}
		t.entries = append(t.entries, IndexRecord{
			Kind:   t.store.kind,
			SlobID: t.id.String(),
			Field:  e.Field,
			Value:  e.Value,
		})
	}
	return nil
}

func (t *transaction) Rollback() error {
	t.closed = true
	t.staged = nil
	t.entries = nil
	return nil
}

// Commit 在一个 SQL 事务里完成：CAS 写对象、追加变更日志、替换索引
func (t *transaction) Commit(ctx context.Context) error {
	if t.closed {
		return slob.ErrTransactionClosed
	}
	t.closed = true

	switch {
	case !t.loaded:
		return retryhelper.Permanent(ErrNotLoaded)
	case t.staged == nil:
		return retryhelper.Permanent(ErrNothingStaged)
	case t.staged.Version != t.base.Version+1:
		return retryhelper.Permanent(fmt.Errorf("%w: base %d, staged %d", ErrVersionSkew, t.base.Version, t.staged.Version))
	}

	metaJSON, err := json.Marshal(t.staged.Meta)
	if err != nil {
		return retryhelper.Permanent(fmt.Errorf("failed to marshal mutation meta: %w", err))
	}

	now := time.Now()
	err = t.store.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := t.writeObject(tx, now); err != nil {
			return err
		}

		record := MutationRecord{
			Kind:      t.store.kind,
			SlobID:    t.id.String(),
			Version:   t.staged.Version,
			Author:    t.staged.Author,
			Delta:     t.staged.Delta,
			Meta:      datatypes.JSON(metaJSON),
			CreatedAt: now,
		}
		if err := tx.Create(&record).Error; err != nil {
			if isDuplicate(err) {
				return ErrConcurrentUpdate
			}
			return fmt.Errorf("failed to append mutation log: %w", err)
		}

		if t.indexSet {
			return t.replaceIndex(tx)
		}
		return nil
	})
	if err != nil {
		t.store.log.Debug("commit failed",
			zap.String("kind", t.store.kind),
			zap.Stringer("slob_id", t.id),
			zap.Int64("version", t.staged.Version),
			zap.Error(err),
		)
		return t.store.classify(err)
	}
	return nil
}

func (t *transaction) writeObject(tx *gorm.DB, now time.Time) error {
	// 场景 A: 第一次创建 (Create)
	if t.base.Version == 0 {
		obj := Object{
			Kind:      t.store.kind,
			SlobID:    t.id.String(),
			Version:   t.staged.Version,
			Snapshot:  t.staged.Snapshot,
			UpdatedAt: now,
		}
		// 如果已经存在 (有人抢先创建)，则视为冲突
		if err := tx.Create(&obj).Error; err != nil {
			if isDuplicate(err) {
				return ErrConcurrentUpdate
			}
			return fmt.Errorf("failed to create object: %w", err)
		}
		return nil
	}

	// 场景 B: 更新 (Update with CAS)
	// SQL: UPDATE slob_objects SET ... WHERE kind = ? AND slob_id = ? AND version = ?
	result := tx.Model(&Object{}).
		Where("kind = ? AND slob_id = ? AND version = ?", t.store.kind, t.id.String(), t.base.Version).
		Updates(map[string]any{
			"version":    t.staged.Version,
			"snapshot":   t.staged.Snapshot,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}

	// 关键检查：如果影响行数为 0，说明 version 不匹配（被人抢先改了）
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

func (t *transaction) replaceIndex(tx *gorm.DB) error {
	if err := tx.Where("kind = ? AND slob_id = ?", t.store.kind, t.id.String()).
		Delete(&IndexRecord{}).Error; err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}
	if len(t.entries) == 0 {
		return nil
	}
	for i := range t.entries {
		t.entries[i].Version = t.staged.Version
	}
	if err := tx.Create(&t.entries).Error; err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}
