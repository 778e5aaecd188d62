package meta

import (
	"context"
	"fmt"
	"testing"

	"slobstore/pkg/slob"
	"slobstore/pkg/types"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// -----------------------------------------------------------------------------
// 通用辅助函数 (Helpers)
// -----------------------------------------------------------------------------

// setupTestDB 构建隔离的内存数据库
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	db := NewWithConn(conn)
	require.NoError(t, db.AutoMigrate(Models()...))
	return db
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(setupTestDB(t), "Wavelet", zaptest.NewLogger(t))
}

// mustCommit 读取、暂存并提交一个新版本，失败直接终止测试
func mustCommit(t *testing.T, s *Store, id types.SlobID, data string, entries ...slob.IndexEntry) int64 {
	t.Helper()
	ctx := context.Background()

	tx, err := s.Begin(ctx, id)
	require.NoError(t, err)
	defer tx.Rollback()

	snap, err := tx.Load(ctx)
	require.NoError(t, err)

	version := snap.Version + 1
	require.NoError(t, tx.Stage(slob.Mutation{
		Version:  version,
		Snapshot: []byte(data),
		Delta:    slob.Delta(data),
		Author:   "alice@example.com",
		Meta:     map[string]any{"attempt": 1},
	}))
	if entries != nil {
		require.NoError(t, tx.PutIndex(entries...))
	}
	require.NoError(t, tx.Commit(ctx))
	return version
}
