package conv

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"slobstore/pkg/meta"
	"slobstore/pkg/retryhelper"
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

func setupTestDB(t *testing.T) *meta.DB {
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

	db := meta.NewWithConn(conn)
	require.NoError(t, db.AutoMigrate(meta.Models()...))
	return db
}

func setupTestStore(t *testing.T, index slob.IndexManager, mutate ...func(*Options)) *Store {
	t.Helper()
	opts := Options{
		DB:            setupTestDB(t),
		Index:         index,
		PermissionTTL: time.Minute,
		Retry: retryhelper.Policy{
			MaxAttempts: 20,
			MinBackoff:  time.Millisecond,
			MaxBackoff:  5 * time.Millisecond,
		},
		Logger: zaptest.NewLogger(t),
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	s, err := NewStore(opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// recordingIndex 是记录所有推送的外部索引，可以注入失败
type recordingIndex struct {
	mu      sync.Mutex
	ids     []types.SlobID
	updates []slob.IndexUpdate
	err     error
}

func (r *recordingIndex) Update(_ context.Context, id types.SlobID, u slob.IndexUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.ids = append(r.ids, id)
	r.updates = append(r.updates, u)
	return nil
}

func (r *recordingIndex) snapshot() []slob.IndexUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]slob.IndexUpdate(nil), r.updates...)
}

// staticSource 是固定内容的权限来源，统计调用次数
type staticSource struct {
	mu           sync.Mutex
	participants map[types.SlobID][]string
	calls        int
	err          error
}

func (s *staticSource) Participants(_ context.Context, id types.SlobID) ([]string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, false, s.err
	}
	p, ok := s.participants[id]
	return p, ok, nil
}

func (s *staticSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var (
	alice = types.Caller{ID: "alice@example.com"}
	bob   = types.Caller{ID: "bob@example.com"}
	eve   = types.Caller{ID: "eve@example.com"}
)
