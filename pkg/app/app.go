// pkg/app/app.go
package app

import (
	"context"
	"fmt"
	"sync"

	"slobstore/pkg/conv"
	"slobstore/pkg/index"
	"slobstore/pkg/index/s3"
	"slobstore/pkg/index/stream"
	"slobstore/pkg/meta"
	"slobstore/pkg/retryhelper"
	"slobstore/pkg/slob"
	"slobstore/pkg/types"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有“单例”服务
type App struct {
	Logger *zap.Logger
	DB     *meta.DB
	Conv   *conv.Store

	// Sink 是未经包装的外部索引，nil 表示 index.type=none
	Sink slob.IndexManager

	closers []func() error

	mu           sync.Mutex
	indexFailure map[types.SlobID]int64 // 提交之后索引推送失败的版本，取出即删除
}

// NewApp 是工厂函数，负责组装这一台机器
// 它遵循 Viper 的配置，但不知道具体的 CLI 命令
func NewApp(ctx context.Context) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.Close())
		}
	}()

	// 1. 日志
	a.Logger, err = NewLogger(viper.GetBool("log.verbose"))
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	a.closers = append(a.closers, func() error { _ = a.Logger.Sync(); return nil })

	// 2. 元数据库
	a.DB, err = initDB(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}
	a.closers = append(a.closers, a.DB.Close)

	// 3. 外部索引
	kind := viper.GetString("store.kind")
	a.Sink, err = a.initSink(ctx, kind)
	if err != nil {
		return nil, err
	}
	var target slob.IndexManager
	if a.Sink != nil {
		target = a.Sink
		if viper.GetBool("index.ordered") {
			target = index.NewOrderedWithCapacity(a.Sink, viper.GetInt("index.ordered_capacity"), a.Logger.Named("index"))
		}
	}

	// 4. 会话存储
	a.Conv, err = conv.NewStore(conv.Options{
		DB:            a.DB,
		Kind:          kind,
		Index:         target,
		Retry:         RetryPolicy(),
		PermissionTTL: viper.GetDuration("permissions.ttl"),
		RedisURL:      viper.GetString("permissions.redis_url"),
		Logger:        a.Logger,
		OnPostMutateError: func(id types.SlobID, version int64, _ error) {
			// 已经由 Manager 记录，这里只做提示
			a.Logger.Warn("external index is behind", zap.Stringer("slob_id", id), zap.Int64("version", version))
			a.recordIndexFailure(id, version)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}
	a.closers = append(a.closers, a.Conv.Close)

	return a, nil
}

func (a *App) recordIndexFailure(id types.SlobID, version int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.indexFailure == nil {
		a.indexFailure = make(map[types.SlobID]int64)
	}
	a.indexFailure[id] = version
}

// TakeIndexFailure 报告 id 在 version 提交之后的索引推送是否失败，并清除该记录
func (a *App) TakeIndexFailure(id types.SlobID, version int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.indexFailure[id]
	if ok {
		delete(a.indexFailure, id)
	}
	return ok && v == version
}

// Close 逆序释放资源
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}

// NewLogger verbose 时使用开发模式 (debug 级别，可读格式)
func NewLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// RetryPolicy 从配置读取重试策略
func RetryPolicy() retryhelper.Policy {
	return retryhelper.Policy{
		MaxAttempts:   viper.GetInt("retry.max_attempts"),
		MinBackoff:    viper.GetDuration("retry.min_backoff"),
		MaxBackoff:    viper.GetDuration("retry.max_backoff"),
		JitterPercent: viper.GetUint64("retry.jitter_percent"),
	}
}

func initDB(ctx context.Context) (*meta.DB, error) {
	return meta.NewDB(ctx, meta.Config{
		Driver:   viper.GetString("database.driver"),
		Path:     viper.GetString("database.path"),
		Host:     viper.GetString("database.host"),
		Port:     viper.GetInt("database.port"),
		User:     viper.GetString("database.user"),
		Password: viper.GetString("database.password"),
		DBName:   viper.GetString("database.dbname"),
		SSLMode:  viper.GetString("database.sslmode"),
	})
}

// initSink 根据 index.type 创建外部索引
func (a *App) initSink(ctx context.Context, kind string) (slob.IndexManager, error) {
	log := a.Logger.Named("index")
	switch t := viper.GetString("index.type"); t {
	case "file":
		path := viper.GetString("index.path")
		if path == "" {
			return nil, fmt.Errorf("index.path is required for file index")
		}
		return index.NewFileSink(path)

	case "memory":
		return index.NewMemorySink(), nil

	case "s3":
		cfg := s3.Config{
			Endpoint:        viper.GetString("index.s3.endpoint"),
			Region:          viper.GetString("index.s3.region"),
			Bucket:          viper.GetString("index.s3.bucket"),
			AccessKeyID:     viper.GetString("index.s3.access_key_id"),
			SecretAccessKey: viper.GetString("index.s3.secret_access_key"),
			Prefix:          viper.GetString("index.s3.prefix"),
			Kind:            kind,
		}
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("s3 bucket is required")
		}
		return s3.NewSink(ctx, cfg, log)

	case "redis":
		url := viper.GetString("index.redis.url")
		if url == "" {
			return nil, fmt.Errorf("index.redis.url is required for redis index")
		}
		sink, err := stream.NewSink(stream.Config{
			RedisURL: url,
			Kind:     kind,
			MaxLen:   viper.GetInt64("index.redis.max_len"),
		}, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sink.Close)
		return sink, nil

	case "none", "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unsupported index type: %s", t)
	}
}
