package conv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"slobstore/pkg/types"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPermissionSource 是一个装饰器，用 Redis 在多个进程之间共享权限缓存
type RedisPermissionSource struct {
	backend PermissionSource // 被装饰的权限来源 (wavemanager.Manager)
	client  *redis.Client
	ttl     time.Duration
	log     *zap.Logger
}

type RedisConfig struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间
}

var (
	_ PermissionSource = (*RedisPermissionSource)(nil)
	_ Invalidator      = (*RedisPermissionSource)(nil)
)

func NewRedisPermissionSource(backend PermissionSource, cfg RedisConfig, log *zap.Logger) (*RedisPermissionSource, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Fail-fast 连接检查
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisPermissionSourceWithClient(backend, client, cfg.TTL, log), nil
}

// NewRedisPermissionSourceWithClient 使用外部创建的客户端，不做连接检查
// ttl <= 0 时只读不写：Redis 里已有的条目仍然会被使用和失效，但不会回填。
func NewRedisPermissionSourceWithClient(backend PermissionSource, client *redis.Client, ttl time.Duration, log *zap.Logger) *RedisPermissionSource {
	if log == nil {
		log = zap.NewNop()
	}
	if ttl <= 0 {
		log.Warn("permission cache ttl is not positive, redis cache will not be filled", zap.Duration("ttl", ttl))
	}
	return &RedisPermissionSource{backend: backend, client: client, ttl: ttl, log: log}
}

// cacheKey 生成 Redis Key，添加前缀防止冲突
func (s *RedisPermissionSource) cacheKey(id types.SlobID) string {
	return "slob:perm:" + id.String()
}

// genKey 是失效计数器，每次 Invalidate 递增
func (s *RedisPermissionSource) genKey(id types.SlobID) string {
	return "slob:perm:gen:" + id.String()
}

// genTTL 失效计数器的过期时间，每次递增都会刷新；一次回填所用时间必须远小于它
const genTTL = 24 * time.Hour

// errStaleFill 回填期间发生了失效
var errStaleFill = errors.New("permissions changed during read")

func (s *RedisPermissionSource) Participants(ctx context.Context, id types.SlobID) ([]string, bool, error) {
	key, genKey := s.cacheKey(id), s.genKey(id)

	// 1. 查 Redis，同时取出当前的失效计数
	var gen string
	vals, err := s.client.MGet(ctx, key, genKey).Result()
	if err == nil {
		gen, _ = vals[1].(string)
		if raw, ok := vals[0].(string); ok {
			var participants []string
			if jerr := json.Unmarshal([]byte(raw), &participants); jerr == nil {
				return participants, true, nil
			}
			s.log.Warn("corrupt permission cache entry", zap.String("key", key))
		}
	} else {
		// 缓存故障降级：Redis 不可用时直接查底层
		s.log.Warn("redis unavailable, reading permissions from backend", zap.Error(err))
	}

	// 2. 查底层
	participants, exists, err := s.backend.Participants(ctx, id)
	if err != nil || !exists {
		return participants, exists, err
	}

	// 3. 回填：失效计数在读取期间变化过则放弃
	if s.ttl > 0 {
		if err := s.fill(ctx, id, gen, participants); err != nil {
			s.log.Debug("permission cache fill skipped", zap.String("key", key), zap.Error(err))
		}
	}
	return participants, true, nil
}

func (s *RedisPermissionSource) fill(ctx context.Context, id types.SlobID, gen string, participants []string) error {
	data, err := json.Marshal(participants)
	if err != nil {
		return err
	}
	key, genKey := s.cacheKey(id), s.genKey(id)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		// WATCH 之后 genKey 被修改时 EXEC 失败 (redis.TxFailedErr)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, genKey)
}

func (s *RedisPermissionSource) Invalidate(ctx context.Context, id types.SlobID) error {
	genKey := s.genKey(id)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, genTTL)
		pipe.Del(ctx, s.cacheKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate permissions for %s: %w", id, err)
	}
	return nil
}

func (s *RedisPermissionSource) Close() error {
	return s.client.Close()
}
