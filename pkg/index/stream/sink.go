package stream

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"slobstore/pkg/index"
	"slobstore/pkg/slob"
	"slobstore/pkg/types"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultMaxLen 是 stream 的近似最大长度
const DefaultMaxLen = 10000

// Sink 把索引更新发布到 Redis Stream，由下游的索引服务消费
type Sink struct {
	client *redis.Client
	stream string
	maxLen int64
	log    *zap.Logger
}

var _ slob.IndexManager = (*Sink)(nil)

type Config struct {
	RedisURL string // redis://<user>:<password>@<host>:<port>/<db>
	Kind     string
	MaxLen   int64
}

func NewSink(cfg Config, log *zap.Logger) (*Sink, error) {
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
	return NewSinkWithClient(client, cfg.Kind, cfg.MaxLen, log), nil
}

func NewSinkWithClient(client *redis.Client, kind string, maxLen int64, log *zap.Logger) *Sink {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{client: client, stream: StreamName(kind), maxLen: maxLen, log: log}
}

// StreamName 返回某个 kind 的 stream key
func StreamName(kind string) string {
	return "slob:index:" + kind
}

func (s *Sink) Update(ctx context.Context, id types.SlobID, u slob.IndexUpdate) error {
	entryID, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":      id.String(),
			"version": u.Version,
			"data":    u.Data,
			"cursor":  u.Cursor,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s failed: %w", s.stream, err)
	}
	s.log.Debug("index update published", zap.String("stream", s.stream), zap.String("entry", entryID))
	return nil
}

// Latest 返回最近的 n 条更新，新的在前
func (s *Sink) Latest(ctx context.Context, n int64) ([]index.Document, error) {
	msgs, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s failed: %w", s.stream, err)
	}
	docs := make([]index.Document, 0, len(msgs))
	for _, m := range msgs {
		docs = append(docs, decode(m))
	}
	return docs, nil
}

func (s *Sink) Close() error {
	return s.client.Close()
}

func decode(m redis.XMessage) index.Document {
	str := func(k string) string {
		v, _ := m.Values[k].(string)
		return v
	}
	version, _ := strconv.ParseInt(str("version"), 10, 64)

	doc := index.Document{
		ID:      types.SlobID(str("id")),
		Version: version,
		Data:    str("data"),
		Cursor:  str("cursor"),
	}
	// entry ID 的前半部分是毫秒时间戳
	if ms, _, ok := strings.Cut(m.ID, "-"); ok {
		if v, err := strconv.ParseInt(ms, 10, 64); err == nil {
			doc.UpdatedAt = time.UnixMilli(v).UTC()
		}
	}
	return doc
}
