package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"

	"slobstore/pkg/index"
	"slobstore/pkg/slob"
	"slobstore/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("index document not found")

// Sink 把索引文档写成 S3 对象: {prefix}/{kind}/{id}.json
type Sink struct {
	client *s3.Client
	bucket string
	prefix string
	kind   string
	log    *zap.Logger
}

var _ slob.IndexManager = (*Sink)(nil)

// Config 用于初始化 Sink
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string

	// Prefix 是所有 Key 的公共前缀，可以为空
	Prefix string

	// Kind 区分共用一个桶的不同 store
	Kind string
}

// NewSink 初始化 S3 客户端
func NewSink(ctx context.Context, cfg Config, log *zap.Logger) (*Sink, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	// 1. 加载基础配置 (仅包含 Region 和 Credentials)
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	// 2. 创建 S3 客户端时，注入特定于 S3 的配置
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// 如果指定了 Endpoint (比如 MinIO 的 localhost:9000)，则覆盖默认值
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// MinIO 必须强制使用 Path Style
		o.UsePathStyle = true
	})

	// 3. 确保 Bucket 存在
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &cfg.Bucket}); err != nil {
		if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &cfg.Bucket}); err != nil {
			// 并发创建或没有权限，继续，由第一次写入暴露真正的问题
			log.Warn("failed to ensure bucket exists", zap.String("bucket", cfg.Bucket), zap.Error(err))
		}
	}

	return &Sink{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		kind:   cfg.Kind,
		log:    log,
	}, nil
}

// key 返回对象的 S3 Key
func (s *Sink) key(id types.SlobID) string {
	return path.Join(s.prefix, s.kind, id.String()+".json")
}

// Update 上传文档，覆盖同一个对象的旧文档
func (s *Sink) Update(ctx context.Context, id types.SlobID, u slob.IndexUpdate) error {
	data, err := json.Marshal(index.NewDocument(id, u))
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(id)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"slob-version": strconv.FormatInt(u.Version, 10),
		},
	})
	if err != nil {
		return fmt.Errorf("s3 put failed: %w", err)
	}
	s.log.Debug("index document uploaded", zap.String("key", s.key(id)), zap.Int64("version", u.Version))
	return nil
}

// Get 下载文档
func (s *Sink) Get(ctx context.Context, id types.SlobID) (index.Document, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		// 将 AWS 的 NoSuchKey 错误映射为我们自己的 ErrNotFound
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return index.Document{}, ErrNotFound
		}
		return index.Document{}, fmt.Errorf("s3 get failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return index.Document{}, err
	}
	var doc index.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return index.Document{}, fmt.Errorf("corrupted index document: %w", err)
	}
	return doc, nil
}
