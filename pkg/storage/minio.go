// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"labsight-go/internal/config"
	"labsight-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotConfigured 表示对象存储的凭证未配置。
var ErrNotConfigured = errors.New("storage credentials not configured")

// ImageStore 保存上传的化验单图片，并返回可被模型服务拉取的地址。
type ImageStore interface {
	PutImage(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) (string, error)
}

// MinioStore 是基于 MinIO 的 ImageStore 实现。
type MinioStore struct {
	client *minio.Client
	cfg    config.MinIOConfig
}

// NewMinioStore 初始化 MinIO 客户端。凭证缺失时返回 ErrNotConfigured。
func NewMinioStore(cfg config.MinIOConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, ErrNotConfigured
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")
	return &MinioStore{client: client, cfg: cfg}, nil
}

// EnsureBucket 检查存储桶是否存在，如果不存在则创建。
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	bucketName := s.cfg.BucketName
	exists, err := s.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if exists {
		log.Infof("存储桶 '%s' 已存在", bucketName)
		return nil
	}
	log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
	if err := s.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
	}
	log.Infof("存储桶 '%s' 创建成功", bucketName)
	return nil
}

// PutImage 上传图片并返回访问地址。
func (s *MinioStore) PutImage(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.cfg.BucketName, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("上传对象 %s 失败: %w", objectName, err)
	}
	return s.ObjectURL(ctx, objectName)
}

// ObjectURL 配置了 public_base_url 时返回公开地址，否则返回预签名地址。
func (s *MinioStore) ObjectURL(ctx context.Context, objectName string) (string, error) {
	if s.cfg.PublicBaseURL != "" {
		return PublicURL(s.cfg.PublicBaseURL, s.cfg.BucketName, objectName), nil
	}
	expiry := time.Duration(s.cfg.PresignExpiry) * time.Hour
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	presignedURL, err := s.client.PresignedGetObject(ctx, s.cfg.BucketName, objectName, expiry, url.Values{})
	if err != nil {
		log.Errorf("Error generating presigned URL: %s", err)
		return "", err
	}
	return presignedURL.String(), nil
}

// PublicURL 拼接 base/bucket/object。
func PublicURL(base, bucket, objectName string) string {
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + strings.TrimLeft(objectName, "/")
}
