package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path"
	"strings"

	"labsight-go/internal/model"
	"labsight-go/pkg/log"
	"labsight-go/pkg/storage"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrNoFiles 表示请求中没有任何文件。
var ErrNoFiles = errors.New("no files provided")

// FileError 描述单个文件未通过校验的原因。
type FileError struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// UploadValidationError 汇总所有未通过校验的文件，此时不会上传任何文件。
type UploadValidationError struct {
	Files []FileError
}

func (e *UploadValidationError) Error() string {
	msgs := make([]string, 0, len(e.Files))
	for _, f := range e.Files {
		msgs = append(msgs, f.Error)
	}
	return strings.Join(msgs, "; ")
}

// UploadService 接口定义了化验单图片上传的业务操作。
type UploadService interface {
	// Upload 校验并上传所有文件，返回与输入顺序一致的图片地址。
	Upload(ctx context.Context, files []*multipart.FileHeader) ([]model.ImageRef, error)
}

type uploadService struct {
	store        storage.ImageStore
	maxSizeBytes int64
}

// NewUploadService 创建一个新的 UploadService 实例。store 为 nil 表示存储未配置。
func NewUploadService(store storage.ImageStore, maxSizeBytes int64) UploadService {
	if maxSizeBytes <= 0 {
		maxSizeBytes = 10 * 1024 * 1024
	}
	return &uploadService{store: store, maxSizeBytes: maxSizeBytes}
}

func (s *uploadService) Upload(ctx context.Context, files []*multipart.FileHeader) ([]model.ImageRef, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if s.store == nil {
		return nil, storage.ErrNotConfigured
	}

	// 1. 校验全部文件
	contentTypes := make([]string, len(files))
	var invalid []FileError
	for i, fh := range files {
		ct, err := s.validate(fh)
		if err != nil {
			invalid = append(invalid, FileError{Filename: fh.Filename, Error: err.Error()})
			continue
		}
		contentTypes[i] = ct
	}
	if len(invalid) > 0 {
		log.Warnf("[UploadService] %d 个文件未通过校验", len(invalid))
		return nil, &UploadValidationError{Files: invalid}
	}

	// 2. 并发上传
	results := make([]model.ImageRef, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, fh := range files {
		i, fh := i, fh
		g.Go(func() error {
			f, err := fh.Open()
			if err != nil {
				return fmt.Errorf("open %s: %w", fh.Filename, err)
			}
			defer f.Close()

			objectName := objectKey(fh.Filename)
			url, err := s.store.PutImage(gctx, objectName, f, fh.Size, contentTypes[i])
			if err != nil {
				return fmt.Errorf("upload failed for %s: %w", fh.Filename, err)
			}
			results[i] = model.ImageRef{URL: url, Filename: fh.Filename}
			log.Infof("[UploadService] 文件 %s 上传成功, Object: %s", fh.Filename, objectName)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("[UploadService] 上传失败", err)
		return nil, err
	}
	return results, nil
}

// validate 检查声明的类型、大小和实际内容，返回用于存储的 Content-Type。
func (s *uploadService) validate(fh *multipart.FileHeader) (string, error) {
	declared := fh.Header.Get("Content-Type")
	if !strings.HasPrefix(declared, "image/") {
		return "", fmt.Errorf("invalid file type: %s", fh.Filename)
	}
	if fh.Size > s.maxSizeBytes {
		return "", fmt.Errorf("file too large: %s", fh.Filename)
	}

	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("unreadable file: %s", fh.Filename)
	}
	defer f.Close()

	detected, err := mimetype.DetectReader(io.LimitReader(f, 3072))
	if err != nil || !strings.HasPrefix(detected.String(), "image/") {
		return "", fmt.Errorf("invalid file type: %s", fh.Filename)
	}
	return detected.String(), nil
}

func objectKey(filename string) string {
	return "reports/" + uuid.NewString() + strings.ToLower(path.Ext(filename))
}
