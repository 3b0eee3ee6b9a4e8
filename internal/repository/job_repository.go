package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"labsight-go/internal/model"

	"github.com/go-redis/redis/v8"
)

const jobTTL = 24 * time.Hour

// ErrJobNotFound 表示任务不存在或已过期。
var ErrJobNotFound = errors.New("analysis job not found")

// JobRepository 在 Redis 中保存异步分析任务的状态。
type JobRepository interface {
	Save(ctx context.Context, job *model.AnalysisJob) error
	Get(ctx context.Context, id string) (*model.AnalysisJob, error)
}

type redisJobRepository struct {
	redisClient *redis.Client
}

// NewJobRepository 创建一个新的 JobRepository 实例。
func NewJobRepository(redisClient *redis.Client) JobRepository {
	return &redisJobRepository{redisClient: redisClient}
}

func jobKey(id string) string {
	return "analysis:job:" + id
}

// Save 覆盖写入任务，并更新 UpdatedAt。
func (r *redisJobRepository) Save(ctx context.Context, job *model.AnalysisJob) error {
	job.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := r.redisClient.Set(ctx, jobKey(job.ID), data, jobTTL).Err(); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

func (r *redisJobRepository) Get(ctx context.Context, id string) (*model.AnalysisJob, error) {
	data, err := r.redisClient.Get(ctx, jobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	var job model.AnalysisJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return &job, nil
}
