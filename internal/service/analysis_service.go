package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"labsight-go/internal/model"
	"labsight-go/internal/pipeline"
	"labsight-go/internal/repository"
	"labsight-go/pkg/log"
	"labsight-go/pkg/tasks"

	"github.com/google/uuid"
)

// TaskProducer 发布异步分析任务。
type TaskProducer interface {
	ProduceAnalysisTask(ctx context.Context, task tasks.AnalysisTask) error
}

// AnalysisService 定义了化验单分析的业务操作。
type AnalysisService interface {
	// Analyze 同步分析所有图片并保存每张图片的报告。
	Analyze(ctx context.Context, images []model.ImageRef, testType string) (*model.CombinedAnalysis, error)
	// Submit 创建异步任务并投递到队列。
	Submit(ctx context.Context, images []model.ImageRef, testType string) (*model.AnalysisJob, error)
	GetJob(ctx context.Context, id string) (*model.AnalysisJob, error)
}

type analysisService struct {
	analyzer   pipeline.BatchAnalyzer
	reportRepo repository.ReportRepository
	jobRepo    repository.JobRepository
	producer   TaskProducer
}

// NewAnalysisService 创建一个新的 AnalysisService 实例。jobRepo 和 producer 为空时不支持异步分析。
func NewAnalysisService(analyzer pipeline.BatchAnalyzer, reportRepo repository.ReportRepository, jobRepo repository.JobRepository, producer TaskProducer) AnalysisService {
	return &analysisService{
		analyzer:   analyzer,
		reportRepo: reportRepo,
		jobRepo:    jobRepo,
		producer:   producer,
	}
}

func validateAnalysisInput(images []model.ImageRef, testType string) error {
	if len(images) == 0 || strings.TrimSpace(testType) == "" {
		return fmt.Errorf("%w: image URLs array and test type are required", ErrInvalidInput)
	}
	for i, img := range images {
		if strings.TrimSpace(img.URL) == "" {
			return fmt.Errorf("%w: image %d has no url", ErrInvalidInput, i+1)
		}
	}
	return nil
}

func (s *analysisService) Analyze(ctx context.Context, images []model.ImageRef, testType string) (*model.CombinedAnalysis, error) {
	if err := validateAnalysisInput(images, testType); err != nil {
		return nil, err
	}

	log.Infof("[AnalysisService] 开始分析 %d 张图片, TestType: %s", len(images), testType)
	combined := s.analyzer.AnalyzeBatch(ctx, images, testType)

	reports, err := model.ReportsFromAnalysis(combined)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := s.reportRepo.CreateBatch(ctx, reports); err != nil {
		log.Error("[AnalysisService] 保存报告失败", err)
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	log.Infof("[AnalysisService] 分析完成, 成功 %d, 失败 %d", combined.Summary.SuccessfulAnalyses, combined.Summary.FailedAnalyses)
	return combined, nil
}

func (s *analysisService) Submit(ctx context.Context, images []model.ImageRef, testType string) (*model.AnalysisJob, error) {
	if err := validateAnalysisInput(images, testType); err != nil {
		return nil, err
	}
	if s.jobRepo == nil || s.producer == nil {
		return nil, fmt.Errorf("async analysis is not enabled")
	}

	job := &model.AnalysisJob{
		ID:        uuid.NewString(),
		Status:    model.JobPending,
		TestType:  testType,
		Images:    images,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.jobRepo.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	task := tasks.AnalysisTask{JobID: job.ID, TestType: testType, Images: images}
	if err := s.producer.ProduceAnalysisTask(ctx, task); err != nil {
		log.Errorf("[AnalysisService] 投递分析任务失败, JobID: %s, Error: %v", job.ID, err)
		job.Status = model.JobFailed
		job.Error = "failed to enqueue analysis"
		_ = s.jobRepo.Save(ctx, job)
		return nil, err
	}
	log.Infof("[AnalysisService] 异步分析任务已投递, JobID: %s", job.ID)
	return job, nil
}

func (s *analysisService) GetJob(ctx context.Context, id string) (*model.AnalysisJob, error) {
	if s.jobRepo == nil {
		return nil, repository.ErrJobNotFound
	}
	return s.jobRepo.Get(ctx, id)
}
