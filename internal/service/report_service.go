package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"labsight-go/internal/model"
	"labsight-go/internal/repository"

	"gorm.io/datatypes"
)

// ReportService 定义了报告记录的业务操作。
type ReportService interface {
	Create(ctx context.Context, report *model.Report) error
	List(ctx context.Context) ([]model.Report, error)
}

type reportService struct {
	reportRepo repository.ReportRepository
}

// NewReportService 创建一个新的 ReportService 实例。
func NewReportService(reportRepo repository.ReportRepository) ReportService {
	return &reportService{reportRepo: reportRepo}
}

// Create 保存一条报告。ai_result_json 可以为空（视为 null），created_at 由存储层生成。
func (s *reportService) Create(ctx context.Context, report *model.Report) error {
	if strings.TrimSpace(report.TestName) == "" || strings.TrimSpace(report.ReportImageURL) == "" {
		return fmt.Errorf("%w: test_name and report_image_url are required", ErrInvalidInput)
	}
	if len(report.AIResultJSON) == 0 {
		report.AIResultJSON = datatypes.JSON("null")
	} else if !json.Valid(report.AIResultJSON) {
		return fmt.Errorf("%w: ai_result_json is not valid JSON", ErrInvalidInput)
	}
	report.ID = 0
	report.DocumentID = ""
	report.CreatedAt = time.Time{}

	if err := s.reportRepo.Create(ctx, report); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// List 按创建时间倒序返回全部报告。
func (s *reportService) List(ctx context.Context) ([]model.Report, error) {
	reports, err := s.reportRepo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if reports == nil {
		reports = []model.Report{}
	}
	return reports, nil
}
