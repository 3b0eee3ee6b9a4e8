// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"

	"labsight-go/internal/model"

	"gorm.io/gorm"
)

// ReportRepository 定义了报告记录的持久化操作。报告只插入和查询。
type ReportRepository interface {
	Create(ctx context.Context, report *model.Report) error
	CreateBatch(ctx context.Context, reports []*model.Report) error
	// FindAll 按创建时间倒序返回所有报告。
	FindAll(ctx context.Context) ([]model.Report, error)
}

// gormReportRepository 是 ReportRepository 接口的 GORM 实现。
type gormReportRepository struct {
	db *gorm.DB
}

// NewReportRepository 创建一个基于 GORM 的 ReportRepository 实例。
func NewReportRepository(db *gorm.DB) ReportRepository {
	return &gormReportRepository{db: db}
}

// Create 插入一条报告记录，created_at 由服务端生成。
func (r *gormReportRepository) Create(ctx context.Context, report *model.Report) error {
	return r.db.WithContext(ctx).Create(report).Error
}

// CreateBatch 在一条 INSERT 语句中插入多条报告。
func (r *gormReportRepository) CreateBatch(ctx context.Context, reports []*model.Report) error {
	if len(reports) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&reports).Error
}

func (r *gormReportRepository) FindAll(ctx context.Context) ([]model.Report, error) {
	var reports []model.Report
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&reports).Error
	return reports, err
}
