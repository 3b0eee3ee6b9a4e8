package pipeline

import (
	"context"
	"errors"
	"fmt"

	"labsight-go/internal/model"
	"labsight-go/internal/repository"
	"labsight-go/pkg/log"
	"labsight-go/pkg/tasks"
)

// BatchAnalyzer 是 Analyzer 的批量接口。
type BatchAnalyzer interface {
	AnalyzeBatch(ctx context.Context, images []model.ImageRef, testType string) *model.CombinedAnalysis
}

// Processor 执行从 Kafka 收到的异步分析任务。
type Processor struct {
	analyzer   BatchAnalyzer
	jobRepo    repository.JobRepository
	reportRepo repository.ReportRepository
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(analyzer BatchAnalyzer, jobRepo repository.JobRepository, reportRepo repository.ReportRepository) *Processor {
	return &Processor{
		analyzer:   analyzer,
		jobRepo:    jobRepo,
		reportRepo: reportRepo,
	}
}

// Process 是异步分析的主函数：标记运行中、分析、保存报告、写回结果。
// 返回错误时由消费者决定是否重试。
func (p *Processor) Process(ctx context.Context, task tasks.AnalysisTask) error {
	log.Infof("[Processor] 开始处理分析任务, JobID: %s, TestType: %s, 图片数: %d", task.JobID, task.TestType, len(task.Images))

	job, err := p.jobRepo.Get(ctx, task.JobID)
	if errors.Is(err, repository.ErrJobNotFound) {
		// 任务记录已过期，仍按消息内容执行
		job = &model.AnalysisJob{ID: task.JobID, TestType: task.TestType, Images: task.Images}
	} else if err != nil {
		return fmt.Errorf("读取任务状态失败: %w", err)
	}
	if job.Status == model.JobCompleted {
		log.Infof("[Processor] 任务 %s 已完成, 跳过", task.JobID)
		return nil
	}

	job.Status = model.JobRunning
	if err := p.jobRepo.Save(ctx, job); err != nil {
		return fmt.Errorf("更新任务状态失败: %w", err)
	}

	// 1. 批量分析
	combined := p.analyzer.AnalyzeBatch(ctx, task.Images, task.TestType)
	log.Infof("[Processor] 步骤1: 分析完成, 成功 %d, 失败 %d", combined.Summary.SuccessfulAnalyses, combined.Summary.FailedAnalyses)

	// 2. 保存报告
	reports, err := model.ReportsFromAnalysis(combined)
	if err == nil {
		err = p.reportRepo.CreateBatch(ctx, reports)
	}
	if err != nil {
		log.Errorf("[Processor] 步骤2: 保存报告失败, JobID: %s, Error: %v", task.JobID, err)
		job.Status = model.JobFailed
		job.Error = "failed to save reports"
		if serr := p.jobRepo.Save(ctx, job); serr != nil {
			log.Error("[Processor] 写回失败状态出错", serr)
		}
		return fmt.Errorf("保存报告失败: %w", err)
	}
	log.Infof("[Processor] 步骤2: 成功保存 %d 条报告", len(reports))

	// 3. 写回结果
	job.Status = model.JobCompleted
	job.Result = combined
	job.Error = ""
	if err := p.jobRepo.Save(ctx, job); err != nil {
		return fmt.Errorf("写回任务结果失败: %w", err)
	}
	log.Infof("[Processor] 分析任务成功完成, JobID: %s", task.JobID)
	return nil
}

// MarkFailed 在消费者放弃重试后把任务标记为失败，记录已过期时按 ID 新建。
func (p *Processor) MarkFailed(ctx context.Context, jobID, reason string) error {
	job, err := p.jobRepo.Get(ctx, jobID)
	if errors.Is(err, repository.ErrJobNotFound) {
		job = &model.AnalysisJob{ID: jobID}
	} else if err != nil {
		return fmt.Errorf("读取任务状态失败: %w", err)
	}
	if job.Status == model.JobCompleted {
		return nil
	}
	job.Status = model.JobFailed
	job.Error = reason
	if err := p.jobRepo.Save(ctx, job); err != nil {
		return fmt.Errorf("写回失败状态出错: %w", err)
	}
	log.Warnf("[Processor] 任务 %s 已标记为失败: %s", jobID, reason)
	return nil
}
