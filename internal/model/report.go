package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Report 定义了 reports 表的 ORM 模型，每张分析过的图片对应一条记录。
// 记录只插入，不更新也不删除。
type Report struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id,omitempty"`
	// DocumentID 仅在使用 MongoDB 存储时填充。
	DocumentID     string         `gorm:"-" json:"_id,omitempty"`
	TestName       string         `gorm:"type:varchar(255);not null" json:"test_name" binding:"required"`
	Filename       string         `gorm:"type:varchar(255)" json:"filename,omitempty"`
	ReportImageURL string         `gorm:"type:varchar(1024);not null" json:"report_image_url" binding:"required"`
	AIResultJSON   datatypes.JSON `gorm:"column:ai_result_json;type:json" json:"ai_result_json"`
	CreatedAt      time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Report) TableName() string {
	return "reports"
}

// AnalysisResult 解析 AIResultJSON，失败的分析（null）返回 nil。
func (r *Report) AnalysisResult() (*AnalysisResult, error) {
	if len(r.AIResultJSON) == 0 || string(r.AIResultJSON) == "null" {
		return nil, nil
	}
	var res AnalysisResult
	if err := json.Unmarshal(r.AIResultJSON, &res); err != nil {
		return nil, fmt.Errorf("invalid ai_result_json: %w", err)
	}
	return &res, nil
}

// ReportsFromAnalysis 为批量分析中的每张图片生成一条待保存的报告记录。
func ReportsFromAnalysis(c *CombinedAnalysis) ([]*Report, error) {
	reports := make([]*Report, 0, len(c.Reports))
	for _, ra := range c.Reports {
		r := &Report{
			TestName:       c.TestType,
			Filename:       ra.Filename,
			ReportImageURL: ra.URL,
			AIResultJSON:   datatypes.JSON("null"),
		}
		if ra.Success && ra.Analysis != nil {
			b, err := json.Marshal(ra.Analysis)
			if err != nil {
				return nil, fmt.Errorf("marshal analysis for %s: %w", ra.Filename, err)
			}
			r.AIResultJSON = b
		}
		reports = append(reports, r)
	}
	return reports, nil
}
