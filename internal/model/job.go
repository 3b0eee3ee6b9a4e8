package model

import "time"

// 异步分析任务状态。
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// AnalysisJob 记录一次通过 Kafka 异步执行的批量分析。
type AnalysisJob struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	TestType  string            `json:"testType"`
	Images    []ImageRef        `json:"images"`
	Result    *CombinedAnalysis `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}
