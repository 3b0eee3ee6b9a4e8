// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "labsight-go/internal/model"

// AnalysisTask represents one asynchronous batch analysis job.
type AnalysisTask struct {
	JobID    string           `json:"job_id"`
	TestType string           `json:"test_type"`
	Images   []model.ImageRef `json:"images"`
}
