// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"labsight-go/internal/model"
	"labsight-go/internal/repository"
	"labsight-go/internal/service"
	"labsight-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AnalysisHandler 负责化验单分析相关的 API 请求。
type AnalysisHandler struct {
	analysisService service.AnalysisService
}

// NewAnalysisHandler 创建一个新的 AnalysisHandler 实例。
func NewAnalysisHandler(analysisService service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{analysisService: analysisService}
}

// AnalyzeRequest 定义了分析 API 的请求体结构。
type AnalyzeRequest struct {
	ImageURLs []model.ImageRef `json:"imageUrls"`
	TestType  string           `json:"testType"`
}

const invalidAnalyzeRequest = "Image URLs array and test type are required"

// Analyze 同步分析所有图片，返回合并结果。
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": invalidAnalyzeRequest})
		return
	}

	combined, err := h.analysisService.Analyze(c.Request.Context(), req.ImageURLs, req.TestType)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"message": invalidAnalyzeRequest})
			return
		}
		log.Error("Analyze: failed to analyze reports", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to analyze reports"})
		return
	}
	c.JSON(http.StatusOK, combined)
}

// AnalyzeAsync 创建异步分析任务，立即返回任务 ID。
func (h *AnalysisHandler) AnalyzeAsync(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": invalidAnalyzeRequest})
		return
	}

	job, err := h.analysisService.Submit(c.Request.Context(), req.ImageURLs, req.TestType)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"message": invalidAnalyzeRequest})
			return
		}
		log.Error("AnalyzeAsync: failed to submit job", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to submit analysis"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": job.ID, "status": job.Status})
}

// GetJob 查询异步任务状态。
func (h *AnalysisHandler) GetJob(c *gin.Context) {
	job, err := h.analysisService.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "Job not found"})
			return
		}
		log.Error("GetJob: failed to load job", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to load job"})
		return
	}
	c.JSON(http.StatusOK, job)
}
