package handler

import (
	"errors"
	"net/http"

	"labsight-go/internal/model"
	"labsight-go/internal/service"
	"labsight-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ReportHandler 负责报告历史记录的读写。
type ReportHandler struct {
	reportService service.ReportService
}

// NewReportHandler 创建一个新的 ReportHandler 实例。
func NewReportHandler(reportService service.ReportService) *ReportHandler {
	return &ReportHandler{reportService: reportService}
}

// Create 保存一条报告。
func (h *ReportHandler) Create(c *gin.Context) {
	var report model.Report
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid report payload", "error": err.Error()})
		return
	}
	if err := h.reportService.Create(c.Request.Context(), &report); err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid report payload", "error": err.Error()})
			return
		}
		log.Error("CreateReport: failed to insert report", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to insert report"})
		return
	}
	c.JSON(http.StatusCreated, report)
}

// List 返回全部报告，最新的在前。
func (h *ReportHandler) List(c *gin.Context) {
	reports, err := h.reportService.List(c.Request.Context())
	if err != nil {
		log.Error("ListReports: failed to fetch reports", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to fetch reports"})
		return
	}
	c.JSON(http.StatusOK, reports)
}
