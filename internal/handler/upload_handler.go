package handler

import (
	"errors"
	"net/http"

	"labsight-go/internal/service"
	"labsight-go/pkg/log"
	"labsight-go/pkg/storage"

	"github.com/gin-gonic/gin"
)

// UploadHandler 负责处理化验单图片上传。
type UploadHandler struct {
	uploadService service.UploadService
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(uploadService service.UploadService) *UploadHandler {
	return &UploadHandler{uploadService: uploadService}
}

// Upload 处理 multipart 表单中的 files 字段。
func (h *UploadHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No files provided"})
		return
	}

	urls, err := h.uploadService.Upload(c.Request.Context(), form.File["files"])
	if err != nil {
		var verr *service.UploadValidationError
		switch {
		case errors.Is(err, service.ErrNoFiles):
			c.JSON(http.StatusBadRequest, gin.H{"error": "No files provided"})
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "files": verr.Files})
		case errors.Is(err, storage.ErrNotConfigured):
			log.Error("Upload: storage not configured", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage credentials not configured"})
		default:
			log.Error("Upload: failed to upload files", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"urls": urls})
}
