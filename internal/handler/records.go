package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"task-mail-intake-go/internal/models"
)

// GetRecords returns processing records, newest first.
func (h *Handlers) GetRecords(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	var records []models.ProcessingRecord
	if err := h.db.Order("processed_at desc").Limit(limit).Find(&records).Error; err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch processing records",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, records)
}

// GetRecord returns the processing record for one message id.
func (h *Handlers) GetRecord(c *gin.Context) {
	messageID := c.Param("message_id")

	var record models.ProcessingRecord
	if err := h.db.Where("message_id = ?", messageID).First(&record).Error; err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "Processing record not found",
			Code:    http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusOK, record)
}

// GetIntakeLogs returns intake audit rows, newest first.
func (h *Handlers) GetIntakeLogs(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	var logs []models.IntakeLog
	if err := h.db.Order("created_at desc").Limit(limit).Find(&logs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch intake logs",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, logs)
}
