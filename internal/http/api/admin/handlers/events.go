package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rankgate/rankgate/internal/models"
	"gorm.io/gorm"
)

// EventHandler lists recorded block events.
type EventHandler struct {
	db *gorm.DB
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(db *gorm.DB) *EventHandler {
	return &EventHandler{db: db}
}

// List returns recent block events, newest first.
func (h *EventHandler) List(c *gin.Context) {
	if h.db == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "events require the database backend"})
		return
	}
	q := h.db.WithContext(c.Request.Context()).Model(&models.BlockEvent{})
	if endpoint := strings.TrimSpace(c.Query("endpoint")); endpoint != "" {
		q = q.Where("endpoint_key = ?", endpoint)
	}
	if uid := strings.TrimSpace(c.Query("unique_id")); uid != "" {
		q = q.Where("caller_id = ?", uid)
	}

	var rows []models.BlockEvent
	if errFind := q.Order("created_at DESC").Limit(listLimit(c)).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list events failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		entry := gin.H{
			"endpoint":     row.EndpointKey,
			"group":        row.CallerGroup,
			"unique_id":    row.CallerID,
			"rank":         row.RankIndex,
			"mode":         row.Mode,
			"reason":       row.Reason,
			"block_millis": row.BlockMillis,
			"created_at":   row.CreatedAt,
		}
		if len(row.Rule) > 0 {
			entry["rule"] = json.RawMessage(row.Rule)
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}
