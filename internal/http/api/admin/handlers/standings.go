package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rankgate/rankgate/internal/engine"
	"github.com/rankgate/rankgate/internal/models"
	"github.com/rankgate/rankgate/internal/store"
	"gorm.io/gorm"
)

// StandingHandler exposes caller standings for inspection and manual
// control. Mutations go through the engine so they apply to whichever
// backend is active; listing needs the database backend.
type StandingHandler struct {
	engine *engine.Engine
	db     *gorm.DB
}

// NewStandingHandler constructs a StandingHandler. db may be nil when no
// database is configured; listing is unavailable then.
func NewStandingHandler(eng *engine.Engine, db *gorm.DB) *StandingHandler {
	return &StandingHandler{engine: eng, db: db}
}

// standingTarget addresses one standing. An empty unique_id targets the
// endpoint-wide record.
type standingTarget struct {
	Endpoint string `json:"endpoint" form:"endpoint"`
	Group    string `json:"group" form:"group"`
	UniqueID string `json:"unique_id" form:"unique_id"`
}

func (t standingTarget) key() (store.Key, bool) {
	endpoint := strings.TrimSpace(t.Endpoint)
	if endpoint == "" {
		return store.Key{}, false
	}
	uid := strings.TrimSpace(t.UniqueID)
	if uid == "" {
		return store.EndpointKey(endpoint), true
	}
	return store.Key{Endpoint: endpoint, Group: strings.TrimSpace(t.Group), CallerID: uid}, true
}

func standingJSON(standing store.Standing, found bool) gin.H {
	out := gin.H{
		"found": found,
		"rank":  standing.Rank,
	}
	if !standing.BlockedUntil.IsZero() {
		out["blocked_until"] = standing.BlockedUntil.UTC()
	}
	if standing.BlockedBy != nil {
		out["blocked_by"] = standing.BlockedBy
	}
	if standing.IgnoreTimes > 0 {
		out["ignore_times"] = standing.IgnoreTimes
	}
	if !standing.IgnoreUntil.IsZero() {
		out["ignore_until"] = standing.IgnoreUntil.UTC()
	}
	return out
}

// Show returns the standing addressed by query parameters.
func (h *StandingHandler) Show(c *gin.Context) {
	var target standingTarget
	if errBind := c.ShouldBindQuery(&target); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	key, ok := target.key()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing endpoint"})
		return
	}
	standing, found, errInspect := h.engine.Inspect(c.Request.Context(), key)
	if errInspect != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "standing store unavailable"})
		return
	}
	c.JSON(http.StatusOK, standingJSON(standing, found))
}

// List returns persisted standings from the database backend.
func (h *StandingHandler) List(c *gin.Context) {
	if h.db == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "listing requires the database backend"})
		return
	}
	q := h.db.WithContext(c.Request.Context()).Model(&models.CallerStanding{})
	if endpoint := strings.TrimSpace(c.Query("endpoint")); endpoint != "" {
		q = q.Where("endpoint_key = ?", endpoint)
	}
	if uid := strings.TrimSpace(c.Query("unique_id")); uid != "" {
		q = q.Where("caller_id = ?", uid)
	}
	if group := strings.TrimSpace(c.Query("group")); group != "" {
		q = q.Where("caller_group = ?", group)
	}
	if blockedQ := strings.TrimSpace(c.Query("blocked")); blockedQ == "true" {
		q = q.Where("blocked_until IS NOT NULL AND blocked_until > ?", time.Now().UTC())
	}

	var rows []models.CallerStanding
	if errFind := q.Order("updated_at DESC").Limit(listLimit(c)).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list standings failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		entry := gin.H{
			"endpoint":   row.EndpointKey,
			"group":      row.CallerGroup,
			"unique_id":  row.CallerID,
			"rank":       row.RankIndex,
			"updated_at": row.UpdatedAt,
		}
		if row.BlockedUntil != nil {
			entry["blocked_until"] = row.BlockedUntil.UTC()
		}
		if row.IgnoreTimes > 0 {
			entry["ignore_times"] = row.IgnoreTimes
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"standings": out})
}

// setRankRequest defines the request body for rank changes.
type setRankRequest struct {
	standingTarget
	Rank *int `json:"rank"`
}

// SetRank pins or resets a caller's rank. A missing rank resets to zero.
func (h *StandingHandler) SetRank(c *gin.Context) {
	var body setRankRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	key, ok := body.key()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing endpoint"})
		return
	}
	rank := 0
	if body.Rank != nil {
		rank = *body.Rank
	}
	if errSet := h.engine.SetRank(c.Request.Context(), key, rank); errSet != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "standing store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rank": rank})
}

// blockRequest defines the request body for manual blocks.
type blockRequest struct {
	standingTarget
	Seconds int    `json:"seconds"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Block imposes a manual block window.
func (h *StandingHandler) Block(c *gin.Context) {
	var body blockRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	key, ok := body.key()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing endpoint"})
		return
	}
	if body.Seconds <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seconds must be positive"})
		return
	}
	d := time.Duration(body.Seconds) * time.Second
	if errBlock := h.engine.Block(c.Request.Context(), key, d, body.Reason, body.Message); errBlock != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "standing store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked_for": body.Seconds})
}

// Unblock lifts an active block window.
func (h *StandingHandler) Unblock(c *gin.Context) {
	var target standingTarget
	if errBind := c.ShouldBindJSON(&target); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	key, ok := target.key()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing endpoint"})
		return
	}
	if errUnblock := h.engine.Unblock(c.Request.Context(), key); errUnblock != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "standing store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unblocked": true})
}

// exemptRequest defines the request body for exemptions.
type exemptRequest struct {
	standingTarget
	Times   int `json:"times"`
	Seconds int `json:"seconds"`
}

// Exempt grants an exemption for a number of requests, a time span, or
// both. Omitting the unique_id exempts every caller on the endpoint.
func (h *StandingHandler) Exempt(c *gin.Context) {
	var body exemptRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	key, ok := body.key()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing endpoint"})
		return
	}
	if body.Times <= 0 && body.Seconds <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "times or seconds required"})
		return
	}
	var until time.Time
	if body.Seconds > 0 {
		until = time.Now().Add(time.Duration(body.Seconds) * time.Second)
	}
	if errExempt := h.engine.Exempt(c.Request.Context(), key, body.Times, until); errExempt != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "standing store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"exempted": true})
}

// Delete forgets a standing entirely.
func (h *StandingHandler) Delete(c *gin.Context) {
	var target standingTarget
	if errBind := c.ShouldBindQuery(&target); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	key, ok := target.key()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing endpoint"})
		return
	}
	if errForget := h.engine.Forget(c.Request.Context(), key); errForget != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "standing store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func listLimit(c *gin.Context) int {
	limit := 100
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		if parsed, errParse := strconv.Atoi(raw); errParse == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	return limit
}
