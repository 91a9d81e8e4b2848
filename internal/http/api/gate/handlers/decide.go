package handlers

import (
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rankgate/rankgate/internal/engine"
	"github.com/rankgate/rankgate/internal/identity"
	"github.com/rankgate/rankgate/internal/rule"
	log "github.com/sirupsen/logrus"
)

// DecideHandler serves admission verdicts to out-of-process hosts that
// cannot embed the engine.
type DecideHandler struct {
	engine  *engine.Engine
	ladders func() map[string]rule.Ladder
}

// NewDecideHandler constructs a DecideHandler.
func NewDecideHandler(eng *engine.Engine, ladders func() map[string]rule.Ladder) *DecideHandler {
	return &DecideHandler{engine: eng, ladders: ladders}
}

// decideRequest defines the request body for a decision.
type decideRequest struct {
	Endpoint string `json:"endpoint"`
	UniqueID string `json:"unique_id"`
	Group    string `json:"group"`
}

// Decide evaluates the caller against the endpoint's configured ladder.
// Endpoints without a ladder admit every caller.
func (h *DecideHandler) Decide(c *gin.Context) {
	var body decideRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	endpoint := strings.TrimSpace(body.Endpoint)
	if endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing endpoint"})
		return
	}
	id := identity.Identity{UniqueID: strings.TrimSpace(body.UniqueID), Group: strings.TrimSpace(body.Group)}
	if !id.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing unique_id"})
		return
	}
	if id.Group == "" {
		id.Group = identity.DefaultGroup
	}

	ladder, ok := h.ladders()[endpoint]
	if !ok {
		c.JSON(http.StatusOK, gin.H{"allowed": true})
		return
	}

	verdict, errEvaluate := h.engine.Evaluate(c.Request.Context(), id, ladder, endpoint)
	if errEvaluate != nil {
		log.WithError(errEvaluate).WithField("endpoint", endpoint).Warn("decide: evaluate failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admission check unavailable"})
		return
	}
	if verdict.Allowed {
		c.JSON(http.StatusOK, gin.H{"allowed": true})
		return
	}

	limitedFor := int(math.Ceil(verdict.RetryAfter.Seconds()))
	if limitedFor < 1 {
		limitedFor = 1
	}
	out := gin.H{
		"allowed":       false,
		"retry_after":   limitedFor,
		"blocked_until": verdict.BlockedUntil.UTC(),
	}
	if verdict.Rule != nil {
		out["reason"] = verdict.Rule.Reason
		if verdict.Rule.Message != "" {
			out["message"] = verdict.Rule.Message
		}
	}
	c.JSON(http.StatusOK, out)
}
