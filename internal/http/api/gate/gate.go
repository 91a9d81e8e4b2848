// Package gate registers the decision API consumed by out-of-process hosts.
package gate

import (
	"github.com/gin-gonic/gin"
	"github.com/rankgate/rankgate/internal/engine"
	"github.com/rankgate/rankgate/internal/http/api/gate/handlers"
	"github.com/rankgate/rankgate/internal/rule"
)

// RegisterGateRoutes registers the decision endpoints.
func RegisterGateRoutes(r *gin.Engine, eng *engine.Engine, ladders func() map[string]rule.Ladder) {
	if r == nil || eng == nil {
		return
	}
	decideHandler := handlers.NewDecideHandler(eng, ladders)
	r.POST("/v1/decide", decideHandler.Decide)
}
