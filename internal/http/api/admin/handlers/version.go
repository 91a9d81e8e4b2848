package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Version is the reported build version. Overridden at build time via
// -ldflags "-X .../handlers.Version=...".
var Version = "dev"

// VersionHandler reports the build version.
type VersionHandler struct{}

// NewVersionHandler constructs a VersionHandler.
func NewVersionHandler() *VersionHandler { return &VersionHandler{} }

// GetVersion returns the build version.
func (h *VersionHandler) GetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": Version})
}
