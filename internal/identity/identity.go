// Package identity carries the caller identity the engine partitions
// rate-limit state by. Deriving an identity from a request is the host's
// job; the engine only ever sees the resolved pair.
package identity

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// DefaultGroup is assigned when a resolver cannot classify the caller.
const DefaultGroup = "default"

// Identity is a stable unique id plus a classification group.
type Identity struct {
	UniqueID string
	Group    string
}

// Valid reports whether the identity can key storage.
func (id Identity) Valid() bool {
	return strings.TrimSpace(id.UniqueID) != ""
}

// Resolver derives a caller identity from an inbound request.
type Resolver func(c *gin.Context) Identity

// FromRequest is the default resolver: the caller is identified by API key
// when one is present, otherwise by client address, and classified by the
// configured group header when set.
func FromRequest(c *gin.Context) Identity {
	group := strings.TrimSpace(c.GetHeader("X-Caller-Group"))
	if group == "" {
		group = DefaultGroup
	}

	if key := bearerToken(c); key != "" {
		return Identity{UniqueID: "key:" + key, Group: group}
	}
	return Identity{UniqueID: "ip:" + clientAddress(c), Group: group}
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return strings.TrimSpace(c.GetHeader("X-Api-Key"))
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// clientAddress prefers the first forwarded address over the socket peer.
func clientAddress(c *gin.Context) string {
	if forwarded := strings.TrimSpace(c.GetHeader("X-Forwarded-For")); forwarded != "" {
		if first, _, ok := strings.Cut(forwarded, ","); ok {
			return strings.TrimSpace(first)
		}
		return forwarded
	}
	addr := c.Request.RemoteAddr
	if host, _, errSplit := net.SplitHostPort(addr); errSplit == nil {
		return host
	}
	return addr
}
