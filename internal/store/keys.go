package store

import (
	"fmt"
	"strings"
)

// Key identifies one caller's standing on one protected operation. An empty
// CallerID addresses the endpoint itself, used for endpoint-wide exemptions.
type Key struct {
	Endpoint string
	Group    string
	CallerID string
}

// EndpointKey addresses endpoint-wide state shared by every caller.
func EndpointKey(endpoint string) Key {
	return Key{Endpoint: endpoint}
}

// String renders the key for flat keyspace backends.
func (k Key) String() string {
	if k.CallerID == "" {
		return "e:" + sanitize(k.Endpoint)
	}
	return fmt.Sprintf("e:%s:g:%s:u:%s", sanitize(k.Endpoint), sanitize(k.Group), sanitize(k.CallerID))
}

// CounterKey derives the counter key for one rule of one rank, so every rule
// keeps independent counters per caller.
func CounterKey(k Key, rankIndex, ruleIndex int) string {
	return fmt.Sprintf("%s:r:%d:i:%d", k.String(), rankIndex, ruleIndex)
}

// sanitize keeps key segments unambiguous in delimiter-based keyspaces.
func sanitize(segment string) string {
	return strings.ReplaceAll(segment, ":", "_")
}
