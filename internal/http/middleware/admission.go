// Package middleware gates gin routes with the admission-control engine.
package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rankgate/rankgate/internal/engine"
	"github.com/rankgate/rankgate/internal/identity"
	"github.com/rankgate/rankgate/internal/rule"
	log "github.com/sirupsen/logrus"
)

// LadderProvider returns the current ladders keyed by endpoint key
// ("METHOD path"). Providers may swap the map on config reload.
type LadderProvider func() map[string]rule.Ladder

// Options configures the admission middleware.
type Options struct {
	Engine   *engine.Engine
	Ladders  LadderProvider
	Resolver identity.Resolver

	// FailOpen admits requests when the stores are unreachable. The engine
	// never makes this call itself; it is the host's policy.
	FailOpen bool
}

// Admission gates every routed request whose endpoint key has a ladder
// configured. Requests without a ladder pass through untouched.
func Admission(opts Options) gin.HandlerFunc {
	resolver := opts.Resolver
	if resolver == nil {
		resolver = identity.FromRequest
	}
	return func(c *gin.Context) {
		ladders := opts.Ladders()
		ladder, endpointKey := ladderFor(ladders, c)
		if ladder == nil {
			c.Next()
			return
		}
		gate(c, opts.Engine, ladder, endpointKey, resolver, opts.FailOpen)
	}
}

// ForEndpoint gates one route with its own ladder, regardless of the
// configured endpoint map. Used for built-in protections like the admin
// login. The ladder is re-read per request so config reloads apply.
func ForEndpoint(eng *engine.Engine, ladderFn func() rule.Ladder, endpointKey string, resolver identity.Resolver, failOpen bool) gin.HandlerFunc {
	if resolver == nil {
		resolver = identity.FromRequest
	}
	return func(c *gin.Context) {
		ladder := ladderFn()
		if len(ladder) == 0 {
			c.Next()
			return
		}
		gate(c, eng, ladder, endpointKey, resolver, failOpen)
	}
}

// ladderFor matches the request's route against the configured endpoints,
// trying the exact method before the ANY wildcard. The route template is
// used when available so parameterized paths share one ladder.
func ladderFor(ladders map[string]rule.Ladder, c *gin.Context) (rule.Ladder, string) {
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	exact := c.Request.Method + " " + path
	if ladder, ok := ladders[exact]; ok {
		return ladder, exact
	}
	wildcard := "ANY " + path
	if ladder, ok := ladders[wildcard]; ok {
		return ladder, wildcard
	}
	return nil, ""
}

func gate(c *gin.Context, eng *engine.Engine, ladder rule.Ladder, endpointKey string, resolver identity.Resolver, failOpen bool) {
	id := resolver(c)
	if !id.Valid() {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "caller identity missing"})
		return
	}

	verdict, errEvaluate := eng.Evaluate(c.Request.Context(), id, ladder, endpointKey)
	if errEvaluate != nil {
		log.WithError(errEvaluate).WithField("endpoint", endpointKey).Warn("admission: evaluate failed")
		if failOpen {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admission check unavailable"})
		return
	}
	if verdict.Allowed {
		c.Next()
		return
	}

	limitedFor := retryAfterSeconds(verdict)
	c.Header("Retry-After", strconv.Itoa(limitedFor))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": ErrorBody(verdict, limitedFor)})
}

// ErrorBody renders the rejection payload for a blocked verdict.
func ErrorBody(verdict engine.Verdict, limitedFor int) gin.H {
	body := gin.H{
		"reason":      "rate limited",
		"limited_for": limitedFor,
		"error_type":  "ratelimit.hits_exceeded",
	}
	snap := verdict.Rule
	if snap == nil {
		return body
	}
	body["reason"] = snap.Reason
	if snap.Message != "" {
		body["message"] = snap.Message
	}
	if snap.Mode == rule.ModeDelay {
		body["error_type"] = "ratelimit.delay_exceeded"
		body["delay"] = snap.Delay.Seconds()
	} else if snap.Hits > 0 {
		body["hits"] = snap.Hits
	}
	return body
}

// retryAfterSeconds rounds the retry hint up so clients never retry early.
func retryAfterSeconds(verdict engine.Verdict) int {
	seconds := int(math.Ceil(verdict.RetryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
