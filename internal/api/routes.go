// Package api is the HTTP adapter over the weft engine.
package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers all /v1 endpoints with the router group.
//
// Session and lock endpoints:
//
//	POST /v1/sessions - Mint an agent id
//	POST /v1/locks/read - Acquire a read lock
//	POST /v1/locks/write - Acquire a write lock
//	POST /v1/locks/batch - Acquire write locks all-or-nothing
//	POST /v1/locks/release - Release one lock
//	POST /v1/locks/release-all - Release every lock of an agent
//	POST /v1/locks/heartbeat - Extend every lock of an agent
//	POST /v1/locks/sweep - Reclaim expired locks now
//	GET  /v1/locks - List tracked locks
//	GET  /v1/locks/:id - Lock status of one function
//
// Graph endpoints:
//
//	POST /v1/commits - Apply a mutation batch
//	GET  /v1/hashes - Function hashes
//	GET  /v1/plan - Dirty plan against the last build
//	POST /v1/build - Build and advance the snapshot
//	POST /v1/ids - Reserve identifiers for inserts
//	GET  /v1/functions - List functions
//	GET  /v1/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	rg.GET("/health", h.HandleHealth)
	rg.POST("/sessions", h.HandleNewSession)

	locks := rg.Group("/locks")
	{
		locks.POST("/read", h.HandleAcquireRead)
		locks.POST("/write", h.HandleAcquireWrite)
		locks.POST("/batch", h.HandleBatchAcquire)
		locks.POST("/release", h.HandleRelease)
		locks.POST("/release-all", h.HandleReleaseAll)
		locks.POST("/heartbeat", h.HandleHeartbeat)
		locks.POST("/sweep", h.HandleSweep)
		locks.GET("", h.HandleLockStatus)
		locks.GET("/:id", h.HandleLockStatusOf)
	}

	rg.POST("/commits", h.HandleCommit)
	rg.GET("/hashes", h.HandleHashes)
	rg.GET("/plan", h.HandlePlan)
	rg.POST("/build", h.HandleBuild)
	rg.POST("/ids", h.HandleReserve)
	rg.GET("/functions", h.HandleFunctions)
}

// NewRouter builds the full router: request metrics, panic recovery, the
// /v1 routes and, when reg is non-nil, /metrics serving reg.
func NewRouter(h *Handlers, reg *prometheus.Registry) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if reg != nil {
		router.Use(requestMetrics(reg))
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}
	RegisterRoutes(router.Group("/v1"), h)
	return router
}

func requestMetrics(reg prometheus.Registerer) gin.HandlerFunc {
	f := promauto.With(reg)
	requests := f.NewCounterVec(prometheus.CounterOpts{
		Name: "weft_http_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"method", "route", "status"})
	latency := f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "weft_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		latency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
