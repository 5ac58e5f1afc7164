// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, CORS,
// security headers, and rate limiting.
//
// Design goals:
//   - Observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/mkourtis/go-dm-backend/internal/config"
	"github.com/mkourtis/go-dm-backend/internal/http/handlers"
	"github.com/mkourtis/go-dm-backend/internal/http/middleware"
	"github.com/mkourtis/go-dm-backend/internal/realtime"
	"github.com/mkourtis/go-dm-backend/internal/services"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine, then mounts the versioned public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per user/IP)
//  8. CORS, gzip, and security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, hub *realtime.Hub, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured access logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 8) CORS posture (allow all when no origins configured)
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "Idempotency-Key"},
		ExposeHeaders:    []string{"X-Request-ID", "Idempotency-Replayed", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	// Compress JSON responses; the SSE endpoint is excluded below.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/events"})))

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← db/hub/config
	cache := services.NewKeyCache()
	keySvc := services.NewKeyService(db, cache)
	keySvc.QueryTimeout = cfg.QueryTimeout

	connSvc := services.NewConnectionService(db)
	connSvc.QueryTimeout = cfg.QueryTimeout

	convSvc := services.NewConversationService(db, hub)
	convSvc.AdminID = cfg.Admin.UserID
	convSvc.QueryTimeout = cfg.QueryTimeout

	welcomeSvc := services.NewWelcomeService(db, keySvc, convSvc,
		cfg.Admin.UserID, cfg.Admin.Password, cfg.Admin.WelcomeMessage)
	welcomeSvc.QueryTimeout = cfg.QueryTimeout

	h := handlers.New(db, connSvc, convSvc, keySvc, welcomeSvc, hub)
	h.IdempotencyTTL = cfg.IdempotencyTTL

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Profiles
		api.POST("/users", h.Register)
		api.GET("/users/me", h.Me)
		api.GET("/users/search", h.SearchUsers)
		api.GET("/users/:id/public-key", h.PeerPublicKey)

		// Connections
		api.GET("/connections", h.ListConnections)
		api.POST("/connections", h.SendFriendRequest)
		api.POST("/connections/:id/respond", h.RespondToRequest)
		api.DELETE("/connections/:id", h.RemoveConnection)

		// Keys
		api.POST("/keys/unlock", h.Unlock)
		api.POST("/keys/rotate", h.RotateKeys)
		api.POST("/keys/lock", h.Lock)

		// Conversations & messages
		api.GET("/conversations", h.ListConversations)
		api.POST("/conversations/resolve", h.ResolveConversation)
		api.GET("/conversations/:id/messages", h.ListMessages)
		api.POST("/conversations/:id/messages", h.PostMessage)
		api.PUT("/messages/:id", h.EditMessage)
		api.DELETE("/messages/:id", h.DeleteMessage)
	}

	// Realtime stream lives outside the API prefix so proxies can route it.
	r.GET("/events", h.Events)
}

// limitBody caps the request body size for all endpoints using
// http.MaxBytesReader; reads past the cap error downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
