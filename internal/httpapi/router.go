// Package httpapi exposes the services over HTTP and websockets.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mentorship/internal/account"
	"mentorship/internal/auth"
	"mentorship/internal/config"
	"mentorship/internal/connection"
	"mentorship/internal/httpmiddleware"
	"mentorship/internal/messaging"
	"mentorship/internal/profile"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the services served by the router.
type Deps struct {
	Config      config.App
	Log         *zap.Logger
	Accounts    *account.Service
	Profiles    *profile.Service
	Connections *connection.Manager
	Messages    *messaging.Service
	Health      map[string]HealthCheck
	// Limiter is built from Config when nil. Callers that pass one own its sweeper.
	Limiter *httpmiddleware.TokenBucket
}

// Handler holds the request handlers.
type Handler struct {
	accounts    *account.Service
	profiles    *profile.Service
	connections *connection.Manager
	messages    *messaging.Service
	health      map[string]HealthCheck
	upgrader    websocket.Upgrader
	presence    presence
	log         *zap.Logger
}

// NewRouter builds the gin engine with middleware and all routes.
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	h := &Handler{
		accounts:    d.Accounts,
		profiles:    d.Profiles,
		connections: d.Connections,
		messages:    d.Messages,
		health:      d.Health,
		presence:    presence{open: map[string]int{}},
		log:         d.Log.With(zap.String("module", "http")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || originAllowed(d.Config.CORSOrigins, origin)
			},
		},
	}

	r := gin.New()
	r.MaxMultipartMemory = 8 << 20
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware(d.Config.CORSOrigins))
	r.Use(securityHeaders())

	limiter := d.Limiter
	if limiter == nil {
		limiter = httpmiddleware.NewTokenBucket(d.Config.RateLimitPerMin, d.Config.RateLimitPerMin)
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.healthz)

	public := r.Group("/api/auth", limiter.GinMiddleware())
	public.POST("/signup", h.signup)
	public.POST("/login", h.login)
	public.POST("/refresh", h.refresh)
	public.POST("/send-otp", h.sendOTP)
	public.POST("/verify-otp", h.verifyOTP)

	api := r.Group("/api", auth.UserAuth(d.Config.JWTSigningKey, d.Config.JWTIssuer), limiter.GinMiddleware())
	api.GET("/me", h.me)

	api.PUT("/profile", h.completeProfile)
	api.POST("/profile/image", h.uploadImage)
	api.POST("/profile/credentials", h.uploadCredential)
	api.GET("/profiles/:id", h.getProfile)
	api.GET("/mentors", h.listMentors)
	api.GET("/mentors/leaderboard", h.leaderboard)

	api.POST("/connections", h.requestConnection)
	api.GET("/connections", h.listConnections)
	api.GET("/connections/pending-count", h.pendingCount)
	api.GET("/connections/:id", h.getConnection)
	api.POST("/connections/:id/respond", h.respondToConnection)

	api.GET("/conversations/unread", h.unreadCounts)
	api.GET("/messages/:peerId", h.loadHistory)
	api.POST("/messages/:peerId", h.sendMessage)
	api.POST("/messages/:peerId/read", h.markRead)

	api.GET("/ws/messages/:peerId", h.messagesSocket)
	api.GET("/ws/notifications", h.notificationsSocket)

	return r
}

func (h *Handler) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, check := range h.health {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func originAllowed(allowed []string, origin string) bool {
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// CORS middleware for browser requests
func corsMiddleware(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && originAllowed(allowed, origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
