package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth       *handler.AuthHandler
	Test       *handler.TestHandler
	Proctoring *handler.ProctoringHandler
	Session    *handler.SessionHandler
	Monitor    *handler.MonitorHandler
	System     *handler.SystemHandler
}

// Limiters are owned by the caller, which stops them on shutdown.
type Limiters struct {
	Auth       *middleware.RateLimiter
	Proctoring *middleware.RateLimiter
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	limiters Limiters,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID and access log for every route, including the health check.
	router.Use(response.RequestLogger(log))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/login", limiters.Auth.Middleware(), handlers.Auth.Login)

		auth.GET("/me", middleware.RequireJWT(authService), handlers.Auth.Me)
		auth.POST("/logout", middleware.RequireJWT(authService), handlers.Auth.Logout)
	}

	// ─── 2. Candidate Group (JWT + Single Device) ───────────────────────
	candidateAPI := router.Group("/api/v1")
	candidateAPI.Use(
		middleware.RequireJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
		middleware.RequireRole(model.RoleCandidate),
		middleware.NoStore(),
	)
	{
		// The paper is the largest payload a candidate downloads.
		candidateAPI.GET("/tests/:id", middleware.Brotli(), handlers.Test.GetTest)
		candidateAPI.POST("/tests/:id/start", handlers.Test.Start)
		candidateAPI.PUT("/tests/:id/progress", handlers.Test.SaveProgress)
		candidateAPI.POST("/tests/:id/submit", handlers.Test.Submit)
		candidateAPI.GET("/attempts/:id/result", handlers.Test.GetResult)

		candidateAPI.POST("/proctoring/:attemptId/log",
			limiters.Proctoring.Middleware(),
			handlers.Proctoring.LogActivity,
		)
	}

	// ─── 3. WebSocket Group (token in query string) ────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
		middleware.RequireRole(model.RoleCandidate),
	)
	{
		ws.GET("/tests/:id/session", handlers.Session.Session)
	}

	// ─── 4. Proctor Group (JWT + Role) ─────────────────────────────────
	proctorAPI := router.Group("/api/v1/proctor")
	proctorAPI.Use(
		middleware.RequireJWT(authService),
		middleware.RequireRole(model.RoleProctor),
	)
	{
		proctorAPI.GET("/tests/:id/monitor", handlers.Monitor.MonitorTestSSE)
		proctorAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
		proctorAPI.GET("/system/metrics/snapshot", middleware.Brotli(), handlers.System.Snapshot)
	}

	return router
}
