package router

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nudgehq/nudge-api/internal/handler"
	"github.com/nudgehq/nudge-api/internal/middleware"
)

// Handler registers a route group on the engine.
type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Config struct {
	RateLimitRPS   float64
	RateLimitBurst int
	RequestTimeout time.Duration
	CORS           middleware.CORSConfig
}

type Router struct {
	engine      *gin.Engine
	auth        *middleware.AuthMiddleware
	completionH Handler
	nudgeH      Handler
	planH       Handler
	schedulerH  Handler
	h           *handler.Handler
	cfg         Config
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	completionH Handler,
	nudgeH Handler,
	planH Handler,
	schedulerH Handler,
	h *handler.Handler,
	cfg Config,
) *Router {
	gin.SetMode(gin.ReleaseMode)

	return &Router{
		engine:      gin.New(),
		auth:        auth,
		completionH: completionH,
		nudgeH:      nudgeH,
		planH:       planH,
		schedulerH:  schedulerH,
		h:           h,
		cfg:         cfg,
	}
}

func (r *Router) Setup() {
	r.engine.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		middleware.Timeout(middleware.TimeoutConfig{Duration: r.cfg.RequestTimeout}),
		middleware.CORS(r.cfg.CORS),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
	)

	r.setupHealthCheck()

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RPS:   r.cfg.RateLimitRPS,
		Burst: r.cfg.RateLimitBurst,
	})

	// The completion links live at the root so emailed URLs stay short.
	// They are anonymous and rate limited per IP.
	public := r.engine.Group("")
	public.Use(rateLimiter.RateLimit())
	r.completionH.RegisterRoutes(public)

	api := r.engine.Group("/api/v1")
	api.Use(r.auth.Authenticate())
	r.nudgeH.RegisterRoutes(api)
	r.planH.RegisterRoutes(api)
	r.schedulerH.RegisterRoutes(api)
}

func (r *Router) setupHealthCheck() {
	health := r.engine.Group("/health")
	{
		health.GET("/live", r.h.LivenessCheck)
		health.GET("/ready", r.h.ReadinessCheck)
	}
	r.engine.GET("/metrics", r.h.MetricsHandler)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
