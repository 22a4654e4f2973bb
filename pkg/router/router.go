package router

import (
	"net/http"

	"user-management-api/backend/internal/api"
	"user-management-api/backend/pkg/di"
	apperrors "user-management-api/backend/pkg/errors"
	"user-management-api/backend/pkg/logger"
	"user-management-api/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	// Configure Gin mode based on environment
	if container.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Access log and telemetry wrap everything, including the pipeline's own
	// rejections and the failure barrier's 500s
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(container.Telemetry.Middleware())
	engine.Use(corsMiddleware())

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	// Operational endpoints stay outside the request pipeline
	healthHandler := api.NewHealthHandler(r.Container.Health, r.Container.Config.Server.Version)
	healthHandler.RegisterHealthRoutes(r.Engine)
	r.Engine.GET("/metrics", gin.WrapH(r.Container.Metrics.Handler()))

	userController := api.NewUserController(
		r.Container.UserService,
		r.Container.Config.Server.FaultRouteEnabled(),
	)

	apiGroup := r.Engine.Group("/api", r.Container.Pipeline.Handlers()...)
	userController.RegisterRoutes(apiGroup)

	// Unknown routes still go through the pipeline before the 404
	r.Engine.NoRoute(r.Container.Pipeline.Wrap(notFound)...)
}

func notFound(c *gin.Context) {
	apperrors.Abort(c, apperrors.NewNotFoundError(apperrors.CodeNotFound, apperrors.MsgNotFound))
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Authorization, Origin, "+logger.RequestIDHeader)
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Location, Retry-After, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, "+middleware.CorrelationIDHeader+", "+logger.RequestIDHeader)
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
