package router

import (
	"github.com/cuongbtq/labelscan/internal/api/handler"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/health", healthHandler.Health)

	analysisHandler := handler.NewAnalysisHandler(deps)

	submit := []gin.HandlerFunc{analysisHandler.Submit}
	if deps.RateLimit > 0 {
		burst := deps.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter := rate.NewLimiter(rate.Limit(deps.RateLimit), burst)
		submit = append([]gin.HandlerFunc{RateLimitMiddleware(limiter, deps.Logger)}, submit...)
	}

	// POST /upload - kept for clients of the first release
	r.POST("/upload", submit...)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		analyses := v1.Group("/analyses")
		{
			// POST /api/v1/analyses - Submit a label photo
			analyses.POST("", submit...)

			// GET /api/v1/analyses - List jobs with filtering and pagination
			analyses.GET("", analysisHandler.ListJobs)

			// GET /api/v1/analyses/:job_id - Poll a job
			analyses.GET("/:job_id", analysisHandler.GetJob)
		}
	}

	return r
}
