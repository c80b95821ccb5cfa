package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/slabworks/cardvault-backend/internal/http/handlers"
	httpMW "github.com/slabworks/cardvault-backend/internal/http/middleware"
)

type RouterConfig struct {
	PreviewHandler *httpH.PreviewHandler
	ReplaceHandler *httpH.ReplaceHandler
	HealthHandler  *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(otelgin.Middleware("cardvault-backend"))
	r.Use(httpMW.AttachRequestContext())
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	// Operator surface. Authn/authz is terminated upstream; these routes
	// trust the gateway.
	admin := r.Group("/api/admin")
	{
		if cfg.PreviewHandler != nil {
			admin.POST("/sets/replace/preview", cfg.PreviewHandler.ComputePreview)
		}
		if cfg.ReplaceHandler != nil {
			admin.POST("/sets/replace", cfg.ReplaceHandler.CreateJob)
			admin.GET("/sets/:setId/replace-jobs", cfg.ReplaceHandler.ListJobs)
			admin.GET("/replace-jobs/:id", cfg.ReplaceHandler.GetJob)
			admin.POST("/replace-jobs/:id/cancel", cfg.ReplaceHandler.CancelJob)
		}
	}

	return r
}
