package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codepulse/heartbeat-importer/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "import-api-service",
		})
	})

	importHandler := handler.NewImportHandler(deps)

	v1 := r.Group("/api/v1")
	{
		imports := v1.Group("/imports")
		{
			// POST /api/v1/imports - Submit an import job
			imports.POST("", importHandler.SubmitImport)

			// POST /api/v1/imports/status - Resolve a job's status
			imports.POST("/status", importHandler.ImportStatus)
		}
	}

	return r
}
