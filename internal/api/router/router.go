package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jobradar/importer/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "job-import-api",
		})
	})

	importHandler := handler.NewImportHandler(deps)

	api := r.Group("/api")
	{
		imp := api.Group("/import")
		{
			// POST /api/import/trigger - run fetch+enqueue for all feeds
			imp.POST("/trigger", importHandler.TriggerImport)

			// GET /api/import/history - paginated run list
			imp.GET("/history", importHandler.GetImportHistory)

			// GET /api/import/stats - aggregate counters
			imp.GET("/stats", importHandler.GetImportStats)
		}
	}

	return r
}
