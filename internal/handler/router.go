package handler

import (
	"posledger/internal/config"
	"posledger/internal/infrastructure/lock"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRouter wires the settlement API.
func SetupRouter(db *gorm.DB, locker lock.Locker, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(db, locker, cfg)

	api := r.Group("/api/v1")
	{
		transactions := api.Group("/transactions")
		{
			transactions.POST("/:id/settlements", h.CreateSettlement)
			transactions.GET("/:id/settlements", h.GetSettlements)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
