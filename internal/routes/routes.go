package routes

import (
	"github.com/gin-gonic/gin"

	handler "society-ledger-backend/internal/handlers"
)

func RegisterRoutes(r *gin.Engine, bankHandler *handler.BankHandler, unitHandler *handler.UnitHandler) {
	api := r.Group("/api")

	// Health check
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Bank ledger routes
	bank := api.Group("/bank")
	bank.POST("/sync", bankHandler.SyncNow)
	bank.GET("", bankHandler.List)
	bank.GET("/unmapped", bankHandler.Unmapped)
	bank.GET("/interest", bankHandler.Interest)

	// Unit mapping routes
	unit := api.Group("/unit")
	unit.GET("/find/:payerName", unitHandler.Find)
	unit.POST("/mappings", unitHandler.Train)
	unit.GET("/mappings", unitHandler.List)
}
