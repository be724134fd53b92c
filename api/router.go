package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter wires every route under /api plus /healthz and the /admin endpoints.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), ErrorHandler())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	admin := router.Group("/admin")
	admin.GET("/log-level", getLogLevel)
	admin.PUT("/log-level", setLogLevel)

	api := router.Group("/api")

	reservations := api.Group("/reservations")
	reservations.POST("", h.borrow)
	reservations.GET("", h.listReservations)
	reservations.GET("/:id", h.getReservation)
	reservations.POST("/:id/return", h.returnBook)

	api.GET("/customers/:id/reservations", h.listCustomerReservations)

	books := api.Group("/books")
	books.GET("", h.listBooks)
	books.POST("", h.createBook)
	books.GET("/:id", h.getBook)
	books.PUT("/:id", h.updateBook)
	books.DELETE("/:id", h.deleteBook)
	books.GET("/:id/audit-events", h.listEntityAuditEvents)

	categories := api.Group("/categories")
	categories.GET("", h.listCategories)
	categories.POST("", h.createCategory)
	categories.GET("/:id", h.getCategory)
	categories.PUT("/:id", h.updateCategory)
	categories.DELETE("/:id", h.deleteCategory)

	parties := api.Group("/parties")
	parties.GET("", h.listParties)
	parties.POST("", h.createParty)
	parties.GET("/:id", h.getParty)
	parties.PUT("/:id", h.updateParty)
	parties.DELETE("/:id", h.deleteParty)
	parties.POST("/:id/roles/:roleId", h.assignRole)
	parties.DELETE("/:id/roles/:roleId", h.removeRole)
	parties.GET("/:id/audit-events", h.listEntityAuditEvents)

	api.GET("/roles", h.listRoles)

	api.GET("/audit-events", h.listAuditEvents)
	api.GET("/audit-events/entities/:entityId", h.listEntityAuditEvents)

	return router
}
