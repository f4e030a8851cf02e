package controllers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cinnamon-lane/bakery-api/config"
	"github.com/cinnamon-lane/bakery-api/middleware"
	"github.com/cinnamon-lane/bakery-api/models"
)

// UpdateOrderStatusRequest represents the request body for advancing an order
type UpdateOrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// ListOrders handles GET /api/v1/orders - the kanban order queue, newest
// first, with line items and their product snapshots (staff only)
func ListOrders(c *gin.Context) {
	db := config.GetDB()

	var orders []models.Order
	if err := db.Preload("Items").Preload("Items.Product").
		Order("timestamp desc").Find(&orders).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": "Failed to load orders",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    orders,
	})
}

// UpdateOrderStatus handles PATCH /api/v1/orders/:id/status - moves an order
// one step forward in the PENDING -> BAKING -> OUT_FOR_DELIVERY -> DELIVERED
// sequence (staff only). Backward and skipping transitions are rejected and
// DELIVERED is terminal.
func UpdateOrderStatus(c *gin.Context) {
	orderID := c.Param("id")

	var req UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid request data",
				"details": err.Error(),
			},
		})
		return
	}

	db := config.GetDB()
	var order models.Order
	if err := db.First(&order, "id = ?", orderID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "ORDER_NOT_FOUND",
				"message": "Order not found",
			},
		})
		return
	}

	if !models.ValidStatusTransition(order.Status, req.Status) {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_STATUS_TRANSITION",
				"message": "Order status can only advance one step forward",
			},
		})
		return
	}

	order.Status = req.Status
	if err := db.Save(&order).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": "Failed to update order status",
			},
		})
		return
	}

	if staffID, err := middleware.GetUserID(c); err == nil {
		log.Printf("Order %s moved to %s by %s", order.ID, order.Status, staffID)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    order,
	})
}
