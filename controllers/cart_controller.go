package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cinnamon-lane/bakery-api/config"
	"github.com/cinnamon-lane/bakery-api/models"
	"github.com/cinnamon-lane/bakery-api/services"
)

// AddCartItemRequest represents the request body for adding a cart line
type AddCartItemRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity"`
}

// OpenBoxRequest represents the request body for opening the box builder
type OpenBoxRequest struct {
	Size int `json:"size" binding:"required"`
}

// AddBoxItemRequest represents the request body for adding a box selection
type AddBoxItemRequest struct {
	ProductID string `json:"productId" binding:"required"`
}

// cartResponse renders a cart with its running subtotal
func cartResponse(cart services.Cart) gin.H {
	return gin.H{
		"success": true,
		"data": gin.H{
			"cart":     cart,
			"subtotal": cart.Subtotal(),
		},
	}
}

// cartErrorResponse maps cart service errors onto the JSON envelope
func cartErrorResponse(c *gin.Context, err error) {
	var cartErr *services.CartError
	if errors.As(err, &cartErr) {
		status := http.StatusBadRequest
		if cartErr == services.ErrCartNotFound {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{
			"success": false,
			"error": gin.H{
				"code":    cartErr.Code,
				"message": cartErr.Message,
			},
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "CART_ERROR",
			"message": "Failed to update cart",
		},
	})
}

// findProduct loads a product or writes a not-found envelope
func findProduct(c *gin.Context, productID string) (models.Product, bool) {
	db := config.GetDB()
	var product models.Product
	if err := db.First(&product, "id = ?", productID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "PRODUCT_NOT_FOUND",
				"message": "Product not found",
			},
		})
		return models.Product{}, false
	}
	return product, true
}

// CreateCart handles POST /api/v1/carts - opens a new cart session
func CreateCart(c *gin.Context) {
	cart := services.GetCartStore().Create()
	c.JSON(http.StatusCreated, cartResponse(cart))
}

// GetCart handles GET /api/v1/carts/:id
func GetCart(c *gin.Context) {
	cart, err := services.GetCartStore().Get(c.Param("id"))
	if err != nil {
		cartErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, cartResponse(cart))
}

// AddCartItem handles POST /api/v1/carts/:id/items - adds a product to the
// cart, merging quantities for repeated (product, variant) pairs
func AddCartItem(c *gin.Context) {
	var req AddCartItemRequest
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

	product, ok := findProduct(c, req.ProductID)
	if !ok {
		return
	}

	cart, err := services.GetCartStore().AddItem(c.Param("id"), product, req.Quantity)
	if err != nil {
		cartErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, cartResponse(cart))
}

// RemoveCartItem handles DELETE /api/v1/carts/:id/items/:productId - removes
// the line matching the product and optional ?variant= tag
func RemoveCartItem(c *gin.Context) {
	cart, err := services.GetCartStore().RemoveItem(c.Param("id"), c.Param("productId"), c.Query("variant"))
	if err != nil {
		cartErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, cartResponse(cart))
}

// OpenBox handles POST /api/v1/carts/:id/box - opens the box builder with a
// capacity of 4, 6 or 12, discarding any previous selections
func OpenBox(c *gin.Context) {
	var req OpenBoxRequest
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

	cart, err := services.GetCartStore().OpenBox(c.Param("id"), req.Size)
	if err != nil {
		cartErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, cartResponse(cart))
}

// AddBoxItem handles POST /api/v1/carts/:id/box/items - appends a selection
// to the open box. Full boxes and out-of-stock products leave it unchanged.
func AddBoxItem(c *gin.Context) {
	var req AddBoxItemRequest
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

	product, ok := findProduct(c, req.ProductID)
	if !ok {
		return
	}

	cart, err := services.GetCartStore().AddToBox(c.Param("id"), product)
	if err != nil {
		cartErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, cartResponse(cart))
}

// RemoveBoxItem handles DELETE /api/v1/carts/:id/box/items/:index - removes
// the selection at that position; out-of-range indexes are a no-op
func RemoveBoxItem(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Box item index must be a number",
			},
		})
		return
	}

	cart, err := services.GetCartStore().RemoveFromBox(c.Param("id"), index)
	if err != nil {
		cartErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, cartResponse(cart))
}

// CompleteBox handles POST /api/v1/carts/:id/box/complete - turns a full box
// into "Custom Box" cart lines and closes the builder
func CompleteBox(c *gin.Context) {
	cart, err := services.GetCartStore().CompleteBox(c.Param("id"))
	if err != nil {
		cartErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, cartResponse(cart))
}

// CancelBox handles DELETE /api/v1/carts/:id/box - discards all selections
// without touching the cart
func CancelBox(c *gin.Context) {
	cart, err := services.GetCartStore().CancelBox(c.Param("id"))
	if err != nil {
		cartErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, cartResponse(cart))
}
