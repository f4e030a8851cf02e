package controllers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cinnamon-lane/bakery-api/config"
	"github.com/cinnamon-lane/bakery-api/models"
	"github.com/cinnamon-lane/bakery-api/services"
)

// ChatGreeting opens every new conversation
const ChatGreeting = "Bon jour! I am Chef Amara. The ovens are warm and the cinnamon is fragrant today. How may I assist you with your selection?"

// In-character fallbacks. Raw provider errors never reach the storefront;
// a quota-exhausted provider gets a distinct "too busy" line.
const (
	chatApologyReply = "My apologies, the kitchen is quite loud right now. Could you repeat that?"
	chatBusyReply    = "I am currently assisting too many customers. Please allow me a moment (Rate Limit Reached)."
)

// CreateChatSessionRequest represents the request body for opening a chat
type CreateChatSessionRequest struct {
	CartID string `json:"cartId" binding:"required"`
}

// SendChatMessageRequest represents the request body for a chat message
type SendChatMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// CreateChatSession handles POST /api/v1/chat/sessions - opens a conversation
// with Chef Amara seeded with the current menu
func CreateChatSession(c *gin.Context) {
	var req CreateChatSessionRequest
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

	if _, err := services.GetCartStore().Get(req.CartID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "CART_NOT_FOUND",
				"message": "Cart session not found",
			},
		})
		return
	}

	rec, err := services.GetChatService().CreateSession(c.Request.Context(), req.CartID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "CHAT_ERROR",
				"message": "Failed to open chat session",
			},
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"sessionId": rec.ID,
			"greeting":  ChatGreeting,
		},
	})
}

// SendChatMessage handles POST /api/v1/chat/sessions/:id/messages - runs one
// full assistant round trip, tool calls included, and returns the reply.
// Provider failures come back as in-character chat replies so the
// conversation degrades gracefully instead of erroring.
func SendChatMessage(c *gin.Context) {
	var req SendChatMessageRequest
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

	reply, err := services.GetChatService().SendMessage(c.Request.Context(), c.Param("id"), req.Text)
	if err != nil {
		var storeErr *services.SessionStoreError
		switch {
		case errors.Is(err, services.ErrChatBusy):
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "CHAT_BUSY",
					"message": "Please wait for the current reply to finish",
				},
			})
		case errors.As(err, &storeErr):
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    storeErr.Code,
					"message": storeErr.Message,
				},
			})
		case errors.Is(err, services.ErrRateLimited):
			c.JSON(http.StatusOK, gin.H{
				"success": true,
				"data":    gin.H{"reply": chatBusyReply},
			})
		default:
			log.Printf("Chat error: %v", err)
			c.JSON(http.StatusOK, gin.H{
				"success": true,
				"data":    gin.H{"reply": chatApologyReply},
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"reply": reply},
	})
}

// GetPairingSuggestion handles GET /api/v1/products/:id/pairing - asks the
// assistant for a one-line beverage pairing for a product card. The service
// always returns a suggestion, falling back to a house recommendation when
// the provider is unavailable.
func GetPairingSuggestion(c *gin.Context) {
	db := config.GetDB()
	var product models.Product
	if err := db.First(&product, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "PRODUCT_NOT_FOUND",
				"message": "Product not found",
			},
		})
		return
	}

	pairing := services.GetChatService().PairingSuggestion(c.Request.Context(), product)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"pairing": pairing},
	})
}
