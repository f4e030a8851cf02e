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

// StartCheckoutRequest represents the request body for starting a checkout
type StartCheckoutRequest struct {
	CartID string `json:"cartId" binding:"required"`
	Phone  string `json:"phone" binding:"required"`
}

// mpesaCallbackBody is the Daraja STK push result envelope
type mpesaCallbackBody struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// StartCheckout handles POST /api/v1/checkout - validates the phone, freezes
// totals, sends the M-Pesa push and returns a session to poll. A gateway
// rejection is surfaced with the provider's message and leaves the cart,
// orders and loyalty counter untouched.
func StartCheckout(c *gin.Context) {
	var req StartCheckoutRequest
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

	session, err := services.GetCheckoutService().Start(c.Request.Context(), req.CartID, req.Phone)
	if err != nil {
		var checkoutErr *services.CheckoutError
		var cartErr *services.CartError
		var authErr *services.AuthError
		var gatewayErr *services.GatewayError
		switch {
		case errors.As(err, &checkoutErr):
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    checkoutErr.Code,
					"message": checkoutErr.Message,
				},
			})
		case errors.As(err, &cartErr):
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    cartErr.Code,
					"message": cartErr.Message,
				},
			})
		case errors.As(err, &authErr):
			c.JSON(http.StatusBadGateway, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "GATEWAY_AUTH_ERROR",
					"message": "Could not authenticate with the payment provider. Please try again.",
				},
			})
		case errors.As(err, &gatewayErr):
			// The provider's message is shown to the customer verbatim
			c.JSON(http.StatusBadGateway, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "GATEWAY_ERROR",
					"message": gatewayErr.Message,
				},
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "CHECKOUT_ERROR",
					"message": "Failed to start checkout",
				},
			})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"data":    session,
	})
}

// GetCheckout handles GET /api/v1/checkout/:id - the storefront polls this
// while the customer authorizes the push prompt on their phone
func GetCheckout(c *gin.Context) {
	session, err := services.GetCheckoutService().Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "CHECKOUT_NOT_FOUND",
				"message": "Checkout session not found",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    session,
	})
}

// MpesaCallback handles POST /api/v1/mpesa/callback - the payment result the
// provider posts back. Unknown request IDs are acknowledged and ignored; the
// provider expects a zero ResultCode acknowledgment either way.
func MpesaCallback(c *gin.Context) {
	var body mpesaCallbackBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"ResultCode": 1,
			"ResultDesc": "Invalid callback body",
		})
		return
	}

	cb := services.PaymentCallback{
		CheckoutRequestID: body.Body.StkCallback.CheckoutRequestID,
		ResultCode:        body.Body.StkCallback.ResultCode,
		ResultDesc:        body.Body.StkCallback.ResultDesc,
	}
	if err := services.GetCheckoutService().HandleCallback(cb); err != nil {
		// Commit failures are tracked on the session; the provider still
		// gets an acknowledgment so it stops retrying
		c.JSON(http.StatusOK, gin.H{
			"ResultCode": 0,
			"ResultDesc": "Accepted",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ResultCode": 0,
		"ResultDesc": "Accepted",
	})
}

// GetLoyalty handles GET /api/v1/loyalty/:phone - the storefront checks this
// live as the phone field changes so the displayed discount always matches
// what checkout will apply
func GetLoyalty(c *gin.Context) {
	phone := c.Param("phone")

	db := config.GetDB()
	var customer models.Customer
	if err := db.First(&customer, "phone = ?", phone).Error; err != nil {
		// Unknown phone numbers simply have no purchases yet
		customer = models.Customer{Phone: phone, PurchaseCount: 0}
	}

	data := gin.H{
		"phone":          customer.Phone,
		"purchase_count": customer.PurchaseCount,
		"eligible":       services.LoyaltyEligible(customer.PurchaseCount),
	}
	if subtotalParam := c.Query("subtotal"); subtotalParam != "" {
		if subtotal, err := strconv.Atoi(subtotalParam); err == nil {
			data["discount"] = services.LoyaltyDiscount(subtotal, customer.PurchaseCount)
			data["total"] = services.OrderTotal(subtotal, customer.PurchaseCount)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
