package main

import (
	"log"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/cinnamon-lane/bakery-api/config"
	"github.com/cinnamon-lane/bakery-api/controllers"
	"github.com/cinnamon-lane/bakery-api/middleware"
	"github.com/cinnamon-lane/bakery-api/models"
	"github.com/cinnamon-lane/bakery-api/services"
)

func main() {
	log.Println("Starting Cinnamon Lane bakery API server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := config.ConnectDatabase(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	db := config.GetDB()
	if err := db.AutoMigrate(&models.Product{}, &models.Customer{}, &models.Order{}, &models.OrderItem{}); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Database migration completed successfully")

	// External collaborators
	if _, err := services.InitS3Service(); err != nil {
		log.Printf("S3 unavailable, product image uploads disabled: %v", err)
	}
	services.InitMpesaService(cfg)

	var sessionStore services.SessionStore
	if redisStore, err := services.NewRedisSessionStore(cfg.RedisURL); err != nil {
		log.Printf("Redis unavailable, chat sessions held in memory: %v", err)
		sessionStore = services.NewMemorySessionStore()
	} else {
		sessionStore = redisStore
	}
	services.InitChatService(cfg, sessionStore)
	services.InitCheckoutService(services.GetCartStore())

	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:5173", "https://cinnamonlane.co.ke"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	chatLimiter := middleware.NewRateLimiter(rate.Limit(1), 5)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", healthCheck)

		// Storefront
		v1.GET("/products", controllers.ListProducts)
		v1.GET("/products/:id/pairing", chatLimiter.Limit(), controllers.GetPairingSuggestion)
		v1.GET("/loyalty/:phone", controllers.GetLoyalty)

		v1.POST("/carts", controllers.CreateCart)
		v1.GET("/carts/:id", controllers.GetCart)
		v1.POST("/carts/:id/items", controllers.AddCartItem)
		v1.DELETE("/carts/:id/items/:productId", controllers.RemoveCartItem)
		v1.POST("/carts/:id/box", controllers.OpenBox)
		v1.POST("/carts/:id/box/items", controllers.AddBoxItem)
		v1.DELETE("/carts/:id/box/items/:index", controllers.RemoveBoxItem)
		v1.POST("/carts/:id/box/complete", controllers.CompleteBox)
		v1.DELETE("/carts/:id/box", controllers.CancelBox)

		v1.POST("/checkout", controllers.StartCheckout)
		v1.GET("/checkout/:id", controllers.GetCheckout)
		v1.POST("/mpesa/callback", controllers.MpesaCallback)

		chat := v1.Group("/chat")
		chat.Use(chatLimiter.Limit())
		{
			chat.POST("/sessions", controllers.CreateChatSession)
			chat.POST("/sessions/:id/messages", controllers.SendChatMessage)
		}

		// Staff dashboard
		staff := v1.Group("/")
		staff.Use(middleware.EnsureValidToken(cfg))
		staff.Use(middleware.RequireScope("manage:bakery"))
		{
			staff.POST("/products", controllers.CreateProduct)
			staff.PUT("/products/:id", controllers.UpdateProduct)
			staff.POST("/products/:id/image", controllers.UploadProductImage)
			staff.GET("/orders", controllers.ListOrders)
			staff.PATCH("/orders/:id/status", controllers.UpdateOrderStatus)
		}
	}

	port := ":" + cfg.Port
	log.Printf("Server is running on http://localhost%s", port)
	if err := router.Run(port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// healthCheck handles the health check endpoint
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Cinnamon Lane API is running",
	})
}
