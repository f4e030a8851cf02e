package controllers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cinnamon-lane/bakery-api/config"
	"github.com/cinnamon-lane/bakery-api/models"
	"github.com/cinnamon-lane/bakery-api/services"
)

// ProductRequest represents the request body for creating or updating a product
type ProductRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Price       int    `json:"price" binding:"required,gt=0"`
	Image       string `json:"image"`
	HoverImage  string `json:"hoverImage"`
	Stock       *int   `json:"stock" binding:"required,gte=0"`
	IsActive    *bool  `json:"isActive"`
	Category    string `json:"category" binding:"required"`
}

// attachImageURLs fills the computed presigned URL for products with an
// uploaded image. Failures only cost the URL, never the listing.
func attachImageURLs(products []models.Product) {
	s3Service := services.GetS3Service()
	if s3Service == nil {
		return
	}
	for i := range products {
		if products[i].ImageS3Key == nil {
			continue
		}
		url, err := s3Service.GetPresignedURL(*products[i].ImageS3Key)
		if err != nil {
			log.Printf("Failed to presign image for product %s: %v", products[i].ID, err)
			continue
		}
		products[i].ImageURL = &url
	}
}

// ListProducts handles GET /api/v1/products - lists the catalog.
// ?active=true restricts to the customer-facing menu; staff see everything.
func ListProducts(c *gin.Context) {
	db := config.GetDB()

	query := db.Order("created_at asc")
	if c.Query("active") == "true" {
		query = query.Where("is_active = ?", true)
	}

	var products []models.Product
	if err := query.Find(&products).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": "Failed to load products",
			},
		})
		return
	}

	attachImageURLs(products)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    products,
	})
}

// CreateProduct handles POST /api/v1/products - adds a product (staff only)
func CreateProduct(c *gin.Context) {
	var req ProductRequest
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

	if !models.ValidCategory(req.Category) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Category must be pastry, bread or cake",
			},
		})
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	product := models.Product{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Image:       req.Image,
		HoverImage:  req.HoverImage,
		Stock:       *req.Stock,
		IsActive:    isActive,
		Category:    req.Category,
	}

	db := config.GetDB()
	if err := db.Create(&product).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": "Failed to create product",
			},
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    product,
	})
}

// UpdateProduct handles PUT /api/v1/products/:id - edits a product, including
// the inventory toggle and stock changes (staff only)
func UpdateProduct(c *gin.Context) {
	productID := c.Param("id")

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
		return
	}

	var req ProductRequest
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

	if !models.ValidCategory(req.Category) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Category must be pastry, bread or cake",
			},
		})
		return
	}

	product.Name = req.Name
	product.Description = req.Description
	product.Price = req.Price
	product.Image = req.Image
	product.HoverImage = req.HoverImage
	product.Stock = *req.Stock
	product.Category = req.Category
	if req.IsActive != nil {
		product.IsActive = *req.IsActive
	}

	if err := db.Save(&product).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": "Failed to update product",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    product,
	})
}
