package controllers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cinnamon-lane/bakery-api/config"
	"github.com/cinnamon-lane/bakery-api/models"
	"github.com/cinnamon-lane/bakery-api/services"
	"github.com/cinnamon-lane/bakery-api/utils"
)

// UploadProductImage handles POST /api/v1/products/:id/image - uploads a
// product photo to S3 and stores its key on the product (staff only)
func UploadProductImage(c *gin.Context) {
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

	fileHeader, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "MISSING_FILE",
				"message": "An image file is required",
			},
		})
		return
	}

	if err := utils.ValidateImageFile(fileHeader); err != nil {
		uploadErr := err.(*utils.FileUploadError)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    uploadErr.Code,
				"message": uploadErr.Message,
			},
		})
		return
	}

	s3Service := services.GetS3Service()
	s3Key, err := s3Service.UploadFile(fileHeader)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "UPLOAD_ERROR",
				"message": "Failed to upload image",
			},
		})
		return
	}

	// Drop the previous image, if any; losing this cleanup only leaks an
	// object, it never fails the upload
	if product.ImageS3Key != nil {
		if err := s3Service.DeleteFile(*product.ImageS3Key); err != nil {
			log.Printf("Failed to delete old image %s: %v", *product.ImageS3Key, err)
		}
	}

	product.ImageS3Key = &s3Key
	if err := db.Save(&product).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": "Failed to save image reference",
			},
		})
		return
	}

	url, err := s3Service.GetPresignedURL(s3Key)
	if err != nil {
		log.Printf("Failed to presign uploaded image %s: %v", s3Key, err)
	} else {
		product.ImageURL = &url
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    product,
	})
}
