package controllers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinnamon-lane/bakery-api/services"
)

func setupCartRouter(t *testing.T) (*gin.Engine, *services.CartStore) {
	carts := services.NewCartStore()
	services.SetCartStore(carts)

	router := setupTestRouter()
	router.POST("/carts", CreateCart)
	router.GET("/carts/:id", GetCart)
	router.POST("/carts/:id/items", AddCartItem)
	router.DELETE("/carts/:id/items/:productId", RemoveCartItem)
	router.POST("/carts/:id/box", OpenBox)
	router.POST("/carts/:id/box/items", AddBoxItem)
	router.DELETE("/carts/:id/box/items/:index", RemoveBoxItem)
	router.POST("/carts/:id/box/complete", CompleteBox)
	router.DELETE("/carts/:id/box", CancelBox)
	return router, carts
}

func TestCreateAndGetCart(t *testing.T) {
	setupControllerTestDB(t)
	router, _ := setupCartRouter(t)

	w := doJSON(router, http.MethodPost, "/carts", nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	response := parseResponse(t, w)
	assert.True(t, response["success"].(bool))
	data := response["data"].(map[string]interface{})
	cart := data["cart"].(map[string]interface{})
	cartID := cart["id"].(string)
	require.NotEmpty(t, cartID)
	assert.Equal(t, float64(0), data["subtotal"])

	w = doJSON(router, http.MethodGet, "/carts/"+cartID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetCartNotFound(t *testing.T) {
	setupControllerTestDB(t)
	router, _ := setupCartRouter(t)

	w := doJSON(router, http.MethodGet, "/carts/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	response := parseResponse(t, w)
	errorData := response["error"].(map[string]interface{})
	assert.Equal(t, "CART_NOT_FOUND", errorData["code"])
}

func TestAddCartItemFlow(t *testing.T) {
	db := setupControllerTestDB(t)
	seedProduct(t, db, "p1", "Classic Cinnamon Roll", 450, 10)
	router, carts := setupCartRouter(t)
	cart := carts.Create()

	w := doJSON(router, http.MethodPost, "/carts/"+cart.ID+"/items", map[string]interface{}{
		"productId": "p1",
		"quantity":  2,
	})
	assert.Equal(t, http.StatusOK, w.Code)

	response := parseResponse(t, w)
	data := response["data"].(map[string]interface{})
	assert.Equal(t, float64(900), data["subtotal"])
	items := data["cart"].(map[string]interface{})["items"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, float64(2), items[0].(map[string]interface{})["quantity"])

	// Adding the same product again merges the line
	w = doJSON(router, http.MethodPost, "/carts/"+cart.ID+"/items", map[string]interface{}{
		"productId": "p1",
	})
	assert.Equal(t, http.StatusOK, w.Code)
	response = parseResponse(t, w)
	data = response["data"].(map[string]interface{})
	items = data["cart"].(map[string]interface{})["items"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, float64(3), items[0].(map[string]interface{})["quantity"])

	// Remove the line
	w = doJSON(router, http.MethodDelete, "/carts/"+cart.ID+"/items/p1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	response = parseResponse(t, w)
	data = response["data"].(map[string]interface{})
	assert.Empty(t, data["cart"].(map[string]interface{})["items"])
}

func TestAddCartItemErrors(t *testing.T) {
	db := setupControllerTestDB(t)
	seedProduct(t, db, "p1", "Classic Cinnamon Roll", 450, 10)
	seedProduct(t, db, "p5", "Espresso Walnut Cake", 550, 0)

	router, carts := setupCartRouter(t)
	cart := carts.Create()

	t.Run("Fail with missing productId", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/carts/"+cart.ID+"/items", map[string]interface{}{
			"quantity": 1,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Fail with unknown product", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/carts/"+cart.ID+"/items", map[string]interface{}{
			"productId": "missing",
		})
		assert.Equal(t, http.StatusNotFound, w.Code)

		response := parseResponse(t, w)
		errorData := response["error"].(map[string]interface{})
		assert.Equal(t, "PRODUCT_NOT_FOUND", errorData["code"])
	})

	t.Run("Fail with out-of-stock product", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/carts/"+cart.ID+"/items", map[string]interface{}{
			"productId": "p5",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		response := parseResponse(t, w)
		errorData := response["error"].(map[string]interface{})
		assert.Equal(t, "OUT_OF_STOCK", errorData["code"])
	})

	t.Run("Fail with unknown cart", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/carts/missing/items", map[string]interface{}{
			"productId": "p1",
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestBoxFlow(t *testing.T) {
	db := setupControllerTestDB(t)
	seedProduct(t, db, "p1", "Classic Cinnamon Roll", 450, 10)
	seedProduct(t, db, "p2", "Cardamom Knot", 350, 12)

	router, carts := setupCartRouter(t)
	cart := carts.Create()

	// Open a box of 4
	w := doJSON(router, http.MethodPost, "/carts/"+cart.ID+"/box", map[string]interface{}{"size": 4})
	assert.Equal(t, http.StatusOK, w.Code)
	response := parseResponse(t, w)
	box := response["data"].(map[string]interface{})["cart"].(map[string]interface{})["box"].(map[string]interface{})
	assert.Equal(t, true, box["isOpen"])
	assert.Equal(t, float64(4), box["size"])

	// Completing early is rejected
	w = doJSON(router, http.MethodPost, "/carts/"+cart.ID+"/box/complete", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	response = parseResponse(t, w)
	errorData := response["error"].(map[string]interface{})
	assert.Equal(t, "BOX_NOT_FULL", errorData["code"])

	// Fill it: roll, knot, roll, roll
	for _, id := range []string{"p1", "p2", "p1", "p1"} {
		w = doJSON(router, http.MethodPost, "/carts/"+cart.ID+"/box/items", map[string]interface{}{
			"productId": id,
		})
		assert.Equal(t, http.StatusOK, w.Code)
	}

	// Complete into the cart
	w = doJSON(router, http.MethodPost, "/carts/"+cart.ID+"/box/complete", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	response = parseResponse(t, w)
	data := response["data"].(map[string]interface{})
	cartData := data["cart"].(map[string]interface{})
	items := cartData["items"].([]interface{})
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, "Custom Box", item.(map[string]interface{})["variant"])
	}
	assert.Equal(t, false, cartData["box"].(map[string]interface{})["isOpen"])
	// 3 rolls + 1 knot
	assert.Equal(t, float64(3*450+350), data["subtotal"])
}

func TestBoxValidation(t *testing.T) {
	db := setupControllerTestDB(t)
	seedProduct(t, db, "p1", "Classic Cinnamon Roll", 450, 10)
	router, carts := setupCartRouter(t)
	cart := carts.Create()

	t.Run("Fail with invalid box size", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/carts/"+cart.ID+"/box", map[string]interface{}{"size": 8})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		response := parseResponse(t, w)
		errorData := response["error"].(map[string]interface{})
		assert.Equal(t, "INVALID_BOX_SIZE", errorData["code"])
	})

	t.Run("Fail with non-numeric box index", func(t *testing.T) {
		w := doJSON(router, http.MethodDelete, "/carts/"+cart.ID+"/box/items/abc", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Cancel discards selections", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/carts/"+cart.ID+"/box", map[string]interface{}{"size": 6})
		assert.Equal(t, http.StatusOK, w.Code)
		w = doJSON(router, http.MethodPost, "/carts/"+cart.ID+"/box/items", map[string]interface{}{
			"productId": "p1",
		})
		assert.Equal(t, http.StatusOK, w.Code)

		w = doJSON(router, http.MethodDelete, "/carts/"+cart.ID+"/box", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		response := parseResponse(t, w)
		box := response["data"].(map[string]interface{})["cart"].(map[string]interface{})["box"].(map[string]interface{})
		assert.Equal(t, false, box["isOpen"])
	})
}
