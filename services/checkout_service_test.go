package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cinnamon-lane/bakery-api/config"
	"github.com/cinnamon-lane/bakery-api/models"
)

func setupCheckoutTest(t *testing.T) (*CheckoutService, *CartStore, *MockMpesaService, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Product{}, &models.Customer{}, &models.Order{}, &models.OrderItem{}))
	config.SetDB(db)

	carts := NewCartStore()
	service := NewCheckoutService(carts, DefaultCheckoutTimeout, DefaultCheckoutRetention)
	mock := NewMockMpesaService()
	mock.SetAsMockForTesting()
	return service, carts, mock, db
}

func seedProduct(t *testing.T, db *gorm.DB, id, name string, price, stock int) models.Product {
	p := testProduct(id, name, price, stock)
	require.NoError(t, db.Create(&p).Error)
	return p
}

func TestStartRejectsInvalidPhone(t *testing.T) {
	service, carts, mock, db := setupCheckoutTest(t)
	roll := seedProduct(t, db, "p1", "Classic Cinnamon Roll", 450, 10)
	cart := carts.Create()
	_, err := carts.AddItem(cart.ID, roll, 1)
	require.NoError(t, err)

	_, err = service.Start(context.Background(), cart.ID, "12345")
	assert.ErrorIs(t, err, ErrInvalidPhone)

	// No payment was attempted and the cart is untouched
	assert.Empty(t, mock.Requests())
	current, err := carts.Get(cart.ID)
	require.NoError(t, err)
	assert.Len(t, current.Items, 1)
}

func TestStartRejectsEmptyCart(t *testing.T) {
	service, carts, mock, _ := setupCheckoutTest(t)
	cart := carts.Create()

	_, err := service.Start(context.Background(), cart.ID, "0712345678")
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Empty(t, mock.Requests())
}

func TestStartRejectsUnknownCart(t *testing.T) {
	service, _, _, _ := setupCheckoutTest(t)

	_, err := service.Start(context.Background(), "missing", "0712345678")
	assert.ErrorIs(t, err, ErrCartNotFound)
}

func TestStartGatewayRejectionLeavesNoTrace(t *testing.T) {
	service, carts, mock, db := setupCheckoutTest(t)
	roll := seedProduct(t, db, "p1", "Classic Cinnamon Roll", 450, 10)
	cart := carts.Create()
	_, err := carts.AddItem(cart.ID, roll, 2)
	require.NoError(t, err)

	mock.FailWith(&GatewayError{Message: "Invalid Amount"})

	_, err = service.Start(context.Background(), cart.ID, "0712345678")
	var gatewayErr *GatewayError
	assert.ErrorAs(t, err, &gatewayErr)

	// No order, no counter movement, cart intact for resubmission
	var orderCount int64
	db.Model(&models.Order{}).Count(&orderCount)
	assert.Zero(t, orderCount)

	var customer models.Customer
	require.NoError(t, db.First(&customer, "phone = ?", "0712345678").Error)
	assert.Zero(t, customer.PurchaseCount)

	current, err := carts.Get(cart.ID)
	require.NoError(t, err)
	assert.Len(t, current.Items, 1)
}

func TestStartFreezesTotals(t *testing.T) {
	service, carts, mock, db := setupCheckoutTest(t)
	roll := seedProduct(t, db, "p1", "Classic Cinnamon Roll", 450, 10)
	cart := carts.Create()
	_, err := carts.AddItem(cart.ID, roll, 2)
	require.NoError(t, err)

	session, err := service.Start(context.Background(), cart.ID, "0712345678")
	require.NoError(t, err)

	assert.Equal(t, CheckoutAwaitingPayment, session.State)
	assert.Equal(t, 900, session.Subtotal)
	assert.Equal(t, 0, session.Discount)
	assert.Equal(t, 1050, session.Total)

	// The gateway was asked for exactly the frozen total
	requests := mock.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, 1050, requests[0].Amount)
}

func TestStartAppliesLoyaltyDiscount(t *testing.T) {
	service, carts, _, db := setupCheckoutTest(t)
	roll := seedProduct(t, db, "p1", "Classic Cinnamon Roll", 450, 10)
	require.NoError(t, db.Create(&models.Customer{Phone: "0712345678", PurchaseCount: 12}).Error)

	cart := carts.Create()
	_, err := carts.AddItem(cart.ID, roll, 2)
	require.NoError(t, err)

	session, err := service.Start(context.Background(), cart.ID, "0712345678")
	require.NoError(t, err)

	// subtotal 900, 10% discount 90, delivery 150
	assert.Equal(t, 90, session.Discount)
	assert.Equal(t, 960, session.Total)
}

func TestCallbackSuccessCommitsOrder(t *testing.T) {
	service, carts, _, db := setupCheckoutTest(t)
	roll := seedProduct(t, db, "p1", "Classic Cinnamon Roll", 450, 10)
	cart := carts.Create()
	_, err := carts.AddItem(cart.ID, roll, 2)
	require.NoError(t, err)

	session, err := service.Start(context.Background(), cart.ID, "0712345678")
	require.NoError(t, err)

	err = service.HandleCallback(PaymentCallback{
		CheckoutRequestID: session.CheckoutRequestID,
		ResultCode:        0,
		ResultDesc:        "The service request is processed successfully.",
	})
	require.NoError(t, err)

	resolved, err := service.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, CheckoutCompleted, resolved.State)
	require.NotEmpty(t, resolved.OrderID)

	var order models.Order
	require.NoError(t, db.Preload("Items").First(&order, "id = ?", resolved.OrderID).Error)
	assert.Equal(t, "0712345678", order.CustomerPhone)
	assert.Equal(t, 1050, order.Total)
	assert.Equal(t, models.StatusPending, order.Status)
	require.Len(t, order.Items, 1)
	assert.Equal(t, roll.ID, order.Items[0].ProductID)
	assert.Equal(t, 2, order.Items[0].Quantity)
	assert.Equal(t, 450, order.Items[0].PriceAtTime)

	var product models.Product
	require.NoError(t, db.First(&product, "id = ?", roll.ID).Error)
	assert.Equal(t, 8, product.Stock)

	var customer models.Customer
	require.NoError(t, db.First(&customer, "phone = ?", "0712345678").Error)
	assert.Equal(t, 1, customer.PurchaseCount)

	// Cart is only cleared after the commit
	current, err := carts.Get(cart.ID)
	require.NoError(t, err)
	assert.Empty(t, current.Items)
}

func TestCallbackFailureKeepsCart(t *testing.T) {
	service, carts, _, db := setupCheckoutTest(t)
	roll := seedProduct(t, db, "p1", "Classic Cinnamon Roll", 450, 10)
	cart := carts.Create()
	_, err := carts.AddItem(cart.ID, roll, 1)
	require.NoError(t, err)

	session, err := service.Start(context.Background(), cart.ID, "0712345678")
	require.NoError(t, err)

	err = service.HandleCallback(PaymentCallback{
		CheckoutRequestID: session.CheckoutRequestID,
		ResultCode:        1032,
		ResultDesc:        "Request cancelled by user",
	})
	require.NoError(t, err)

	resolved, err := service.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, CheckoutFailed, resolved.State)
	assert.Equal(t, "Request cancelled by user", resolved.FailureReason)

	var orderCount int64
	db.Model(&models.Order{}).Count(&orderCount)
	assert.Zero(t, orderCount)

	current, err := carts.Get(cart.ID)
	require.NoError(t, err)
	assert.Len(t, current.Items, 1)
}

func TestCallbackUnknownRequestIgnored(t *testing.T) {
	service, _, _, db := setupCheckoutTest(t)

	err := service.HandleCallback(PaymentCallback{
		CheckoutRequestID: "ws_CO_unknown",
		ResultCode:        0,
	})
	assert.NoError(t, err)

	var orderCount int64
	db.Model(&models.Order{}).Count(&orderCount)
	assert.Zero(t, orderCount)
}

func TestCallbackDuplicateResolvedOnce(t *testing.T) {
	service, carts, _, db := setupCheckoutTest(t)
	roll := seedProduct(t, db, "p1", "Classic Cinnamon Roll", 450, 10)
	cart := carts.Create()
	_, err := carts.AddItem(cart.ID, roll, 1)
	require.NoError(t, err)

	session, err := service.Start(context.Background(), cart.ID, "0712345678")
	require.NoError(t, err)

	cb := PaymentCallback{CheckoutRequestID: session.CheckoutRequestID, ResultCode: 0}
	require.NoError(t, service.HandleCallback(cb))
	require.NoError(t, service.HandleCallback(cb))

	var orderCount int64
	db.Model(&models.Order{}).Count(&orderCount)
	assert.Equal(t, int64(1), orderCount)
}

func TestCommitInsufficientStockRollsBack(t *testing.T) {
	service, carts, _, db := setupCheckoutTest(t)
	roll := seedProduct(t, db, "p1", "Classic Cinnamon Roll", 450, 2)
	cart := carts.Create()
	_, err := carts.AddItem(cart.ID, roll, 2)
	require.NoError(t, err)

	session, err := service.Start(context.Background(), cart.ID, "0712345678")
	require.NoError(t, err)

	// Another order drains the stock while we wait for the callback
	require.NoError(t, db.Model(&models.Product{}).Where("id = ?", roll.ID).Update("stock", 1).Error)

	err = service.HandleCallback(PaymentCallback{
		CheckoutRequestID: session.CheckoutRequestID,
		ResultCode:        0,
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)

	resolved, err := service.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, CheckoutFailed, resolved.State)
	assert.Empty(t, resolved.OrderID)

	// The whole transaction rolled back
	var orderCount, itemCount int64
	db.Model(&models.Order{}).Count(&orderCount)
	db.Model(&models.OrderItem{}).Count(&itemCount)
	assert.Zero(t, orderCount)
	assert.Zero(t, itemCount)

	var product models.Product
	require.NoError(t, db.First(&product, "id = ?", roll.ID).Error)
	assert.Equal(t, 1, product.Stock)

	var customer models.Customer
	require.NoError(t, db.First(&customer, "phone = ?", "0712345678").Error)
	assert.Zero(t, customer.PurchaseCount)

	current, err := carts.Get(cart.ID)
	require.NoError(t, err)
	assert.Len(t, current.Items, 1)
}

func TestCheckoutTimesOutWithoutCallback(t *testing.T) {
	_, carts, _, db := setupCheckoutTest(t)
	service := NewCheckoutService(carts, 20*time.Millisecond, DefaultCheckoutRetention)

	roll := seedProduct(t, db, "p1", "Classic Cinnamon Roll", 450, 10)
	cart := carts.Create()
	_, err := carts.AddItem(cart.ID, roll, 1)
	require.NoError(t, err)

	session, err := service.Start(context.Background(), cart.ID, "0712345678")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		resolved, err := service.Get(session.ID)
		return err == nil && resolved.State == CheckoutTimedOut
	}, time.Second, 10*time.Millisecond)

	// A late callback is ignored once the session timed out
	require.NoError(t, service.HandleCallback(PaymentCallback{
		CheckoutRequestID: session.CheckoutRequestID,
		ResultCode:        0,
	}))
	resolved, err := service.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, CheckoutTimedOut, resolved.State)

	var orderCount int64
	db.Model(&models.Order{}).Count(&orderCount)
	assert.Zero(t, orderCount)

	current, err := carts.Get(cart.ID)
	require.NoError(t, err)
	assert.Len(t, current.Items, 1)
}

func TestResolvedCheckoutPrunedAfterRetention(t *testing.T) {
	_, carts, _, db := setupCheckoutTest(t)
	service := NewCheckoutService(carts, DefaultCheckoutTimeout, 20*time.Millisecond)

	roll := seedProduct(t, db, "p1", "Classic Cinnamon Roll", 450, 10)
	cart := carts.Create()
	_, err := carts.AddItem(cart.ID, roll, 1)
	require.NoError(t, err)

	session, err := service.Start(context.Background(), cart.ID, "0712345678")
	require.NoError(t, err)

	pending := carts.Create()
	_, err = carts.AddItem(pending.ID, roll, 1)
	require.NoError(t, err)
	awaiting, err := service.Start(context.Background(), pending.ID, "0798765432")
	require.NoError(t, err)

	require.NoError(t, service.HandleCallback(PaymentCallback{
		CheckoutRequestID: session.CheckoutRequestID,
		ResultCode:        1032,
		ResultDesc:        "Request cancelled by user",
	}))

	// The resolved session stops being pollable after the retention window
	assert.Eventually(t, func() bool {
		_, err := service.Get(session.ID)
		return err == ErrCheckoutNotFound
	}, time.Second, 10*time.Millisecond)

	// A session still awaiting its callback is untouched
	current, err := service.Get(awaiting.ID)
	require.NoError(t, err)
	assert.Equal(t, CheckoutAwaitingPayment, current.State)
}

func TestGetUnknownCheckout(t *testing.T) {
	service, _, _, _ := setupCheckoutTest(t)

	_, err := service.Get("missing")
	assert.ErrorIs(t, err, ErrCheckoutNotFound)
}
