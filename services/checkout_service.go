package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cinnamon-lane/bakery-api/config"
	"github.com/cinnamon-lane/bakery-api/models"
)

// Checkout states. A session is created in AWAITING_PAYMENT once the gateway
// has acknowledged the push request; it is resolved by the payment callback
// (PAID, then COMPLETED after the order commit) or by the timeout path
// (TIMED_OUT). FAILED covers callback-reported rejection and commit errors.
// There is no backward transition and no automatic retry: the customer
// resubmits from an intact cart.
const (
	CheckoutAwaitingPayment = "AWAITING_PAYMENT"
	CheckoutPaid            = "PAID"
	CheckoutCompleted       = "COMPLETED"
	CheckoutFailed          = "FAILED"
	CheckoutTimedOut        = "TIMED_OUT"
)

// DefaultCheckoutTimeout is how long a session waits for the payment callback
// before giving up
const DefaultCheckoutTimeout = 2 * time.Minute

// DefaultCheckoutRetention is how long a resolved session stays pollable
// before it is pruned
const DefaultCheckoutRetention = 30 * time.Minute

// CheckoutError represents a checkout validation or commit error
type CheckoutError struct {
	Code    string
	Message string
}

func (e *CheckoutError) Error() string {
	return e.Message
}

var (
	ErrInvalidPhone      = &CheckoutError{Code: "VALIDATION_ERROR", Message: "Please enter a valid M-Pesa phone number"}
	ErrEmptyCart         = &CheckoutError{Code: "EMPTY_CART", Message: "Cannot check out an empty cart"}
	ErrCheckoutNotFound  = &CheckoutError{Code: "CHECKOUT_NOT_FOUND", Message: "Checkout session not found"}
	ErrInsufficientStock = &CheckoutError{Code: "INSUFFICIENT_STOCK", Message: "One of the items in your order just sold out"}
)

// CheckoutSession tracks one checkout attempt from payment request to order
// commit. Totals are frozen at creation so the discount shown to the customer
// is exactly the discount applied at commit.
type CheckoutSession struct {
	ID                string     `json:"id"`
	CartID            string     `json:"cartId"`
	Phone             string     `json:"phone"`
	Items             []CartItem `json:"items"`
	Subtotal          int        `json:"subtotal"`
	Discount          int        `json:"discount"`
	Total             int        `json:"total"`
	State             string     `json:"state"`
	FailureReason     string     `json:"failureReason,omitempty"`
	OrderID           string     `json:"orderId,omitempty"`
	CheckoutRequestID string     `json:"-"`
	CreatedAt         time.Time  `json:"createdAt"`

	timer *time.Timer
}

// PaymentCallback is the result the gateway posts back for an STK push,
// correlated to a session by CheckoutRequestID. ResultCode 0 means the
// customer authorized the charge.
type PaymentCallback struct {
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
}

// CheckoutService owns all in-flight checkout sessions
type CheckoutService struct {
	mu        sync.Mutex
	sessions  map[string]*CheckoutSession
	byRequest map[string]string // CheckoutRequestID -> session ID
	timeout   time.Duration
	retention time.Duration
	carts     *CartStore
}

var checkoutServiceInstance *CheckoutService

// NewCheckoutService creates a checkout service over the given cart store.
// Sessions await their callback for timeout; resolved sessions stay pollable
// for retention and are then pruned.
func NewCheckoutService(carts *CartStore, timeout, retention time.Duration) *CheckoutService {
	if timeout <= 0 {
		timeout = DefaultCheckoutTimeout
	}
	if retention <= 0 {
		retention = DefaultCheckoutRetention
	}
	return &CheckoutService{
		sessions:  make(map[string]*CheckoutSession),
		byRequest: make(map[string]string),
		timeout:   timeout,
		retention: retention,
		carts:     carts,
	}
}

// InitCheckoutService initializes the process-wide checkout service
func InitCheckoutService(carts *CartStore) *CheckoutService {
	checkoutServiceInstance = NewCheckoutService(carts, DefaultCheckoutTimeout, DefaultCheckoutRetention)
	return checkoutServiceInstance
}

// GetCheckoutService returns the initialized checkout service
func GetCheckoutService() *CheckoutService {
	return checkoutServiceInstance
}

// SetCheckoutService sets the checkout service instance (primarily for testing)
func SetCheckoutService(s *CheckoutService) {
	checkoutServiceInstance = s
}

// validPhone requires at least 10 digits after stripping everything else
func validPhone(phone string) bool {
	digits := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 10
}

// Start begins a checkout attempt: validate the phone, snapshot the cart,
// freeze totals from the customer's current purchase count, request the push
// payment and register the session awaiting its callback.
//
// A gateway rejection aborts with no side effects: no session is kept, no
// order is created, the loyalty counter is untouched and the cart stays
// intact for resubmission.
func (s *CheckoutService) Start(ctx context.Context, cartID, phone string) (*CheckoutSession, error) {
	if !validPhone(phone) {
		return nil, ErrInvalidPhone
	}

	cart, err := s.carts.Get(cartID)
	if err != nil {
		return nil, err
	}
	if len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}

	// Remember the customer for future sessions and read their prior purchase
	// count. Eligibility reflects completed orders only, never the one in
	// progress.
	db := config.GetDB()
	customer := models.Customer{Phone: phone}
	if err := db.FirstOrCreate(&customer, models.Customer{Phone: phone}).Error; err != nil {
		return nil, fmt.Errorf("failed to upsert customer: %w", err)
	}

	subtotal := cart.Subtotal()
	discount := LoyaltyDiscount(subtotal, customer.PurchaseCount)
	total := subtotal + DeliveryFee - discount

	result, err := GetMpesaService().RequestPayment(ctx, phone, total)
	if err != nil {
		return nil, err
	}

	session := &CheckoutSession{
		ID:                uuid.NewString(),
		CartID:            cartID,
		Phone:             phone,
		Items:             cart.Items,
		Subtotal:          subtotal,
		Discount:          discount,
		Total:             total,
		State:             CheckoutAwaitingPayment,
		CheckoutRequestID: result.CheckoutRequestID,
		CreatedAt:         time.Now(),
	}
	session.timer = time.AfterFunc(s.timeout, func() {
		s.expire(session.ID)
	})

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.byRequest[session.CheckoutRequestID] = session.ID
	s.mu.Unlock()

	log.Printf("Checkout %s awaiting payment for %s (total KES %d)", session.ID, phone, total)
	return s.snapshot(session.ID)
}

// Get returns a copy of the session with the given ID
func (s *CheckoutService) Get(id string) (*CheckoutSession, error) {
	return s.snapshot(id)
}

func (s *CheckoutService) snapshot(id string) (*CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrCheckoutNotFound
	}
	copied := *session
	copied.timer = nil
	return &copied, nil
}

// expire moves a still-unresolved session to TIMED_OUT. The cart is left
// intact; a late callback for a timed-out session is ignored.
func (s *CheckoutService) expire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok || session.State != CheckoutAwaitingPayment {
		return
	}
	session.State = CheckoutTimedOut
	session.FailureReason = "Payment confirmation was not received in time"
	delete(s.byRequest, session.CheckoutRequestID)
	s.scheduleCleanup(id)
	log.Printf("Checkout %s timed out waiting for payment callback", id)
}

// scheduleCleanup prunes a resolved session after the retention window so the
// session map does not grow for the life of the process. Sessions still
// awaiting their callback are never pruned here.
func (s *CheckoutService) scheduleCleanup(id string) {
	time.AfterFunc(s.retention, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		session, ok := s.sessions[id]
		if !ok || session.State == CheckoutAwaitingPayment {
			return
		}
		delete(s.sessions, id)
	})
}

// HandleCallback resolves the session correlated with the callback's
// CheckoutRequestID. Unknown or already-resolved requests are acknowledged
// and ignored. A zero ResultCode commits the order; anything else fails the
// session with the provider's description and leaves the cart intact.
func (s *CheckoutService) HandleCallback(cb PaymentCallback) error {
	s.mu.Lock()
	id, ok := s.byRequest[cb.CheckoutRequestID]
	if ok {
		delete(s.byRequest, cb.CheckoutRequestID)
	}
	session := s.sessions[id]
	if !ok || session == nil || session.State != CheckoutAwaitingPayment {
		s.mu.Unlock()
		return nil
	}
	if session.timer != nil {
		session.timer.Stop()
	}
	if cb.ResultCode != 0 {
		session.State = CheckoutFailed
		session.FailureReason = cb.ResultDesc
		s.scheduleCleanup(id)
		s.mu.Unlock()
		log.Printf("Checkout %s failed: %s", id, cb.ResultDesc)
		return nil
	}
	session.State = CheckoutPaid
	s.mu.Unlock()

	return s.commit(id)
}

// commit writes the order in a single transaction: order row, line items with
// price snapshots, an atomic purchase-counter increment and a guarded stock
// decrement per line. Any failure rolls the whole order back and fails the
// session; the cart is only cleared after the transaction succeeds.
func (s *CheckoutService) commit(id string) error {
	s.mu.Lock()
	session, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return ErrCheckoutNotFound
	}
	phone := session.Phone
	items := session.Items
	total := session.Total
	cartID := session.CartID
	s.mu.Unlock()

	orderID := "ord_" + uuid.NewString()
	db := config.GetDB()
	err := db.Transaction(func(tx *gorm.DB) error {
		order := models.Order{
			ID:            orderID,
			CustomerPhone: phone,
			Total:         total,
			Status:        models.StatusPending,
			Timestamp:     time.Now(),
		}
		if err := tx.Create(&order).Error; err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		for _, item := range items {
			var variant *string
			if item.Variant != "" {
				v := item.Variant
				variant = &v
			}
			orderItem := models.OrderItem{
				OrderID:     orderID,
				ProductID:   item.Product.ID,
				Quantity:    item.Quantity,
				Variant:     variant,
				PriceAtTime: item.Price,
			}
			if err := tx.Create(&orderItem).Error; err != nil {
				return fmt.Errorf("failed to create order item: %w", err)
			}

			// Compare-and-decrement so concurrent checkouts cannot oversell
			res := tx.Model(&models.Product{}).
				Where("id = ? AND stock >= ?", item.Product.ID, item.Quantity).
				Update("stock", gorm.Expr("stock - ?", item.Quantity))
			if res.Error != nil {
				return fmt.Errorf("failed to decrement stock: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrInsufficientStock
			}
		}

		res := tx.Model(&models.Customer{}).
			Where("phone = ?", phone).
			Update("purchase_count", gorm.Expr("purchase_count + 1"))
		if res.Error != nil {
			return fmt.Errorf("failed to increment purchase count: %w", res.Error)
		}
		return nil
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok = s.sessions[id]
	if !ok {
		return ErrCheckoutNotFound
	}
	if err != nil {
		session.State = CheckoutFailed
		session.FailureReason = err.Error()
		s.scheduleCleanup(id)
		log.Printf("Checkout %s commit failed: %v", id, err)
		return err
	}

	session.State = CheckoutCompleted
	session.OrderID = orderID
	s.scheduleCleanup(id)
	if clearErr := s.carts.Clear(cartID); clearErr != nil {
		// Order is committed; a missing cart session only means there is
		// nothing left to clear
		log.Printf("Checkout %s: could not clear cart %s: %v", id, cartID, clearErr)
	}
	log.Printf("Checkout %s completed, order %s created for %s", id, orderID, phone)
	return nil
}
