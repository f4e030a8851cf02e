package services

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cinnamon-lane/bakery-api/models"
)

// BoxVariant tags cart lines that came out of a completed custom box,
// keeping them separate from standalone purchases of the same product.
const BoxVariant = "Custom Box"

// CartItem is a product snapshot plus quantity and an optional variant tag.
// Within a cart the pair (product ID, variant) is the dedup key: adding the
// same pair again merges quantities instead of duplicating the line.
type CartItem struct {
	models.Product
	Quantity int    `json:"quantity"`
	Variant  string `json:"variant,omitempty"`
}

// BoxState is the bounded-capacity selection buffer for a custom box.
// Items may repeat; completion requires the box to be exactly full.
type BoxState struct {
	IsOpen bool             `json:"isOpen"`
	Size   int              `json:"size"`
	Items  []models.Product `json:"items"`
}

// Cart is one customer session's cart plus box builder state
type Cart struct {
	ID    string     `json:"id"`
	Items []CartItem `json:"items"`
	Box   BoxState   `json:"box"`
}

// Subtotal sums the line extensions (price x quantity) of the cart
func (c Cart) Subtotal() int {
	sum := 0
	for _, item := range c.Items {
		sum += item.Price * item.Quantity
	}
	return sum
}

// CartError represents a cart or box operation error
type CartError struct {
	Code    string
	Message string
}

func (e *CartError) Error() string {
	return e.Message
}

var (
	ErrCartNotFound = &CartError{Code: "CART_NOT_FOUND", Message: "Cart session not found"}
	ErrOutOfStock   = &CartError{Code: "OUT_OF_STOCK", Message: "This item is currently out of stock"}
	ErrBadBoxSize   = &CartError{Code: "INVALID_BOX_SIZE", Message: "Box size must be 4, 6 or 12"}
	ErrBoxNotFull   = &CartError{Code: "BOX_NOT_FULL", Message: "The box must be full before it can be added to the cart"}
)

// --- Pure transitions ---
//
// Every mutation below takes the old cart value and returns a new one; the
// store applies them under its lock and replaces the whole value, so readers
// never observe a partially updated cart.

// addLine merges (product, variant) into the line list per the dedup rule
func addLine(items []CartItem, p models.Product, quantity int, variant string) []CartItem {
	out := make([]CartItem, len(items))
	copy(out, items)
	for i := range out {
		if out[i].ID == p.ID && out[i].Variant == variant {
			out[i].Quantity += quantity
			return out
		}
	}
	return append(out, CartItem{Product: p, Quantity: quantity, Variant: variant})
}

// removeLine drops the line matching (productID, variant), if any
func removeLine(items []CartItem, productID, variant string) []CartItem {
	out := make([]CartItem, 0, len(items))
	for _, item := range items {
		if item.ID == productID && item.Variant == variant {
			continue
		}
		out = append(out, item)
	}
	return out
}

// completeBox materializes a full box into quantity-1 box-variant lines and
// returns the merged cart lines alongside a closed, empty box
func completeBox(items []CartItem, box BoxState) ([]CartItem, BoxState) {
	for _, p := range box.Items {
		items = addLine(items, p, 1, BoxVariant)
	}
	return items, BoxState{}
}

// CartStore owns all live cart sessions. It is the single mutator context for
// cart and box state; every update goes through a pure transition applied
// under the lock.
type CartStore struct {
	mu    sync.RWMutex
	carts map[string]Cart
}

// NewCartStore creates an empty cart store
func NewCartStore() *CartStore {
	return &CartStore{carts: make(map[string]Cart)}
}

var cartStoreInstance = NewCartStore()

// GetCartStore returns the process-wide cart store
func GetCartStore() *CartStore {
	return cartStoreInstance
}

// SetCartStore replaces the process-wide cart store (primarily for testing)
func SetCartStore(s *CartStore) {
	cartStoreInstance = s
}

// Create opens a new empty cart session and returns it
func (s *CartStore) Create() Cart {
	cart := Cart{ID: uuid.NewString(), Items: []CartItem{}}
	s.mu.Lock()
	s.carts[cart.ID] = cart
	s.mu.Unlock()
	return cart
}

// Get returns a copy of the cart with the given ID
func (s *CartStore) Get(id string) (Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cart, ok := s.carts[id]
	if !ok {
		return Cart{}, ErrCartNotFound
	}
	return cart, nil
}

// update applies a transition to the stored cart under the lock
func (s *CartStore) update(id string, fn func(Cart) (Cart, error)) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.carts[id]
	if !ok {
		return Cart{}, ErrCartNotFound
	}
	updated, err := fn(cart)
	if err != nil {
		return cart, err
	}
	s.carts[id] = updated
	return updated, nil
}

// AddItem adds quantity of a product to the cart. Inactive or zero-stock
// products are never added.
func (s *CartStore) AddItem(id string, p models.Product, quantity int) (Cart, error) {
	if quantity <= 0 {
		quantity = 1
	}
	if !p.Purchasable() {
		return Cart{}, ErrOutOfStock
	}
	return s.update(id, func(c Cart) (Cart, error) {
		c.Items = addLine(c.Items, p, quantity, "")
		return c, nil
	})
}

// RemoveItem removes the (productID, variant) line from the cart
func (s *CartStore) RemoveItem(id, productID, variant string) (Cart, error) {
	return s.update(id, func(c Cart) (Cart, error) {
		c.Items = removeLine(c.Items, productID, variant)
		return c, nil
	})
}

// OpenBox resets the box builder to empty with the chosen capacity
func (s *CartStore) OpenBox(id string, size int) (Cart, error) {
	if size != 4 && size != 6 && size != 12 {
		return Cart{}, ErrBadBoxSize
	}
	return s.update(id, func(c Cart) (Cart, error) {
		c.Box = BoxState{IsOpen: true, Size: size, Items: []models.Product{}}
		return c, nil
	})
}

// AddToBox appends a product to the open box. Full boxes and unpurchasable
// products make this a no-op.
func (s *CartStore) AddToBox(id string, p models.Product) (Cart, error) {
	return s.update(id, func(c Cart) (Cart, error) {
		if !c.Box.IsOpen || len(c.Box.Items) >= c.Box.Size || !p.Purchasable() {
			return c, nil
		}
		items := make([]models.Product, len(c.Box.Items), len(c.Box.Items)+1)
		copy(items, c.Box.Items)
		c.Box.Items = append(items, p)
		return c, nil
	})
}

// RemoveFromBox removes the box entry at index; out-of-range is a no-op
func (s *CartStore) RemoveFromBox(id string, index int) (Cart, error) {
	return s.update(id, func(c Cart) (Cart, error) {
		if index < 0 || index >= len(c.Box.Items) {
			return c, nil
		}
		items := make([]models.Product, 0, len(c.Box.Items)-1)
		items = append(items, c.Box.Items[:index]...)
		items = append(items, c.Box.Items[index+1:]...)
		c.Box.Items = items
		return c, nil
	})
}

// CompleteBox materializes a full box into the cart and closes the box
func (s *CartStore) CompleteBox(id string) (Cart, error) {
	return s.update(id, func(c Cart) (Cart, error) {
		if !c.Box.IsOpen || len(c.Box.Items) != c.Box.Size {
			return c, ErrBoxNotFull
		}
		c.Items, c.Box = completeBox(c.Items, c.Box)
		return c, nil
	})
}

// CancelBox discards all box selections without touching the cart
func (s *CartStore) CancelBox(id string) (Cart, error) {
	return s.update(id, func(c Cart) (Cart, error) {
		c.Box = BoxState{}
		return c, nil
	})
}

// Clear empties the cart lines after a successful checkout commit
func (s *CartStore) Clear(id string) error {
	_, err := s.update(id, func(c Cart) (Cart, error) {
		c.Items = []CartItem{}
		return c, nil
	})
	return err
}
