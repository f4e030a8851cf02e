package services

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MockMpesaService is a mock implementation of MpesaInterface for testing
type MockMpesaService struct {
	mu       sync.Mutex
	requests []MockPaymentRequest
	failWith error
}

// MockPaymentRequest records one RequestPayment call
type MockPaymentRequest struct {
	Phone  string
	Amount int
}

// NewMockMpesaService creates a new mock gateway client
func NewMockMpesaService() *MockMpesaService {
	return &MockMpesaService{}
}

// SetAsMockForTesting sets this mock as the global gateway client for testing
func (m *MockMpesaService) SetAsMockForTesting() {
	SetMpesaService(m)
}

// FailWith makes every subsequent RequestPayment call return err
func (m *MockMpesaService) FailWith(err error) {
	m.mu.Lock()
	m.failWith = err
	m.mu.Unlock()
}

// Requests returns the recorded payment requests
func (m *MockMpesaService) Requests() []MockPaymentRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockPaymentRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestPayment records the call and returns fresh request handles, or the
// configured error
func (m *MockMpesaService) RequestPayment(_ context.Context, phone string, amount int) (*STKPushResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	m.requests = append(m.requests, MockPaymentRequest{Phone: phone, Amount: amount})
	return &STKPushResult{
		MerchantRequestID: "mock-merchant-" + uuid.NewString(),
		CheckoutRequestID: "ws_CO_" + uuid.NewString(),
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}
