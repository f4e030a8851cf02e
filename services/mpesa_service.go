package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cinnamon-lane/bakery-api/config"
)

// AuthError indicates the payment provider rejected the credential exchange
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// GatewayError carries the provider's own message for a rejected push request
type GatewayError struct {
	Message string
}

func (e *GatewayError) Error() string {
	return e.Message
}

// STKPushResult holds the provider-assigned handles for an accepted push
// request. Acceptance is not payment confirmation; the result arrives later
// on the callback URL correlated by CheckoutRequestID.
type STKPushResult struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResponseCode      string `json:"ResponseCode"`
	CustomerMessage   string `json:"CustomerMessage"`
}

// MpesaInterface defines the payment gateway operations
type MpesaInterface interface {
	RequestPayment(ctx context.Context, phone string, amount int) (*STKPushResult, error)
}

// MpesaService is the Daraja STK push client. Each call is a fresh attempt:
// there is no retry logic and no idempotency key reuse, so callers must not
// invoke it twice for the same logical payment without explicit user action.
type MpesaService struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	shortCode      string
	passkey        string
	callbackURL    string
	httpClient     *http.Client
}

var mpesaServiceInstance MpesaInterface

// NewMpesaService creates a new M-Pesa gateway client
func NewMpesaService(cfg *config.Config) *MpesaService {
	return &MpesaService{
		baseURL:        cfg.MpesaBaseURL,
		consumerKey:    cfg.MpesaConsumerKey,
		consumerSecret: cfg.MpesaConsumerSec,
		shortCode:      cfg.MpesaShortCode,
		passkey:        cfg.MpesaPasskey,
		callbackURL:    cfg.MpesaCallbackURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// InitMpesaService initializes the process-wide gateway client
func InitMpesaService(cfg *config.Config) MpesaInterface {
	mpesaServiceInstance = NewMpesaService(cfg)
	return mpesaServiceInstance
}

// GetMpesaService returns the initialized gateway client
func GetMpesaService() MpesaInterface {
	return mpesaServiceInstance
}

// SetMpesaService sets the gateway client instance (primarily for testing)
func SetMpesaService(service MpesaInterface) {
	mpesaServiceInstance = service
}

// NormalizePhone converts a Kenyan phone number to the 2547XXXXXXXX wire
// format: non-digits are stripped, a leading 0 is replaced with 254, numbers
// already carrying the country code are left intact and bare numbers get the
// country code prepended.
func NormalizePhone(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	n := digits.String()
	switch {
	case strings.HasPrefix(n, "0"):
		return "254" + n[1:]
	case strings.HasPrefix(n, "254"):
		return n
	default:
		return "254" + n
	}
}

// getAccessToken performs the OAuth client-credentials exchange and returns a
// short-lived bearer token
func (s *MpesaService) getAccessToken(ctx context.Context) (string, error) {
	url := s.baseURL + "/oauth/v1/generate?grant_type=client_credentials"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create auth request: %w", err)
	}

	auth := base64.StdEncoding.EncodeToString([]byte(s.consumerKey + ":" + s.consumerSecret))
	req.Header.Add("Authorization", "Basic "+auth)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", &AuthError{Message: fmt.Sprintf("M-Pesa auth request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &AuthError{Message: fmt.Sprintf("M-Pesa auth returned status %d: %s", resp.StatusCode, string(body))}
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", &AuthError{Message: fmt.Sprintf("failed to decode M-Pesa auth response: %v", err)}
	}
	if tokenResp.AccessToken == "" {
		return "", &AuthError{Message: "M-Pesa auth response contained no access token"}
	}

	return tokenResp.AccessToken, nil
}

// stkPushPayload is the Daraja processrequest body
type stkPushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int    `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// RequestPayment obtains an access token and submits an STK push prompting the
// customer's phone to authorize the charge. It returns the provider's request
// handles on acceptance, an *AuthError if the credential exchange is rejected
// or a *GatewayError carrying the provider's message otherwise.
func (s *MpesaService) RequestPayment(ctx context.Context, phone string, amount int) (*STKPushResult, error) {
	token, err := s.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(s.shortCode + s.passkey + timestamp))
	formattedPhone := NormalizePhone(phone)

	payload := stkPushPayload{
		BusinessShortCode: s.shortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            formattedPhone,
		PartyB:            s.shortCode,
		PhoneNumber:       formattedPhone,
		CallBackURL:       s.callbackURL,
		AccountReference:  "CinnamonLane",
		TransactionDesc:   "Bakery Order Payment",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal STK push payload: %w", err)
	}

	url := s.baseURL + "/mpesa/stkpush/v1/processrequest"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create STK push request: %w", err)
	}
	req.Header.Add("Authorization", "Bearer "+token)
	req.Header.Add("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &GatewayError{Message: fmt.Sprintf("STK push request failed: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GatewayError{Message: fmt.Sprintf("failed to read STK push response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		// Surface the provider's own message where it gives one
		var providerErr struct {
			ErrorMessage string `json:"errorMessage"`
		}
		if err := json.Unmarshal(respBody, &providerErr); err == nil && providerErr.ErrorMessage != "" {
			return nil, &GatewayError{Message: providerErr.ErrorMessage}
		}
		return nil, &GatewayError{Message: fmt.Sprintf("STK push returned status %d", resp.StatusCode)}
	}

	var result STKPushResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &GatewayError{Message: fmt.Sprintf("failed to decode STK push response: %v", err)}
	}

	return &result, nil
}
