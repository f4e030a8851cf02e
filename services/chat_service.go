package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cinnamon-lane/bakery-api/config"
	"github.com/cinnamon-lane/bakery-api/models"
)

// maxToolHops caps multi-hop tool use so a model that never stops issuing
// tool calls cannot spin the loop forever
const maxToolHops = 5

// ChatMessage is one role-tagged entry in a session's message history
type ChatMessage struct {
	Role       string     `json:"role"` // system, user, assistant or tool
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a structured tool invocation issued by the model
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction carries the tool name and its JSON-encoded arguments
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// addToCartArgs is the typed argument record for the addToCart tool
type addToCartArgs struct {
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
}

// ChatError represents an assistant service error
type ChatError struct {
	Code    string
	Message string
}

func (e *ChatError) Error() string {
	return e.Message
}

var (
	// ErrChatBusy is returned when a message arrives while a previous one is
	// still being processed; the tool loop must complete before the next
	// user input is accepted.
	ErrChatBusy = &ChatError{Code: "CHAT_BUSY", Message: "A previous message is still being processed"}

	// ErrRateLimited maps the provider's quota exhaustion to a distinct
	// condition so the storefront can show a "too busy" reply instead of a
	// generic apology.
	ErrRateLimited = &ChatError{Code: "RATE_LIMITED", Message: "Assistant provider rate limit reached"}
)

// ChatInterface defines the assistant operations
type ChatInterface interface {
	CreateSession(ctx context.Context, cartID string) (*ChatSessionRecord, error)
	SendMessage(ctx context.Context, sessionID, text string) (string, error)
	PairingSuggestion(ctx context.Context, product models.Product) string
}

// ChatService runs "Chef Amara", the conversational assistant. Each session
// holds an append-only message history seeded once with the live menu; every
// send ships the entire history to the completion service and loops through
// any tool calls until the model produces a plain reply.
type ChatService struct {
	apiKey     string
	apiURL     string
	model      string
	httpClient *http.Client
	store      SessionStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var chatServiceInstance ChatInterface

// NewChatService creates an assistant service over the given session store
func NewChatService(cfg *config.Config, store SessionStore) *ChatService {
	return &ChatService{
		apiKey: cfg.GroqAPIKey,
		apiURL: cfg.GroqAPIURL,
		model:  cfg.GroqModel,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

// InitChatService initializes the process-wide assistant service
func InitChatService(cfg *config.Config, store SessionStore) ChatInterface {
	chatServiceInstance = NewChatService(cfg, store)
	return chatServiceInstance
}

// GetChatService returns the initialized assistant service
func GetChatService() ChatInterface {
	return chatServiceInstance
}

// SetChatService sets the assistant service instance (primarily for testing)
func SetChatService(service ChatInterface) {
	chatServiceInstance = service
}

// menuContext renders the active menu for the system prompt
func menuContext(products []models.Product) string {
	var b strings.Builder
	for _, p := range products {
		if !p.IsActive {
			continue
		}
		fmt.Fprintf(&b, "- %s (%s): KES %d. %s. Stock: %d\n", p.Name, p.Category, p.Price, p.Description, p.Stock)
	}
	return b.String()
}

// systemPrompt builds Chef Amara's instructions around the menu snapshot
func systemPrompt(products []models.Product) string {
	return fmt.Sprintf(`You are Chef Amara, the Executive Pastry Chef at "Cinnamon Lane", a boutique bakery in Nairobi.

Your Personality:
- You are warm, professional, and deeply passionate about ingredients.
- You describe food with sensory details (aroma, texture, warmth).
- You speak like a professional chef, not a generic AI. Use phrases like "freshly pulled," "perfect fermentation," "rich ganache."
- You are helpful and want to guide the customer to the perfect treat.

Your Task:
- Answer questions about the menu based on the context provided below.
- Suggest pairings.
- Help customers place orders using the 'addToCart' tool.
- If a customer asks for something not on the menu, politely suggest a similar alternative we do have.
- If an item has 0 stock, apologize profusely and suggest an alternative.

Current Menu Context:
%s`, menuContext(products))
}

// addToCartToolSchema is the tool declaration sent with every completion call
var addToCartToolSchema = map[string]any{
	"type": "function",
	"function": map[string]any{
		"name":        "addToCart",
		"description": "Add a pastry or item to the customers shopping cart. Use this when the customer explicitly asks to buy, order, or add something.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"productName": map[string]any{
					"type":        "string",
					"description": "The exact name of the product from the menu.",
				},
				"quantity": map[string]any{
					"type":        "number",
					"description": "The number of items to add. Default to 1 if not specified.",
				},
			},
			"required": []string{"productName"},
		},
	},
}

// CreateSession opens a new conversation for the given cart, seeding the
// system prompt with the current active-product menu. The snapshot is never
// refreshed for the life of the session.
func (s *ChatService) CreateSession(ctx context.Context, cartID string) (*ChatSessionRecord, error) {
	var products []models.Product
	db := config.GetDB()
	if err := db.Where("is_active = ?", true).Order("created_at asc").Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to load menu for chat session: %w", err)
	}

	rec := &ChatSessionRecord{
		ID:     uuid.NewString(),
		CartID: cartID,
		Messages: []ChatMessage{
			{Role: "system", Content: systemPrompt(products)},
		},
	}
	if err := s.store.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// sessionLock returns the per-session mutex, creating it on first use
func (s *ChatService) sessionLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

// forgetLock drops the per-session mutex once the store no longer knows the
// session, so expired conversations do not pin their locks forever
func (s *ChatService) forgetLock(id string) {
	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
}

// SendMessage appends the user's text, calls the completion service with the
// full history and resolves tool calls round by round until a reply carries
// none, then returns that reply's text. Only one message may be in flight per
// session; concurrent sends get ErrChatBusy.
func (s *ChatService) SendMessage(ctx context.Context, sessionID, text string) (string, error) {
	lock := s.sessionLock(sessionID)
	if !lock.TryLock() {
		return "", ErrChatBusy
	}
	defer lock.Unlock()

	rec, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.forgetLock(sessionID)
		}
		return "", err
	}

	rec.Messages = append(rec.Messages, ChatMessage{Role: "user", Content: text})

	var reply ChatMessage
	for hop := 0; ; hop++ {
		reply, err = s.complete(ctx, rec.Messages)
		if err != nil {
			return "", err
		}
		rec.Messages = append(rec.Messages, reply)

		if len(reply.ToolCalls) == 0 {
			break
		}

		if hop >= maxToolHops {
			// The saved history must stay well formed: every tool call needs
			// a tool result before the next user turn, so pending calls are
			// answered with a refusal instead of being dispatched.
			for _, call := range reply.ToolCalls {
				rec.Messages = append(rec.Messages, ChatMessage{
					Role:       "tool",
					ToolCallID: call.ID,
					Name:       call.Function.Name,
					Content:    "Error: too many consecutive tool calls. Reply to the customer directly.",
				})
			}
			break
		}

		for _, call := range reply.ToolCalls {
			result := s.dispatchToolCall(rec.CartID, call)
			rec.Messages = append(rec.Messages, ChatMessage{
				Role:       "tool",
				ToolCallID: call.ID,
				Name:       call.Function.Name,
				Content:    result,
			})
		}
	}

	if err := s.store.Save(ctx, rec); err != nil {
		return "", err
	}
	return reply.Content, nil
}

// dispatchToolCall interprets one named tool call against live catalog and
// cart state. Failures are reported back to the model as data so the
// conversation can continue; they are never raised as errors.
func (s *ChatService) dispatchToolCall(cartID string, call ToolCall) string {
	switch call.Function.Name {
	case "addToCart":
		var args addToCartArgs
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return fmt.Sprintf("Error: could not parse addToCart arguments: %v", err)
		}
		return s.addToCart(cartID, args)
	default:
		return fmt.Sprintf("Error: unknown tool %q.", call.Function.Name)
	}
}

// addToCart resolves the product by case-insensitive substring match over
// active product names (first match wins) and adds it to the session's cart
func (s *ChatService) addToCart(cartID string, args addToCartArgs) string {
	quantity := args.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	var products []models.Product
	db := config.GetDB()
	if err := db.Where("is_active = ?", true).Order("created_at asc").Find(&products).Error; err != nil {
		return fmt.Sprintf("Error: the menu is unavailable right now (%v).", err)
	}

	needle := strings.ToLower(args.ProductName)
	for _, p := range products {
		if !strings.Contains(strings.ToLower(p.Name), needle) {
			continue
		}
		if _, err := GetCartStore().AddItem(cartID, p, quantity); err != nil {
			return fmt.Sprintf("Error: could not add %s to the cart: %s.", p.Name, err.Error())
		}
		return fmt.Sprintf("Successfully added %d %s(s) to the cart.", quantity, p.Name)
	}
	return fmt.Sprintf("Error: Could not find product named %s.", args.ProductName)
}

// chatCompletionRequest is the OpenAI-compatible completions body
type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Tools       []any         `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

// chatCompletionResponse is the subset of the completions response we read
type chatCompletionResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// complete sends the entire history to the completion service and returns the
// assistant's reply
func (s *ChatService) complete(ctx context.Context, messages []ChatMessage) (ChatMessage, error) {
	return s.completion(ctx, chatCompletionRequest{
		Model:      s.model,
		Messages:   messages,
		Tools:      []any{addToCartToolSchema},
		ToolChoice: "auto",
	})
}

// completion performs one call against the completion service. Quota
// exhaustion (429 status or quota markers in the body) is reported as
// ErrRateLimited.
func (s *ChatService) completion(ctx context.Context, request chatCompletionRequest) (ChatMessage, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return ChatMessage{}, fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Add("Authorization", "Bearer "+s.apiKey)
	req.Header.Add("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("failed to read completion response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || isQuotaError(respBody) {
		return ChatMessage{}, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return ChatMessage{}, fmt.Errorf("completion service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return ChatMessage{}, fmt.Errorf("failed to decode completion response: %w", err)
	}
	if parsed.Error != nil {
		return ChatMessage{}, fmt.Errorf("completion service error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return ChatMessage{}, fmt.Errorf("completion response contained no choices")
	}

	msg := parsed.Choices[0].Message
	if msg.Role == "" {
		msg.Role = "assistant"
	}
	return msg, nil
}

// isQuotaError sniffs provider bodies for quota exhaustion markers
func isQuotaError(body []byte) bool {
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "quota") || strings.Contains(lower, "resource_exhausted")
}

// Canned pairing lines for when the sommelier cannot be reached
const (
	pairingKeyMissing = "Pairing suggestions unavailable (API Key missing)."
	pairingEmptyReply = "Pairs perfectly with our House Cold Brew."
	pairingErrorReply = "Pairs perfectly with a Double Espresso."
)

// PairingSuggestion asks for a single beverage pairing for a product. It is a
// one-shot call with no session and no tools, and it never fails: provider
// errors degrade to a canned pairing line.
func (s *ChatService) PairingSuggestion(ctx context.Context, product models.Product) string {
	if s.apiKey == "" {
		return pairingKeyMissing
	}

	prompt := fmt.Sprintf(`You are a sommelier for a high-end boutique bakery in Nairobi called "Cinnamon Lane".
Suggest a SINGLE beverage pairing for the following item: %q.
Description: %q.
The pairing should be specific (e.g., "Single Origin Ethiopian Pour-over" or "Iced Hibiscus Tea").
Keep it short, elegant, and appetizing. Maximum 15 words.
Format: "Pairs perfectly with [Beverage]."`, product.Name, product.Description)

	reply, err := s.completion(ctx, chatCompletionRequest{
		Model: s.model,
		Messages: []ChatMessage{
			{Role: "system", Content: "You are a professional sommelier for a bakery."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.7,
	})
	if err != nil {
		log.Printf("Pairing suggestion for %s failed: %v", product.Name, err)
		return pairingErrorReply
	}

	text := strings.TrimSpace(reply.Content)
	if text == "" {
		return pairingEmptyReply
	}
	return text
}
