package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/payrelay/payrelay/infra/logger"
	"github.com/payrelay/payrelay/provider"
)

// orderNoAttempts bounds the collision-check loop for gateway order numbers.
const orderNoAttempts = 10

// CreatePaymentRequest is the merchant-facing payment creation input.
type CreatePaymentRequest struct {
	MerchantID    string  `json:"merchantId" validate:"required"`
	Gateway       string  `json:"gateway" validate:"required"`
	OrderID       string  `json:"orderId,omitempty"`
	LinkID        string  `json:"linkId,omitempty"`
	Amount        float64 `json:"amount" validate:"required,gt=0"`
	Currency      string  `json:"currency" validate:"required,len=3"`
	Description   string  `json:"description,omitempty"`
	CustomerEmail string  `json:"customerEmail,omitempty" validate:"omitempty,email"`
	CustomerName  string  `json:"customerName,omitempty"`
}

// WebhookOutcome reports what one inbound webhook did to the payment record.
type WebhookOutcome struct {
	PaymentID    string          `json:"paymentId"`
	Status       provider.Status `json:"status"`
	Transitioned bool            `json:"transitioned"`
}

// PaymentService ties the engine together: it owns the initialized gateway
// instances, creates payments (link creation, order number generation, timer
// registration) and routes inbound webhooks through the resolver, the
// normalizer and the transition applier.
type PaymentService struct {
	store    Store
	resolver *Resolver
	applier  *Applier
	watcher  *StatusWatcher

	mu       sync.RWMutex
	gateways map[string]provider.Gateway
}

// NewPaymentService creates a new payment service
func NewPaymentService(store Store, resolver *Resolver, applier *Applier) *PaymentService {
	return &PaymentService{
		store:    store,
		resolver: resolver,
		applier:  applier,
		gateways: make(map[string]provider.Gateway),
	}
}

// AttachWatcher binds the status watcher used for polling gateways.
func (s *PaymentService) AttachWatcher(w *StatusWatcher) {
	s.watcher = w
}

// AddGateway creates a gateway from the registry and initializes it with the
// given configuration.
func (s *PaymentService) AddGateway(name string, conf map[string]string) error {
	gw, err := provider.CreateGateway(name)
	if err != nil {
		return err
	}
	if err := gw.Initialize(conf); err != nil {
		return fmt.Errorf("initialize gateway %s: %w", name, err)
	}

	s.mu.Lock()
	s.gateways[name] = gw
	s.mu.Unlock()
	return nil
}

// Gateway returns an initialized gateway by name.
func (s *PaymentService) Gateway(name string) (provider.Gateway, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gw, ok := s.gateways[name]
	if !ok {
		return nil, fmt.Errorf("payment gateway '%s' is not configured", name)
	}
	return gw, nil
}

// Gateways returns all initialized gateway instances keyed by name.
func (s *PaymentService) Gateways() map[string]provider.Gateway {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]provider.Gateway, len(s.gateways))
	for name, gw := range s.gateways {
		out[name] = gw
	}
	return out
}

// CreatePayment creates the internal record, asks the gateway for a checkout
// link, and registers the polling schedule when the gateway has no webhook
// push.
func (s *PaymentService) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	gw, err := s.Gateway(req.Gateway)
	if err != nil {
		return nil, err
	}

	if req.LinkID != "" {
		link, err := s.store.GetLink(ctx, req.LinkID)
		if err != nil {
			return nil, err
		}
		if link.Status != LinkActive {
			return nil, ErrLinkCompleted
		}
	}

	orderNo, err := s.generateOrderNo(ctx)
	if err != nil {
		return nil, err
	}

	result, err := gw.CreateLink(ctx, provider.LinkRequest{
		GatewayOrderNo: orderNo,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Description:    req.Description,
		CustomerEmail:  req.CustomerEmail,
		CustomerName:   req.CustomerName,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	payment := &Payment{
		ID:               uuid.New().String(),
		MerchantID:       req.MerchantID,
		OrderID:          req.OrderID,
		GatewayOrderNo:   orderNo,
		GatewayPaymentID: result.GatewayPaymentID,
		Gateway:          req.Gateway,
		LinkID:           req.LinkID,
		Amount:           req.Amount,
		Currency:         req.Currency,
		Status:           provider.StatusPending,
		PayURL:           result.PayURL,
		CustomerEmail:    req.CustomerEmail,
		CustomerName:     req.CustomerName,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("persist payment: %w", err)
	}

	if gw.RequiresPolling() && s.watcher != nil {
		s.watcher.Register(payment)
	}

	logger.Info("Payment created", logger.LogContext{
		Gateway:   payment.Gateway,
		PaymentID: payment.ID,
		Fields:    map[string]any{"order_no": orderNo, "amount": payment.Amount, "currency": payment.Currency},
	})

	return payment, nil
}

// GetPayment returns one payment by internal id.
func (s *PaymentService) GetPayment(ctx context.Context, id string) (*Payment, error) {
	return s.store.GetPayment(ctx, id)
}

// ProcessWebhook routes one inbound provider webhook through normalization,
// identity resolution and the transition applier. Replays of the same
// webhook converge to "status unchanged".
func (s *PaymentService) ProcessWebhook(ctx context.Context, gatewayName string, payload map[string]string) (*WebhookOutcome, error) {
	gw, err := s.Gateway(gatewayName)
	if err != nil {
		return nil, err
	}

	data, err := gw.NormalizeWebhook(payload)
	if err != nil {
		return nil, &provider.ProviderError{Gateway: gatewayName, Message: "malformed webhook payload", Err: err}
	}

	raw, _ := json.Marshal(payload)
	s.auditInbound(ctx, gatewayName, data.ExternalPaymentRef, data.RawStatus, string(raw))

	payment, err := s.resolver.Resolve(ctx, gatewayName, data.ExternalPaymentRef)
	if err != nil {
		return nil, err
	}

	newStatus := gw.NormalizeStatus(data.RawStatus)
	transitioned, err := s.applier.Apply(ctx, payment.ID, newStatus, EnrichmentFromDetails(data.RawDetails), string(raw))
	if err != nil {
		return nil, err
	}

	return &WebhookOutcome{
		PaymentID:    payment.ID,
		Status:       newStatus,
		Transitioned: transitioned,
	}, nil
}

func (s *PaymentService) auditInbound(ctx context.Context, gateway, ref, rawStatus, rawPayload string) {
	entry := &AuditEntry{
		Gateway:    gateway,
		PaymentRef: ref,
		Kind:       AuditWebhookIn,
		Note:       "raw status: " + rawStatus,
		RawPayload: rawPayload,
	}
	if err := s.store.InsertAudit(ctx, entry); err != nil {
		logger.Warn("Failed to audit inbound webhook", logger.LogContext{
			Gateway: gateway,
			Fields:  map[string]any{"ref": ref, "error": err.Error()},
		})
	}
}

// generateOrderNo produces the fixed-width two-segment numeric token used as
// the gateway order identifier, looping until it does not collide with an
// existing record.
func (s *PaymentService) generateOrderNo(ctx context.Context) (string, error) {
	for attempt := 0; attempt < orderNoAttempts; attempt++ {
		orderNo := fmt.Sprintf("%06d-%06d", rand.Intn(1000000), rand.Intn(1000000))

		exists, err := s.store.OrderNoExists(ctx, orderNo)
		if err != nil {
			return "", fmt.Errorf("check order number: %w", err)
		}
		if !exists {
			return orderNo, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique order number in %d attempts", orderNoAttempts)
}
