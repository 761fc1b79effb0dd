package stripegate

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/payrelay/payrelay/provider"
)

// statusTable maps Stripe PaymentIntent statuses to canonical statuses.
// Only "succeeded" is a settled signal; the requires_* family means the
// buyer still has something to do.
var statusTable = provider.StatusTable{
	"requires_payment_method": provider.StatusPending,
	"requires_confirmation":   provider.StatusProcessing,
	"requires_action":         provider.StatusProcessing,
	"requires_capture":        provider.StatusProcessing,
	"processing":              provider.StatusProcessing,
	"succeeded":               provider.StatusPaid,
	"canceled":                provider.StatusFailed,
}

// StripeGateway adapts Stripe Checkout behind the Gateway contract using the
// official stripe-go SDK. Stripe pushes webhooks for every intent change.
type StripeGateway struct {
	secretKey string
	sc        *client.API
}

// NewGateway creates a new Stripe payment gateway
func NewGateway() provider.Gateway {
	return &StripeGateway{}
}

// Initialize sets up the Stripe gateway with authentication credentials
func (g *StripeGateway) Initialize(conf map[string]string) error {
	g.secretKey = conf["secretKey"]
	if g.secretKey == "" {
		return errors.New("stripegate: secretKey is required")
	}

	g.sc = &client.API{}
	g.sc.Init(g.secretKey, nil)
	return nil
}

func (g *StripeGateway) Name() string { return "stripegate" }

func (g *StripeGateway) RequiresPolling() bool { return false }

// CreateLink creates a Stripe Checkout session and returns its hosted URL
func (g *StripeGateway) CreateLink(ctx context.Context, request provider.LinkRequest) (*provider.LinkResult, error) {
	params := &stripe.CheckoutSessionParams{
		Params:            stripe.Params{Context: ctx},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(request.GatewayOrderNo),
		SuccessURL:        stripe.String(request.CallbackURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(request.Currency)),
					UnitAmount: stripe.Int64(int64(request.Amount * 100)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(request.Description),
					},
				},
			},
		},
	}
	if request.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(request.CustomerEmail)
	}

	sess, err := g.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, g.wrapError(err)
	}
	if sess.URL == "" {
		return nil, &provider.ProviderError{Gateway: g.Name(), Message: "checkout session missing url"}
	}

	return &provider.LinkResult{
		GatewayPaymentID: sess.ID,
		PayURL:           sess.URL,
	}, nil
}

// CheckStatus retrieves the underlying PaymentIntent. Stripe is never polled
// by the status watcher, but the lookup is kept for operator tooling.
func (g *StripeGateway) CheckStatus(ctx context.Context, gatewayPaymentID string) (*provider.StatusResult, error) {
	sess, err := g.sc.CheckoutSessions.Get(gatewayPaymentID, &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, g.wrapError(err)
	}

	raw := string(sess.Status)
	var amount float64
	if sess.PaymentIntent != nil {
		raw = string(sess.PaymentIntent.Status)
		amount = float64(sess.PaymentIntent.Amount) / 100
	}

	return &provider.StatusResult{RawStatus: raw, RawAmount: amount}, nil
}

// NormalizeWebhook converts a Stripe event payload into the common shape.
// The webhook handler flattens the event envelope before calling this; the
// intent status is derived from the event type when not carried explicitly.
func (g *StripeGateway) NormalizeWebhook(payload map[string]string) (*provider.WebhookData, error) {
	ref := payload["client_reference_id"]
	if ref == "" {
		ref = payload["payment_intent"]
	}
	if ref == "" {
		ref = payload["id"]
	}
	if ref == "" {
		return nil, errors.New("stripegate: webhook missing payment reference")
	}

	rawStatus := payload["status"]
	if rawStatus == "" {
		switch payload["type"] {
		case "payment_intent.succeeded", "checkout.session.completed":
			rawStatus = "succeeded"
		case "payment_intent.payment_failed", "payment_intent.canceled":
			rawStatus = "canceled"
		case "payment_intent.processing":
			rawStatus = "processing"
		default:
			return nil, errors.New("stripegate: webhook missing status")
		}
	}

	return &provider.WebhookData{
		ExternalPaymentRef: ref,
		RawStatus:          rawStatus,
	}, nil
}

// NormalizeStatus maps a Stripe status to the canonical vocabulary
func (g *StripeGateway) NormalizeStatus(raw string) provider.Status {
	return statusTable.Normalize(raw)
}

func (g *StripeGateway) wrapError(err error) error {
	pErr := &provider.ProviderError{Gateway: g.Name(), Message: err.Error(), Err: err}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		pErr.StatusCode = stripeErr.HTTPStatusCode
	}
	return pErr
}
