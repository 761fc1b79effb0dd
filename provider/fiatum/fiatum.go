package fiatum

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/payrelay/payrelay/provider"
)

const (
	apiProductionURL = "https://gate.fiatum.com"

	endpointOrder = "/merchant/v2/orders"
)

// statusTable maps Fiatum order states to canonical statuses. "awaiting fiat"
// means the buyer committed but the bank transfer has not landed, so it stays
// PENDING until Fiatum reports an explicit "paid".
var statusTable = provider.StatusTable{
	"new":           provider.StatusPending,
	"awaiting fiat": provider.StatusPending,
	"processing":    provider.StatusProcessing,
	"paid":          provider.StatusPaid,
	"expired":       provider.StatusExpired,
	"canceled":      provider.StatusFailed,
}

// FiatumGateway is the adapter for the Fiatum fiat on-ramp. Fiatum pushes
// webhooks for every order state change; it is never polled.
type FiatumGateway struct {
	merchantID string
	secretKey  string
	baseURL    string
	httpClient *provider.GatewayHTTPClient
}

// NewGateway creates a new Fiatum payment gateway
func NewGateway() provider.Gateway {
	return &FiatumGateway{}
}

// Initialize sets up the Fiatum gateway with authentication credentials
func (g *FiatumGateway) Initialize(conf map[string]string) error {
	g.merchantID = conf["merchantId"]
	g.secretKey = conf["secretKey"]

	if g.merchantID == "" || g.secretKey == "" {
		return errors.New("fiatum: merchantId and secretKey are required")
	}

	g.baseURL = conf["baseURL"]
	if g.baseURL == "" {
		g.baseURL = apiProductionURL
	}

	g.httpClient = provider.NewGatewayHTTPClient(provider.CreateHTTPClientConfig(g.baseURL, 0))
	return nil
}

func (g *FiatumGateway) Name() string { return "fiatum" }

func (g *FiatumGateway) RequiresPolling() bool { return false }

// CreateLink creates a new Fiatum order with a hosted payment page
func (g *FiatumGateway) CreateLink(ctx context.Context, request provider.LinkRequest) (*provider.LinkResult, error) {
	req := &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointOrder,
		Headers: map[string]string{
			"X-Merchant-Id": g.merchantID,
			"X-Api-Secret":  g.secretKey,
		},
		Body: map[string]any{
			"external_order_no": request.GatewayOrderNo,
			"amount":            request.Amount,
			"currency":          request.Currency,
			"customer_email":    request.CustomerEmail,
			"customer_name":     request.CustomerName,
		},
	}

	resp, err := g.httpClient.SendJSON(ctx, req)
	if err != nil {
		pErr := &provider.ProviderError{Gateway: g.Name(), Message: err.Error(), Err: err}
		if resp != nil {
			pErr.StatusCode = resp.StatusCode
		}
		return nil, pErr
	}

	var order struct {
		OrderID    string `json:"order_id"`
		PaymentURL string `json:"payment_url"`
	}
	if err := g.httpClient.ParseJSONResponse(resp, &order); err != nil {
		return nil, &provider.ProviderError{Gateway: g.Name(), Message: "malformed order response", Err: err}
	}
	if order.OrderID == "" || order.PaymentURL == "" {
		return nil, &provider.ProviderError{Gateway: g.Name(), Message: "order response missing id or payment url"}
	}

	return &provider.LinkResult{
		GatewayPaymentID: order.OrderID,
		PayURL:           order.PaymentURL,
	}, nil
}

// CheckStatus is unsupported: Fiatum reconciles via webhook push only
func (g *FiatumGateway) CheckStatus(ctx context.Context, gatewayPaymentID string) (*provider.StatusResult, error) {
	return nil, provider.ErrStatusCheckUnsupported
}

// NormalizeWebhook converts a Fiatum webhook payload into the common shape.
// Fiatum echoes back the external_order_no we generated at order creation.
func (g *FiatumGateway) NormalizeWebhook(payload map[string]string) (*provider.WebhookData, error) {
	ref := payload["external_order_no"]
	if ref == "" {
		ref = payload["order_id"]
	}
	if ref == "" {
		return nil, errors.New("fiatum: webhook missing order reference")
	}

	rawStatus := payload["state"]
	if rawStatus == "" {
		return nil, errors.New("fiatum: webhook missing state")
	}

	amount, _ := strconv.ParseFloat(payload["amount"], 64)

	details := map[string]string{}
	for _, key := range []string{"remitter_name", "remitter_iban", "bank_id", "payment_method"} {
		if v := payload[key]; v != "" {
			details[key] = v
		}
	}

	return &provider.WebhookData{
		ExternalPaymentRef: ref,
		RawStatus:          rawStatus,
		RawAmount:          amount,
		RawDetails:         details,
	}, nil
}

// NormalizeStatus maps a Fiatum state to the canonical vocabulary
func (g *FiatumGateway) NormalizeStatus(raw string) provider.Status {
	return statusTable.Normalize(raw)
}
