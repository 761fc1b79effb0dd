package payeera

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/payrelay/payrelay/provider"
)

const (
	apiProductionURL = "https://pay.payeera.com"

	endpointPayment = "/api/payments"
)

// statusTable maps Payeera payment states to canonical statuses.
// "confirmed" is Payeera's fully-settled signal; "pending_user" means the
// buyer opened the page but has not completed the flow.
var statusTable = provider.StatusTable{
	"created":      provider.StatusPending,
	"pending_user": provider.StatusPending,
	"in_progress":  provider.StatusProcessing,
	"confirmed":    provider.StatusPaid,
	"timeout":      provider.StatusExpired,
	"rejected":     provider.StatusFailed,
}

// PayeeraGateway is the adapter for the Payeera wallet processor. Payeera
// pushes webhooks; its payloads echo back our gateway order number rather
// than its own payment id.
type PayeeraGateway struct {
	token      string
	baseURL    string
	httpClient *provider.GatewayHTTPClient
}

// NewGateway creates a new Payeera payment gateway
func NewGateway() provider.Gateway {
	return &PayeeraGateway{}
}

// Initialize sets up the Payeera gateway with authentication credentials
func (g *PayeeraGateway) Initialize(conf map[string]string) error {
	g.token = conf["token"]
	if g.token == "" {
		return errors.New("payeera: token is required")
	}

	g.baseURL = conf["baseURL"]
	if g.baseURL == "" {
		g.baseURL = apiProductionURL
	}

	g.httpClient = provider.NewGatewayHTTPClient(provider.CreateHTTPClientConfig(g.baseURL, 0))
	return nil
}

func (g *PayeeraGateway) Name() string { return "payeera" }

func (g *PayeeraGateway) RequiresPolling() bool { return false }

// CreateLink creates a new Payeera payment with a hosted page
func (g *PayeeraGateway) CreateLink(ctx context.Context, request provider.LinkRequest) (*provider.LinkResult, error) {
	req := &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointPayment,
		Headers:  map[string]string{"Authorization": "Token " + g.token},
		FormData: map[string]string{
			"order":    request.GatewayOrderNo,
			"amount":   strconv.FormatFloat(request.Amount, 'f', 2, 64),
			"currency": request.Currency,
			"email":    request.CustomerEmail,
		},
	}

	resp, err := g.httpClient.SendForm(ctx, req)
	if err != nil {
		pErr := &provider.ProviderError{Gateway: g.Name(), Message: err.Error(), Err: err}
		if resp != nil {
			pErr.StatusCode = resp.StatusCode
		}
		return nil, pErr
	}

	var payment struct {
		PaymentID string `json:"payment_id"`
		PayURL    string `json:"pay_url"`
	}
	if err := g.httpClient.ParseJSONResponse(resp, &payment); err != nil {
		return nil, &provider.ProviderError{Gateway: g.Name(), Message: "malformed payment response", Err: err}
	}
	if payment.PaymentID == "" || payment.PayURL == "" {
		return nil, &provider.ProviderError{Gateway: g.Name(), Message: "payment response missing id or url"}
	}

	return &provider.LinkResult{
		GatewayPaymentID: payment.PaymentID,
		PayURL:           payment.PayURL,
	}, nil
}

// CheckStatus is unsupported: Payeera reconciles via webhook push only
func (g *PayeeraGateway) CheckStatus(ctx context.Context, gatewayPaymentID string) (*provider.StatusResult, error) {
	return nil, provider.ErrStatusCheckUnsupported
}

// NormalizeWebhook converts a Payeera webhook payload into the common shape
func (g *PayeeraGateway) NormalizeWebhook(payload map[string]string) (*provider.WebhookData, error) {
	ref := payload["order"]
	if ref == "" {
		ref = payload["payment_id"]
	}
	if ref == "" {
		return nil, errors.New("payeera: webhook missing order reference")
	}

	rawStatus := payload["status"]
	if rawStatus == "" {
		return nil, errors.New("payeera: webhook missing status")
	}

	amount, _ := strconv.ParseFloat(payload["amount"], 64)

	return &provider.WebhookData{
		ExternalPaymentRef: ref,
		RawStatus:          rawStatus,
		RawAmount:          amount,
	}, nil
}

// NormalizeStatus maps a Payeera state to the canonical vocabulary
func (g *PayeeraGateway) NormalizeStatus(raw string) provider.Status {
	return statusTable.Normalize(raw)
}
