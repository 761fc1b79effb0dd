package cryptowave

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/payrelay/payrelay/provider"
)

const (
	apiProductionURL = "https://api.cryptowave.io"

	endpointInvoice       = "/api/v1/invoices"
	endpointInvoiceStatus = "/api/v1/invoices/%s"
)

// statusTable maps CryptoWave invoice states to canonical statuses.
// "done" alone means the on-chain transfer is seen but not yet settled,
// so it stays PROCESSING; the adapter appends "/settled" when the invoice
// carries the settlement flag. "mismatch" is an under- or over-payment the
// operator has to look at, still PROCESSING from the merchant's viewpoint.
var statusTable = provider.StatusTable{
	"waiting":      provider.StatusPending,
	"confirming":   provider.StatusProcessing,
	"mismatch":     provider.StatusProcessing,
	"done":         provider.StatusProcessing,
	"done/settled": provider.StatusPaid,
	"expired":      provider.StatusExpired,
	"canceled":     provider.StatusFailed,
}

// CryptoWaveGateway is the adapter for the CryptoWave crypto processor.
// CryptoWave has no webhook push; payments are reconciled purely through
// active status polls driven by the status watcher.
type CryptoWaveGateway struct {
	apiKey     string
	baseURL    string
	httpClient *provider.GatewayHTTPClient
}

// NewGateway creates a new CryptoWave payment gateway
func NewGateway() provider.Gateway {
	return &CryptoWaveGateway{}
}

// Initialize sets up the CryptoWave gateway with authentication credentials
func (g *CryptoWaveGateway) Initialize(conf map[string]string) error {
	g.apiKey = conf["apiKey"]
	if g.apiKey == "" {
		return errors.New("cryptowave: apiKey is required")
	}

	g.baseURL = conf["baseURL"]
	if g.baseURL == "" {
		g.baseURL = apiProductionURL
	}

	timeout := provider.DefaultTimeout
	if v := conf["timeoutSeconds"]; v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}

	g.httpClient = provider.NewGatewayHTTPClient(provider.CreateHTTPClientConfig(g.baseURL, timeout))
	return nil
}

func (g *CryptoWaveGateway) Name() string { return "cryptowave" }

func (g *CryptoWaveGateway) RequiresPolling() bool { return true }

type invoiceResponse struct {
	InvoiceID  string  `json:"invoice_id"`
	PayURL     string  `json:"pay_url"`
	State      string  `json:"state"`
	AmountPaid float64 `json:"amount_paid"`
	Settled    bool    `json:"settled"`
	TxID       string  `json:"txid,omitempty"`
}

// CreateLink creates a new payment invoice with a hosted checkout page
func (g *CryptoWaveGateway) CreateLink(ctx context.Context, request provider.LinkRequest) (*provider.LinkResult, error) {
	req := &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointInvoice,
		Headers:  map[string]string{"X-Api-Key": g.apiKey},
		Body: map[string]any{
			"order_no":    request.GatewayOrderNo,
			"amount":      request.Amount,
			"currency":    request.Currency,
			"description": request.Description,
			"buyer_email": request.CustomerEmail,
		},
	}

	resp, err := g.httpClient.SendJSON(ctx, req)
	if err != nil {
		return nil, g.wrapError(resp, err)
	}

	var invoice invoiceResponse
	if err := g.httpClient.ParseJSONResponse(resp, &invoice); err != nil {
		return nil, &provider.ProviderError{Gateway: g.Name(), Message: "malformed invoice response", Err: err}
	}
	if invoice.InvoiceID == "" || invoice.PayURL == "" {
		return nil, &provider.ProviderError{Gateway: g.Name(), Message: "invoice response missing id or pay url"}
	}

	return &provider.LinkResult{
		GatewayPaymentID: invoice.InvoiceID,
		PayURL:           invoice.PayURL,
	}, nil
}

// CheckStatus fetches the current invoice state from CryptoWave
func (g *CryptoWaveGateway) CheckStatus(ctx context.Context, gatewayPaymentID string) (*provider.StatusResult, error) {
	req := &provider.HTTPRequest{
		Method:   http.MethodGet,
		Endpoint: fmt.Sprintf(endpointInvoiceStatus, gatewayPaymentID),
		Headers:  map[string]string{"X-Api-Key": g.apiKey},
	}

	resp, err := g.httpClient.SendJSON(ctx, req)
	if err != nil {
		return nil, g.wrapError(resp, err)
	}

	var invoice invoiceResponse
	if err := g.httpClient.ParseJSONResponse(resp, &invoice); err != nil {
		return nil, &provider.ProviderError{Gateway: g.Name(), Message: "malformed status response", Err: err}
	}

	raw := invoice.State
	if invoice.State == "done" && invoice.Settled {
		raw = "done/settled"
	}

	details := map[string]string{}
	if invoice.TxID != "" {
		details["txid"] = invoice.TxID
	}

	return &provider.StatusResult{
		RawStatus:  raw,
		RawAmount:  invoice.AmountPaid,
		RawDetails: details,
	}, nil
}

// NormalizeWebhook is unsupported: CryptoWave never pushes webhooks
func (g *CryptoWaveGateway) NormalizeWebhook(payload map[string]string) (*provider.WebhookData, error) {
	return nil, errors.New("cryptowave: does not push webhooks")
}

// NormalizeStatus maps a CryptoWave state to the canonical vocabulary
func (g *CryptoWaveGateway) NormalizeStatus(raw string) provider.Status {
	return statusTable.Normalize(raw)
}

func (g *CryptoWaveGateway) wrapError(resp *provider.HTTPResponse, err error) error {
	pErr := &provider.ProviderError{Gateway: g.Name(), Message: err.Error(), Err: err}
	if resp != nil {
		pErr.StatusCode = resp.StatusCode
	}
	return pErr
}
