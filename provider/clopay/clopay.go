package clopay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"

	"github.com/payrelay/payrelay/provider"
)

const (
	apiProductionURL = "https://api.clopay.net"

	endpointCheckout = "/v3/checkout"
)

// statusTable maps ClioPay three-letter state codes to canonical statuses.
// "CLO" is a closed checkout, which ClioPay only emits after full settlement.
var statusTable = provider.StatusTable{
	"new": provider.StatusPending,
	"pro": provider.StatusProcessing,
	"clo": provider.StatusPaid,
	"exp": provider.StatusExpired,
	"err": provider.StatusFailed,
}

// CloPayGateway is the adapter for the ClioPay card processor. ClioPay pushes
// signed webhooks on every checkout state change.
type CloPayGateway struct {
	apiKey     string
	signKey    string
	baseURL    string
	httpClient *provider.GatewayHTTPClient
}

// NewGateway creates a new ClioPay payment gateway
func NewGateway() provider.Gateway {
	return &CloPayGateway{}
}

// Initialize sets up the ClioPay gateway with authentication credentials
func (g *CloPayGateway) Initialize(conf map[string]string) error {
	g.apiKey = conf["apiKey"]
	g.signKey = conf["signKey"]

	if g.apiKey == "" || g.signKey == "" {
		return errors.New("clopay: apiKey and signKey are required")
	}

	g.baseURL = conf["baseURL"]
	if g.baseURL == "" {
		g.baseURL = apiProductionURL
	}

	g.httpClient = provider.NewGatewayHTTPClient(provider.CreateHTTPClientConfig(g.baseURL, 0))
	return nil
}

func (g *CloPayGateway) Name() string { return "clopay" }

func (g *CloPayGateway) RequiresPolling() bool { return false }

// CreateLink creates a new ClioPay checkout with a hosted payment page
func (g *CloPayGateway) CreateLink(ctx context.Context, request provider.LinkRequest) (*provider.LinkResult, error) {
	body := map[string]any{
		"reference": request.GatewayOrderNo,
		"amount":    request.Amount,
		"currency":  request.Currency,
		"email":     request.CustomerEmail,
	}

	req := &provider.HTTPRequest{
		Method:   http.MethodPost,
		Endpoint: endpointCheckout,
		Headers: map[string]string{
			"Authorization": "Bearer " + g.apiKey,
		},
		Body: body,
	}

	resp, err := g.httpClient.SendJSON(ctx, req)
	if err != nil {
		pErr := &provider.ProviderError{Gateway: g.Name(), Message: err.Error(), Err: err}
		if resp != nil {
			pErr.StatusCode = resp.StatusCode
		}
		return nil, pErr
	}

	var checkout struct {
		CheckoutID  string `json:"checkout_id"`
		CheckoutURL string `json:"checkout_url"`
	}
	if err := g.httpClient.ParseJSONResponse(resp, &checkout); err != nil {
		return nil, &provider.ProviderError{Gateway: g.Name(), Message: "malformed checkout response", Err: err}
	}
	if checkout.CheckoutID == "" || checkout.CheckoutURL == "" {
		return nil, &provider.ProviderError{Gateway: g.Name(), Message: "checkout response missing id or url"}
	}

	return &provider.LinkResult{
		GatewayPaymentID: checkout.CheckoutID,
		PayURL:           checkout.CheckoutURL,
	}, nil
}

// CheckStatus is unsupported: ClioPay reconciles via webhook push only
func (g *CloPayGateway) CheckStatus(ctx context.Context, gatewayPaymentID string) (*provider.StatusResult, error) {
	return nil, provider.ErrStatusCheckUnsupported
}

// NormalizeWebhook converts a ClioPay webhook payload into the common shape.
// ClioPay signs the payload with an HMAC over checkout_id|state; the webhook
// is rejected when the signature does not verify.
func (g *CloPayGateway) NormalizeWebhook(payload map[string]string) (*provider.WebhookData, error) {
	ref := payload["checkout_id"]
	if ref == "" {
		return nil, errors.New("clopay: webhook missing checkout_id")
	}

	rawStatus := payload["state"]
	if rawStatus == "" {
		return nil, errors.New("clopay: webhook missing state")
	}

	if g.signKey != "" {
		sig := payload["signature"]
		if sig == "" {
			return nil, errors.New("clopay: webhook missing signature")
		}
		if !g.verifySignature(ref+"|"+rawStatus, sig) {
			return nil, errors.New("clopay: webhook signature mismatch")
		}
	}

	amount, _ := strconv.ParseFloat(payload["amount"], 64)

	details := map[string]string{}
	if v := payload["card_last4"]; v != "" {
		details["card_last4"] = v
	}
	if v := payload["method"]; v != "" {
		details["payment_method"] = v
	}

	return &provider.WebhookData{
		ExternalPaymentRef: ref,
		RawStatus:          rawStatus,
		RawAmount:          amount,
		RawDetails:         details,
	}, nil
}

// NormalizeStatus maps a ClioPay state code to the canonical vocabulary
func (g *CloPayGateway) NormalizeStatus(raw string) provider.Status {
	return statusTable.Normalize(raw)
}

func (g *CloPayGateway) verifySignature(data, signature string) bool {
	mac := hmac.New(sha256.New, []byte(g.signKey))
	mac.Write([]byte(data))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
