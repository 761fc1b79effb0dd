package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// AuditEvent represents a structured reconciliation audit entry
type AuditEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	EventID    string    `json:"event_id"`
	Gateway    string    `json:"gateway"`
	PaymentID  string    `json:"payment_id,omitempty"`
	Kind       string    `json:"kind"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status,omitempty"`
	RawStatus  string    `json:"raw_status,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Payload    string    `json:"payload,omitempty"`
	HTTPStatus int       `json:"http_status,omitempty"`
	LatencyMs  int64     `json:"latency_ms,omitempty"`
}

// Logger handles OpenSearch logging operations
type Logger struct {
	client *Client
}

// NewLogger creates a new OpenSearch logger
func NewLogger(client *Client) *Logger {
	return &Logger{
		client: client,
	}
}

// LogAuditEvent indexes a reconciliation audit event
func (l *Logger) LogAuditEvent(ctx context.Context, event AuditEvent) error {
	if !l.client.IsEnabled() {
		return nil // Logging disabled
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}

	event.Payload = SanitizeSensitiveData(event.Payload)

	indexName := l.client.GetAuditIndexName(event.Gateway)

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index: indexName,
		Body:  bytes.NewReader(eventJSON),
	}

	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return fmt.Errorf("failed to index audit event: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch error: %s", res.String())
	}

	return nil
}

// SearchAuditEvents searches for audit events based on criteria
func (l *Logger) SearchAuditEvents(ctx context.Context, gateway string, query map[string]any) ([]AuditEvent, error) {
	if !l.client.IsEnabled() {
		return nil, fmt.Errorf("logging is disabled")
	}

	indexName := l.client.GetAuditIndexName(gateway)

	searchQuery := map[string]any{
		"query": query,
		"sort": []map[string]any{
			{"timestamp": map[string]string{"order": "desc"}},
		},
		"size": 100, // Limit results
	}

	queryJSON, err := json.Marshal(searchQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	req := opensearchapi.SearchRequest{
		Index: []string{indexName},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("opensearch search error: %s", res.String())
	}

	var searchResult struct {
		Hits struct {
			Hits []struct {
				Source AuditEvent `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(res.Body).Decode(&searchResult); err != nil {
		return nil, fmt.Errorf("failed to decode search results: %w", err)
	}

	events := make([]AuditEvent, len(searchResult.Hits.Hits))
	for i, hit := range searchResult.Hits.Hits {
		events[i] = hit.Source
	}

	return events, nil
}

// GetPaymentAudit retrieves audit events for a specific payment ID
func (l *Logger) GetPaymentAudit(ctx context.Context, gateway, paymentID string) ([]AuditEvent, error) {
	query := map[string]any{
		"match": map[string]any{
			"payment_id": paymentID,
		},
	}

	return l.SearchAuditEvents(ctx, gateway, query)
}

// GetRecentAnomalies retrieves recent anomaly events for a gateway
func (l *Logger) GetRecentAnomalies(ctx context.Context, gateway string, hours int) ([]AuditEvent, error) {
	query := map[string]any{
		"bool": map[string]any{
			"must": []map[string]any{
				{
					"range": map[string]any{
						"timestamp": map[string]any{
							"gte": fmt.Sprintf("now-%dh", hours),
						},
					},
				},
				{
					"term": map[string]any{
						"kind": "anomaly",
					},
				},
			},
		},
	}

	return l.SearchAuditEvents(ctx, gateway, query)
}

// SanitizeSensitiveData removes sensitive information from log data
func SanitizeSensitiveData(data string) string {
	if data == "" {
		return data
	}

	sensitiveFields := []string{
		"cardNumber", "card_number", "cvv", "cvc", "remitter_iban",
		"apiKey", "api_key", "secretKey", "secret_key", "password", "token",
		"authorization", "x-api-key", "x-secret-key", "signature",
	}

	result := data
	for _, field := range sensitiveFields {
		patterns := []string{
			fmt.Sprintf(`"%s"\s*:\s*"[^"]*"`, field), // JSON format with double quotes
			fmt.Sprintf(`"%s"\s*:\s*'[^']*'`, field), // JSON format with single quotes
			fmt.Sprintf(`%s=\w+`, field),             // URL parameter format
		}

		for _, pattern := range patterns {
			re := regexp.MustCompile(pattern)
			result = re.ReplaceAllString(result, fmt.Sprintf(`"%s":"***REDACTED***"`, field))
		}
	}

	return result
}

// LogSystemEvent logs a system event to OpenSearch
func (l *Logger) LogSystemEvent(ctx context.Context, log any) error {
	if !l.client.IsEnabled() {
		return nil // Logging disabled
	}

	indexName := "payrelay-system-logs"

	logJSON, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to marshal system log: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index: indexName,
		Body:  bytes.NewReader(logJSON),
	}

	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return fmt.Errorf("failed to index system log: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch system log error: %s", res.String())
	}

	return nil
}
