package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultInvoiceProviderKey is the registry key for the hosted-invoice gateway.
	DefaultInvoiceProviderKey = "invoice"

	defaultInvoiceTimeout  = 10 * time.Second
	defaultInvoiceDuration = 24 * time.Hour
	maxErrorBodyBytes      = 8 << 10
)

// InvoiceLogger defines the logging contract for invoice provider operations.
type InvoiceLogger func(ctx context.Context, event string, fields map[string]any)

// InvoiceProviderConfig configures the hosted-invoice HTTP adapter.
type InvoiceProviderConfig struct {
	BaseURL string
	// APIKey is sent as the basic-auth username with an empty password.
	APIKey          string
	Timeout         time.Duration
	InvoiceDuration time.Duration
	HTTPClient      *http.Client
	Logger          InvoiceLogger
	Clock           func() time.Time
}

// InvoiceProvider implements Provider against a hosted-invoice REST gateway.
type InvoiceProvider struct {
	baseURL         *url.URL
	apiKey          string
	httpClient      *http.Client
	invoiceDuration time.Duration
	logger          InvoiceLogger
	clock           func() time.Time
}

// NewInvoiceProvider constructs the adapter from configuration.
func NewInvoiceProvider(cfg InvoiceProviderConfig) (*InvoiceProvider, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("invoice provider: base url is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invoice provider: parse base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invoice provider: base url %q must be absolute", baseURL)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("invoice provider: api key is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultInvoiceTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	invoiceDuration := cfg.InvoiceDuration
	if invoiceDuration <= 0 {
		invoiceDuration = defaultInvoiceDuration
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &InvoiceProvider{
		baseURL:         parsed,
		apiKey:          apiKey,
		httpClient:      httpClient,
		invoiceDuration: invoiceDuration,
		logger:          logger,
		clock:           func() time.Time { return clock().UTC() },
	}, nil
}

type invoiceItemPayload struct {
	Name     string `json:"name"`
	SKU      string `json:"sku,omitempty"`
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`
	Currency string `json:"currency,omitempty"`
}

type createInvoicePayload struct {
	ExternalID      string               `json:"external_id"`
	Amount          int64                `json:"amount"`
	Currency        string               `json:"currency"`
	Description     string               `json:"description,omitempty"`
	PayerEmail      string               `json:"payer_email,omitempty"`
	InvoiceDuration int64                `json:"invoice_duration,omitempty"`
	Customer        *invoicePayerPayload `json:"customer,omitempty"`
	Items           []invoiceItemPayload `json:"items,omitempty"`
	Metadata        map[string]string    `json:"metadata,omitempty"`
}

type invoicePayerPayload struct {
	GivenNames string `json:"given_names,omitempty"`
	Email      string `json:"email,omitempty"`
}

type invoiceEnvelope struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	InvoiceURL string `json:"invoice_url"`
	ExpiryDate string `json:"expiry_date"`
	PaidAt     string `json:"paid_at"`
}

type invoiceErrorEnvelope struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// CreateInvoice issues a hosted invoice for the order.
func (p *InvoiceProvider) CreateInvoice(ctx context.Context, req InvoiceRequest) (Invoice, error) {
	if p == nil {
		return Invoice{}, errors.New("invoice provider is nil")
	}
	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		return Invoice{}, errors.New("invoice provider: external id is required")
	}
	if req.Amount <= 0 {
		return Invoice{}, errors.New("invoice provider: amount must be > 0")
	}

	duration := req.Duration
	if duration <= 0 {
		duration = p.invoiceDuration
	}

	payload := createInvoicePayload{
		ExternalID:      externalID,
		Amount:          req.Amount,
		Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
		Description:     strings.TrimSpace(req.Description),
		PayerEmail:      strings.TrimSpace(req.PayerEmail),
		InvoiceDuration: int64(duration.Seconds()),
		Metadata:        req.Metadata,
	}
	if name := strings.TrimSpace(req.PayerName); name != "" || payload.PayerEmail != "" {
		payload.Customer = &invoicePayerPayload{GivenNames: name, Email: payload.PayerEmail}
	}
	for _, item := range req.Items {
		payload.Items = append(payload.Items, invoiceItemPayload{
			Name:     item.Name,
			SKU:      item.SKU,
			Quantity: item.Quantity,
			Price:    item.Price,
			Currency: strings.ToUpper(strings.TrimSpace(item.Currency)),
		})
	}

	var raw map[string]any
	envelope, err := p.do(ctx, http.MethodPost, "/v2/invoices", req.IdempotencyKey, payload, &raw)
	if err != nil {
		return Invoice{}, err
	}

	invoice := p.toInvoice(envelope, raw)
	p.logger(ctx, "payments.invoice.created", map[string]any{
		"invoiceId":  invoice.ID,
		"externalId": invoice.ExternalID,
		"amount":     invoice.Amount,
		"currency":   invoice.Currency,
	})
	return invoice, nil
}

// GetInvoice fetches current invoice state from the gateway.
func (p *InvoiceProvider) GetInvoice(ctx context.Context, invoiceID string) (Invoice, error) {
	if p == nil {
		return Invoice{}, errors.New("invoice provider is nil")
	}
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return Invoice{}, errors.New("invoice provider: invoice id is required")
	}
	var raw map[string]any
	envelope, err := p.do(ctx, http.MethodGet, "/v2/invoices/"+url.PathEscape(invoiceID), "", nil, &raw)
	if err != nil {
		return Invoice{}, err
	}
	return p.toInvoice(envelope, raw), nil
}

// ExpireInvoice force-expires a pending invoice at the gateway.
func (p *InvoiceProvider) ExpireInvoice(ctx context.Context, invoiceID string) (Invoice, error) {
	if p == nil {
		return Invoice{}, errors.New("invoice provider is nil")
	}
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return Invoice{}, errors.New("invoice provider: invoice id is required")
	}
	var raw map[string]any
	envelope, err := p.do(ctx, http.MethodPost, "/invoices/"+url.PathEscape(invoiceID)+"/expire!", "", nil, &raw)
	if err != nil {
		return Invoice{}, err
	}
	invoice := p.toInvoice(envelope, raw)
	p.logger(ctx, "payments.invoice.expired", map[string]any{
		"invoiceId": invoice.ID,
	})
	return invoice, nil
}

func (p *InvoiceProvider) do(ctx context.Context, method, path, idempotencyKey string, body any, raw *map[string]any) (invoiceEnvelope, error) {
	endpoint := *p.baseURL
	endpoint.Path = strings.TrimSuffix(endpoint.Path, "/") + path

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return invoiceEnvelope{}, fmt.Errorf("invoice provider: encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reqBody)
	if err != nil {
		return invoiceEnvelope{}, fmt.Errorf("invoice provider: build request: %w", err)
	}
	httpReq.SetBasicAuth(p.apiKey, "")
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		httpReq.Header.Set("X-Idempotency-Key", key)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return invoiceEnvelope{}, fmt.Errorf("invoice provider: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return invoiceEnvelope{}, fmt.Errorf("invoice provider: read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return invoiceEnvelope{}, fmt.Errorf("invoice provider: %s %s: %w", method, path, ErrInvoiceNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var gatewayErr invoiceErrorEnvelope
		_ = json.Unmarshal(data, &gatewayErr)
		if gatewayErr.ErrorCode != "" {
			return invoiceEnvelope{}, fmt.Errorf("invoice provider: %s %s: %s (%s)", method, path, gatewayErr.Message, gatewayErr.ErrorCode)
		}
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > maxErrorBodyBytes {
			snippet = snippet[:maxErrorBodyBytes]
		}
		return invoiceEnvelope{}, fmt.Errorf("invoice provider: %s %s: unexpected status %d: %s", method, path, resp.StatusCode, snippet)
	}

	var envelope invoiceEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return invoiceEnvelope{}, fmt.Errorf("invoice provider: decode response: %w", err)
	}
	if raw != nil {
		_ = json.Unmarshal(data, raw)
	}
	return envelope, nil
}

func (p *InvoiceProvider) toInvoice(envelope invoiceEnvelope, raw map[string]any) Invoice {
	status, ok := ParseStatus(envelope.Status)
	if !ok {
		status = StatusPending
	}
	invoice := Invoice{
		ID:         envelope.ID,
		Provider:   DefaultInvoiceProviderKey,
		ExternalID: envelope.ExternalID,
		Status:     status,
		Amount:     envelope.Amount,
		Currency:   strings.ToUpper(strings.TrimSpace(envelope.Currency)),
		InvoiceURL: envelope.InvoiceURL,
		Raw:        raw,
	}
	if ts := parseInvoiceTime(envelope.ExpiryDate); ts != nil {
		invoice.ExpiresAt = ts
	}
	if ts := parseInvoiceTime(envelope.PaidAt); ts != nil {
		invoice.PaidAt = ts
	}
	return invoice
}

func parseInvoiceTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	ts = ts.UTC()
	return &ts
}
