package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised invoice states shared across providers.
type Status string

const (
	// StatusPending indicates the invoice is awaiting customer payment.
	StatusPending Status = "pending"
	// StatusPaid indicates the provider reports the invoice as settled.
	StatusPaid Status = "paid"
	// StatusExpired indicates the invoice passed its expiry without payment.
	StatusExpired Status = "expired"
	// StatusFailed indicates the provider reports a non-recoverable failure.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment was returned after settlement.
	StatusRefunded Status = "refunded"
)

// ParseStatus normalises a provider-reported status string. The second return
// is false for statuses no provider in the registry emits.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING", "ACTIVE", "UNPAID", "OPEN":
		return StatusPending, true
	case "PAID", "SETTLED", "COMPLETE", "SUCCEEDED":
		return StatusPaid, true
	case "EXPIRED":
		return StatusExpired, true
	case "FAILED", "STOPPED", "CANCELED":
		return StatusFailed, true
	case "REFUNDED":
		return StatusRefunded, true
	default:
		return "", false
	}
}

// Terminal reports whether the status can no longer change at the provider.
func (s Status) Terminal() bool {
	switch s {
	case StatusPaid, StatusExpired, StatusFailed, StatusRefunded:
		return true
	default:
		return false
	}
}

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// ErrInvoiceNotFound is returned when the provider has no record of the invoice.
var ErrInvoiceNotFound = errors.New("payments: invoice not found")

// InvoiceLineItem describes a priced line included on a hosted invoice.
type InvoiceLineItem struct {
	Name     string
	SKU      string
	Quantity int64
	Price    int64
	Currency string
}

// InvoiceRequest captures the payload required to issue a hosted invoice.
type InvoiceRequest struct {
	// ExternalID is the merchant-side reference the provider echoes back on
	// webhooks, here always the order number.
	ExternalID     string
	Amount         int64
	Currency       string
	Description    string
	PayerName      string
	PayerEmail     string
	Duration       time.Duration
	IdempotencyKey string
	Metadata       map[string]string
	Items          []InvoiceLineItem
}

// Invoice represents the provider's view of a hosted invoice.
type Invoice struct {
	ID         string
	Provider   string
	ExternalID string
	Status     Status
	Amount     int64
	Currency   string
	InvoiceURL string
	ExpiresAt  *time.Time
	PaidAt     *time.Time
	Raw        map[string]any
}

// Provider defines the contract for hosted-invoice adapters to implement.
type Provider interface {
	CreateInvoice(ctx context.Context, req InvoiceRequest) (Invoice, error)
	// GetInvoice fetches the current provider-side state, used by the
	// reconciliation poller as the webhook fallback path.
	GetInvoice(ctx context.Context, invoiceID string) (Invoice, error)
	ExpireInvoice(ctx context.Context, invoiceID string) (Invoice, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
	Metadata          map[string]string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

func (m *Manager) provider(key string) (Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return nil, errors.New("payments: no providers registered")
	}
	if p, ok := m.providers[strings.TrimSpace(strings.ToLower(key))]; ok {
		return p, nil
	}
	return nil, ErrUnsupportedProvider
}

// CreateInvoice issues an invoice through the resolved provider.
func (m *Manager) CreateInvoice(ctx context.Context, paymentCtx PaymentContext, req InvoiceRequest) (Invoice, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return Invoice{}, err
	}
	invoice, err := provider.CreateInvoice(ctx, req)
	if err != nil {
		return Invoice{}, err
	}
	invoice.Provider = key
	return invoice, nil
}

// GetInvoice fetches invoice state from the provider that issued it.
func (m *Manager) GetInvoice(ctx context.Context, providerKey, invoiceID string) (Invoice, error) {
	provider, err := m.provider(providerKey)
	if err != nil {
		return Invoice{}, err
	}
	invoice, err := provider.GetInvoice(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if invoice.Provider == "" {
		invoice.Provider = strings.TrimSpace(strings.ToLower(providerKey))
	}
	return invoice, nil
}

// ExpireInvoice cancels the hosted invoice at the provider that issued it.
func (m *Manager) ExpireInvoice(ctx context.Context, providerKey, invoiceID string) (Invoice, error) {
	provider, err := m.provider(providerKey)
	if err != nil {
		return Invoice{}, err
	}
	invoice, err := provider.ExpireInvoice(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if invoice.Provider == "" {
		invoice.Provider = strings.TrimSpace(strings.ToLower(providerKey))
	}
	return invoice, nil
}
