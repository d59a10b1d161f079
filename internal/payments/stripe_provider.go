package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeProviderKey is the registry key for the Stripe adapter.
const StripeProviderKey = "stripe"

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Expire(id string, params *stripe.CheckoutSessionExpireParams) (*stripe.CheckoutSession, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey     string
	AccountID  string
	SuccessURL string
	CancelURL  string
	Backends   *stripe.Backends
	Logger     StripeLogger
	Clock      func() time.Time
	Clients    *stripeClients
}

// StripeProvider implements the Provider interface on Stripe Checkout, which
// plays the role of the hosted invoice page.
type StripeProvider struct {
	api        stripeClients
	account    string
	successURL string
	cancelURL  string
	clock      func() time.Time
	logger     StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{sessions: sc.CheckoutSessions}
	}
	if clients.sessions == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:        clients,
		account:    strings.TrimSpace(cfg.AccountID),
		successURL: strings.TrimSpace(cfg.SuccessURL),
		cancelURL:  strings.TrimSpace(cfg.CancelURL),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateInvoice creates a Stripe Checkout session for the order.
func (p *StripeProvider) CreateInvoice(ctx context.Context, req InvoiceRequest) (Invoice, error) {
	if p == nil {
		return Invoice{}, errors.New("stripe: provider is nil")
	}
	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		return Invoice{}, errors.New("stripe: external id is required")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(externalID),
	}
	params.Context = ctx
	if p.successURL != "" {
		params.SuccessURL = stripe.String(p.successURL)
	}
	if p.cancelURL != "" {
		params.CancelURL = stripe.String(p.cancelURL)
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if email := strings.TrimSpace(req.PayerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	if duration := req.Duration; duration > 0 {
		params.ExpiresAt = stripe.Int64(p.clock().Add(duration).Unix())
	}

	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["external_id"] = externalID
	params.Metadata = metadata

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		quantity := item.Quantity
		if quantity < 1 {
			quantity = 1
		}
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(defaultString(item.Currency, req.Currency))),
				UnitAmount: stripe.Int64(item.Price),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.SKU != "" {
			line.PriceData.ProductData.Metadata = map[string]string{
				"sku": item.SKU,
			}
		}
		lineItems = append(lineItems, line)
	}
	if len(lineItems) == 0 {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(defaultString(req.Description, "Order "+externalID)),
				},
			},
		})
	}
	params.LineItems = lineItems

	session, err := p.api.sessions.New(params)
	if err != nil {
		return Invoice{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId":  session.ID,
		"externalId": externalID,
		"currency":   session.Currency,
	})

	return stripeInvoice(session), nil
}

// GetInvoice retrieves a Stripe Checkout session.
func (p *StripeProvider) GetInvoice(ctx context.Context, invoiceID string) (Invoice, error) {
	if p == nil {
		return Invoice{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	session, err := p.api.sessions.Get(strings.TrimSpace(invoiceID), params)
	if err != nil {
		return Invoice{}, fmt.Errorf("stripe: lookup checkout session: %w", err)
	}
	return stripeInvoice(session), nil
}

// ExpireInvoice expires an open Stripe Checkout session.
func (p *StripeProvider) ExpireInvoice(ctx context.Context, invoiceID string) (Invoice, error) {
	if p == nil {
		return Invoice{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	session, err := p.api.sessions.Expire(strings.TrimSpace(invoiceID), params)
	if err != nil {
		return Invoice{}, fmt.Errorf("stripe: expire checkout session: %w", err)
	}
	p.logger(ctx, "payments.stripe.session.expired", map[string]any{
		"sessionId": session.ID,
	})
	return stripeInvoice(session), nil
}

func stripeInvoice(session *stripe.CheckoutSession) Invoice {
	if session == nil {
		return Invoice{}
	}

	status := StatusPending
	switch session.Status {
	case stripe.CheckoutSessionStatusExpired:
		status = StatusExpired
	case stripe.CheckoutSessionStatusComplete:
		if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			status = StatusPending
		} else {
			status = StatusPaid
		}
	}

	var expiresAt *time.Time
	if session.ExpiresAt != 0 {
		ts := time.Unix(session.ExpiresAt, 0).UTC()
		expiresAt = &ts
	}
	var paidAt *time.Time
	if status == StatusPaid && session.Created != 0 {
		ts := time.Unix(session.Created, 0).UTC()
		paidAt = &ts
	}

	raw := map[string]any{}
	if data, err := json.Marshal(session); err == nil {
		_ = json.Unmarshal(data, &raw)
	} else {
		raw["session"] = session
	}

	return Invoice{
		ID:         session.ID,
		Provider:   StripeProviderKey,
		ExternalID: session.ClientReferenceID,
		Status:     status,
		Amount:     session.AmountTotal,
		Currency:   strings.ToUpper(string(session.Currency)),
		InvoiceURL: session.URL,
		ExpiresAt:  expiresAt,
		PaidAt:     paidAt,
		Raw:        raw,
	}
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
