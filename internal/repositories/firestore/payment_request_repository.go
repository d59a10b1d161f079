package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/warungkita/api/internal/domain"
	pfirestore "github.com/warungkita/api/internal/platform/firestore"
	"github.com/warungkita/api/internal/repositories"
)

const paymentRequestsCollection = "paymentRequests"

// PaymentRequestRepository stores one document per provider invoice, keyed by
// the provider invoice id so webhook and poll lookups are single reads.
type PaymentRequestRepository struct {
	provider *pfirestore.Provider
	requests *pfirestore.Collection[paymentRequestDocument]
}

func NewPaymentRequestRepository(provider *pfirestore.Provider) (*PaymentRequestRepository, error) {
	if provider == nil {
		return nil, errors.New("payment request repository requires firestore provider")
	}
	requests := pfirestore.NewCollection[paymentRequestDocument](provider, paymentRequestsCollection)
	return &PaymentRequestRepository{provider: provider, requests: requests}, nil
}

type paymentRequestDocument struct {
	OrderID    string         `firestore:"orderId"`
	ExternalID string         `firestore:"externalId"`
	Provider   string         `firestore:"provider"`
	Status     string         `firestore:"status"`
	Amount     int64          `firestore:"amount"`
	Currency   string         `firestore:"currency"`
	InvoiceURL string         `firestore:"invoiceUrl,omitempty"`
	Raw        map[string]any `firestore:"raw,omitempty"`
	ExpiresAt  *time.Time     `firestore:"expiresAt,omitempty"`
	PaidAt     *time.Time     `firestore:"paidAt,omitempty"`
	CreatedAt  time.Time      `firestore:"createdAt"`
	UpdatedAt  time.Time      `firestore:"updatedAt"`
}

func newPaymentRequestDocument(request domain.PaymentRequest) paymentRequestDocument {
	return paymentRequestDocument{
		OrderID:    strings.TrimSpace(request.OrderID),
		ExternalID: strings.TrimSpace(request.ExternalID),
		Provider:   strings.TrimSpace(request.Provider),
		Status:     string(request.Status),
		Amount:     request.Amount,
		Currency:   string(request.Currency),
		InvoiceURL: strings.TrimSpace(request.InvoiceURL),
		Raw:        request.Raw,
		ExpiresAt:  request.ExpiresAt,
		PaidAt:     request.PaidAt,
		CreatedAt:  request.CreatedAt.UTC(),
		UpdatedAt:  request.UpdatedAt.UTC(),
	}
}

func (d paymentRequestDocument) toDomain(invoiceID string) domain.PaymentRequest {
	return domain.PaymentRequest{
		InvoiceID:  invoiceID,
		OrderID:    d.OrderID,
		ExternalID: d.ExternalID,
		Provider:   d.Provider,
		Status:     domain.PaymentStatus(d.Status),
		Amount:     d.Amount,
		Currency:   domain.Currency(d.Currency),
		InvoiceURL: d.InvoiceURL,
		Raw:        d.Raw,
		ExpiresAt:  d.ExpiresAt,
		PaidAt:     d.PaidAt,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

// Insert creates the request document. A transaction guards the
// one-pending-request-per-order rule: when another pending request already
// exists for the same order the write is rejected with
// repositories.ErrPendingPaymentExists.
func (r *PaymentRequestRepository) Insert(ctx context.Context, request domain.PaymentRequest) error {
	if r == nil || r.provider == nil {
		return errors.New("payment request repository not initialised")
	}
	invoiceID := strings.TrimSpace(request.InvoiceID)
	if invoiceID == "" {
		return errors.New("payment request insert: invoice id is required")
	}
	if strings.TrimSpace(request.OrderID) == "" {
		return errors.New("payment request insert: order id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}
		pendingQuery := client.Collection(paymentRequestsCollection).
			Where("orderId", "==", request.OrderID).
			Where("status", "==", string(domain.PaymentStatusPending)).
			Limit(1)
		iter := tx.Documents(pendingQuery)
		defer iter.Stop()
		if snap, err := iter.Next(); err == nil {
			if snap.Ref.ID != invoiceID {
				return fmt.Errorf("order %s already has pending invoice %s: %w", request.OrderID, snap.Ref.ID, repositories.ErrPendingPaymentExists)
			}
			return fmt.Errorf("invoice %s already recorded: %w", invoiceID, repositories.ErrPendingPaymentExists)
		} else if !errors.Is(err, iterator.Done) {
			return err
		}

		requestRef, err := r.requests.DocumentRef(ctx, invoiceID)
		if err != nil {
			return err
		}
		return tx.Create(requestRef, newPaymentRequestDocument(request))
	})
	if err != nil {
		if errors.Is(err, repositories.ErrPendingPaymentExists) {
			return err
		}
		return pfirestore.WrapError("paymentRequests.insert", err)
	}
	return nil
}

func (r *PaymentRequestRepository) Update(ctx context.Context, request domain.PaymentRequest) error {
	if r == nil || r.requests == nil {
		return errors.New("payment request repository not initialised")
	}
	invoiceID := strings.TrimSpace(request.InvoiceID)
	if invoiceID == "" {
		return errors.New("payment request update: invoice id is required")
	}
	doc := newPaymentRequestDocument(request)
	if _, err := r.requests.Set(ctx, invoiceID, doc); err != nil {
		return pfirestore.WrapError("paymentRequests.update", err)
	}
	return nil
}

func (r *PaymentRequestRepository) FindByInvoiceID(ctx context.Context, invoiceID string) (domain.PaymentRequest, error) {
	if r == nil || r.requests == nil {
		return domain.PaymentRequest{}, errors.New("payment request repository not initialised")
	}
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return domain.PaymentRequest{}, errors.New("payment request find: invoice id is required")
	}
	doc, err := r.requests.Get(ctx, invoiceID)
	if err != nil {
		return domain.PaymentRequest{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *PaymentRequestRepository) FindPendingByOrder(ctx context.Context, orderID string) (domain.PaymentRequest, error) {
	if r == nil || r.provider == nil {
		return domain.PaymentRequest{}, errors.New("payment request repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.PaymentRequest{}, errors.New("payment request find: order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.PaymentRequest{}, pfirestore.WrapError("paymentRequests.findPending", err)
	}
	iter := client.Collection(paymentRequestsCollection).
		Where("orderId", "==", orderID).
		Where("status", "==", string(domain.PaymentStatusPending)).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.PaymentRequest{}, pfirestore.WrapError("paymentRequests.findPending", status.Errorf(codes.NotFound, "no pending payment request for order %s", orderID))
	}
	if err != nil {
		return domain.PaymentRequest{}, pfirestore.WrapError("paymentRequests.findPending", err)
	}
	var doc paymentRequestDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.PaymentRequest{}, fmt.Errorf("decode payment request %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// ListPending returns pending requests created before olderThan, oldest first.
// The poller uses it to pick up invoices whose webhooks may have been missed.
func (r *PaymentRequestRepository) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]domain.PaymentRequest, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("payment request repository not initialised")
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("paymentRequests.listPending", err)
	}
	firestoreQuery := client.Collection(paymentRequestsCollection).
		Where("status", "==", string(domain.PaymentStatusPending)).
		OrderBy("createdAt", firestore.Asc).
		Limit(limit)
	if !olderThan.IsZero() {
		firestoreQuery = firestoreQuery.Where("createdAt", "<=", olderThan.UTC())
	}

	iter := firestoreQuery.Documents(ctx)
	defer iter.Stop()

	var requests []domain.PaymentRequest
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("paymentRequests.listPending", err)
		}
		var doc paymentRequestDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode payment request %s: %w", snap.Ref.ID, err)
		}
		requests = append(requests, doc.toDomain(snap.Ref.ID))
	}
	return requests, nil
}
