package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/warungkita/api/internal/domain"
	pfirestore "github.com/warungkita/api/internal/platform/firestore"
)

const reconciliationEventsCollection = "reconciliationEvents"

// ReconciliationEventRepository is an append-only ledger. Events are never
// updated or deleted once written.
type ReconciliationEventRepository struct {
	provider *pfirestore.Provider
	events   *pfirestore.Collection[reconciliationEventDocument]
}

func NewReconciliationEventRepository(provider *pfirestore.Provider) (*ReconciliationEventRepository, error) {
	if provider == nil {
		return nil, errors.New("reconciliation event repository requires firestore provider")
	}
	events := pfirestore.NewCollection[reconciliationEventDocument](provider, reconciliationEventsCollection)
	return &ReconciliationEventRepository{provider: provider, events: events}, nil
}

type reconciliationEventDocument struct {
	InvoiceID      string         `firestore:"invoiceId"`
	OrderID        string         `firestore:"orderId"`
	ReportedStatus string         `firestore:"reportedStatus"`
	Source         string         `firestore:"source"`
	Applied        bool           `firestore:"applied"`
	Note           string         `firestore:"note,omitempty"`
	Raw            map[string]any `firestore:"raw,omitempty"`
	ReceivedAt     time.Time      `firestore:"receivedAt"`
}

func newReconciliationEventDocument(event domain.ReconciliationEvent) reconciliationEventDocument {
	return reconciliationEventDocument{
		InvoiceID:      strings.TrimSpace(event.InvoiceID),
		OrderID:        strings.TrimSpace(event.OrderID),
		ReportedStatus: string(event.ReportedStatus),
		Source:         string(event.Source),
		Applied:        event.Applied,
		Note:           strings.TrimSpace(event.Note),
		Raw:            event.Raw,
		ReceivedAt:     event.ReceivedAt.UTC(),
	}
}

func (d reconciliationEventDocument) toDomain(id string) domain.ReconciliationEvent {
	return domain.ReconciliationEvent{
		ID:             id,
		InvoiceID:      d.InvoiceID,
		OrderID:        d.OrderID,
		ReportedStatus: domain.PaymentStatus(d.ReportedStatus),
		Source:         domain.ReconciliationSource(d.Source),
		Applied:        d.Applied,
		Note:           d.Note,
		Raw:            d.Raw,
		ReceivedAt:     d.ReceivedAt,
	}
}

func (r *ReconciliationEventRepository) Append(ctx context.Context, event domain.ReconciliationEvent) error {
	if r == nil || r.events == nil {
		return errors.New("reconciliation event repository not initialised")
	}
	eventID := strings.TrimSpace(event.ID)
	if eventID == "" {
		return errors.New("reconciliation event append: id is required")
	}
	if strings.TrimSpace(event.InvoiceID) == "" {
		return errors.New("reconciliation event append: invoice id is required")
	}
	docRef, err := r.events.DocumentRef(ctx, eventID)
	if err != nil {
		return pfirestore.WrapError("reconciliationEvents.append", err)
	}
	if _, err := docRef.Create(ctx, newReconciliationEventDocument(event)); err != nil {
		return pfirestore.WrapError("reconciliationEvents.append", err)
	}
	return nil
}

func (r *ReconciliationEventRepository) ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.ReconciliationEvent], error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.CursorPage[domain.ReconciliationEvent]{}, errors.New("reconciliation event list: order id is required")
	}
	return r.list(ctx, "orderId", orderID, pager)
}

func (r *ReconciliationEventRepository) ListByInvoice(ctx context.Context, invoiceID string, pager domain.Pagination) (domain.CursorPage[domain.ReconciliationEvent], error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return domain.CursorPage[domain.ReconciliationEvent]{}, errors.New("reconciliation event list: invoice id is required")
	}
	return r.list(ctx, "invoiceId", invoiceID, pager)
}

func (r *ReconciliationEventRepository) list(ctx context.Context, field, value string, pager domain.Pagination) (domain.CursorPage[domain.ReconciliationEvent], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.ReconciliationEvent]{}, errors.New("reconciliation event repository not initialised")
	}

	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.ReconciliationEvent]{}, pfirestore.WrapError("reconciliationEvents.list", err)
	}

	firestoreQuery := client.Collection(reconciliationEventsCollection).
		Where(field, "==", value).
		OrderBy("receivedAt", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		decoded, err := decodeReconciliationPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.ReconciliationEvent]{}, pfirestore.WrapError("reconciliationEvents.list", err)
		}
		firestoreQuery = firestoreQuery.StartAfter(decoded.ReceivedAt, decoded.ID)
	}

	iter := firestoreQuery.Documents(ctx)
	defer iter.Stop()

	var events []domain.ReconciliationEvent
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.ReconciliationEvent]{}, pfirestore.WrapError("reconciliationEvents.list", err)
		}
		var doc reconciliationEventDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.ReconciliationEvent]{}, fmt.Errorf("decode reconciliation event %s: %w", snap.Ref.ID, err)
		}
		events = append(events, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(events) > pageSize
	if hasMore {
		events = events[:pageSize]
	}
	var nextToken string
	if hasMore && len(events) > 0 {
		last := events[len(events)-1]
		encoded, err := encodeReconciliationPageToken(reconciliationPageToken{ID: last.ID, ReceivedAt: last.ReceivedAt})
		if err != nil {
			return domain.CursorPage[domain.ReconciliationEvent]{}, pfirestore.WrapError("reconciliationEvents.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.ReconciliationEvent]{
		Items:         events,
		NextPageToken: nextToken,
	}, nil
}

type reconciliationPageToken struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"receivedAt"`
}

func encodeReconciliationPageToken(token reconciliationPageToken) (string, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	if err := enc.Encode(token); err != nil {
		return "", fmt.Errorf("encode reconciliation page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeReconciliationPageToken(encoded string) (*reconciliationPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode reconciliation page token: %w", err)
	}
	var token reconciliationPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode reconciliation page token json: %w", err)
	}
	return &token, nil
}
