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
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/warungkita/api/internal/domain"
	pfirestore "github.com/warungkita/api/internal/platform/firestore"
	"github.com/warungkita/api/internal/repositories"
)

const ordersCollection = "orders"

type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
}

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	orders := pfirestore.NewCollection[orderDocument](provider, ordersCollection)
	return &OrderRepository{provider: provider, orders: orders}, nil
}

type orderCustomerDocument struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email"`
	Phone string `firestore:"phone,omitempty"`
}

type orderAddressDocument struct {
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	Province   string  `firestore:"province"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
}

type orderLineItemDocument struct {
	ProductID string `firestore:"productId"`
	SKU       string `firestore:"sku"`
	Name      string `firestore:"name"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
	Total     int64  `firestore:"total"`
}

type orderTotalsDocument struct {
	Subtotal    int64 `firestore:"subtotal"`
	Tax         int64 `firestore:"tax"`
	DeliveryFee int64 `firestore:"deliveryFee"`
	AdminFee    int64 `firestore:"adminFee"`
	Total       int64 `firestore:"total"`
}

type orderDocument struct {
	OrderNumber     string                  `firestore:"orderNumber"`
	UserID          string                  `firestore:"userId"`
	Status          string                  `firestore:"status"`
	Currency        string                  `firestore:"currency"`
	Customer        orderCustomerDocument   `firestore:"customer"`
	DeliveryAddress orderAddressDocument    `firestore:"deliveryAddress"`
	Items           []orderLineItemDocument `firestore:"items"`
	Totals          orderTotalsDocument     `firestore:"totals"`
	InvoiceID       *string                 `firestore:"invoiceId,omitempty"`
	InvoiceURL      *string                 `firestore:"invoiceUrl,omitempty"`
	Metadata        map[string]any          `firestore:"metadata,omitempty"`
	CreatedAt       time.Time               `firestore:"createdAt"`
	UpdatedAt       time.Time               `firestore:"updatedAt"`
	PaidAt          *time.Time              `firestore:"paidAt,omitempty"`
	ExpiredAt       *time.Time              `firestore:"expiredAt,omitempty"`
	FailedAt        *time.Time              `firestore:"failedAt,omitempty"`
	RefundedAt      *time.Time              `firestore:"refundedAt,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderLineItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderLineItemDocument{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		}
	}
	return orderDocument{
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		UserID:      strings.TrimSpace(order.UserID),
		Status:      string(order.Status),
		Currency:    string(order.Currency),
		Customer: orderCustomerDocument{
			Name:  strings.TrimSpace(order.Customer.Name),
			Email: strings.TrimSpace(order.Customer.Email),
			Phone: strings.TrimSpace(order.Customer.Phone),
		},
		DeliveryAddress: orderAddressDocument{
			Line1:      strings.TrimSpace(order.DeliveryAddress.Line1),
			Line2:      order.DeliveryAddress.Line2,
			City:       strings.TrimSpace(order.DeliveryAddress.City),
			Province:   strings.TrimSpace(order.DeliveryAddress.Province),
			PostalCode: strings.TrimSpace(order.DeliveryAddress.PostalCode),
			Country:    strings.TrimSpace(order.DeliveryAddress.Country),
		},
		Items: items,
		Totals: orderTotalsDocument{
			Subtotal:    order.Totals.Subtotal,
			Tax:         order.Totals.Tax,
			DeliveryFee: order.Totals.DeliveryFee,
			AdminFee:    order.Totals.AdminFee,
			Total:       order.Totals.Total,
		},
		InvoiceID:  order.InvoiceID,
		InvoiceURL: order.InvoiceURL,
		Metadata:   order.Metadata,
		CreatedAt:  order.CreatedAt.UTC(),
		UpdatedAt:  order.UpdatedAt.UTC(),
		PaidAt:     order.PaidAt,
		ExpiredAt:  order.ExpiredAt,
		FailedAt:   order.FailedAt,
		RefundedAt: order.RefundedAt,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderLineItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderLineItem{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		}
	}
	return domain.Order{
		ID:          id,
		OrderNumber: d.OrderNumber,
		UserID:      d.UserID,
		Status:      domain.OrderStatus(d.Status),
		Currency:    domain.Currency(d.Currency),
		Customer: domain.Customer{
			Name:  d.Customer.Name,
			Email: d.Customer.Email,
			Phone: d.Customer.Phone,
		},
		DeliveryAddress: domain.Address{
			Line1:      d.DeliveryAddress.Line1,
			Line2:      d.DeliveryAddress.Line2,
			City:       d.DeliveryAddress.City,
			Province:   d.DeliveryAddress.Province,
			PostalCode: d.DeliveryAddress.PostalCode,
			Country:    d.DeliveryAddress.Country,
		},
		Items: items,
		Totals: domain.OrderTotals{
			Subtotal:    d.Totals.Subtotal,
			Tax:         d.Totals.Tax,
			DeliveryFee: d.Totals.DeliveryFee,
			AdminFee:    d.Totals.AdminFee,
			Total:       d.Totals.Total,
		},
		InvoiceID:  d.InvoiceID,
		InvoiceURL: d.InvoiceURL,
		Metadata:   d.Metadata,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
		PaidAt:     d.PaidAt,
		ExpiredAt:  d.ExpiredAt,
		FailedAt:   d.FailedAt,
		RefundedAt: d.RefundedAt,
	}
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order insert: id is required")
	}
	docRef, err := r.orders.DocumentRef(ctx, orderID)
	if err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	doc := newOrderDocument(order)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order update: id is required")
	}
	doc := newOrderDocument(order)
	if _, err := r.orders.Set(ctx, orderID, doc); err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// UpdateStatus performs a compare-and-set transition. The write only happens
// when the stored status still equals expected; otherwise
// repositories.ErrOrderStatusConflict is returned with no change, which keeps
// settled orders settled under racing webhook and poll reports.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, expected domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order update status: id is required")
	}
	if update.Status == "" {
		return domain.Order{}, errors.New("order update status: target status is required")
	}

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return status.Errorf(codes.NotFound, "order %s not found", orderID)
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		if doc.Status != string(expected) {
			return fmt.Errorf("order %s is %s, expected %s: %w", orderID, doc.Status, expected, repositories.ErrOrderStatusConflict)
		}

		doc.Status = string(update.Status)
		doc.UpdatedAt = update.UpdatedAt.UTC()
		if update.PaidAt != nil {
			doc.PaidAt = update.PaidAt
		}
		if update.ExpiredAt != nil {
			doc.ExpiredAt = update.ExpiredAt
		}
		if update.FailedAt != nil {
			doc.FailedAt = update.FailedAt
		}
		if update.RefundedAt != nil {
			doc.RefundedAt = update.RefundedAt
		}
		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}
		updated = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrOrderStatusConflict) {
			return domain.Order{}, err
		}
		return domain.Order{}, pfirestore.WrapError("orders.updateStatus", err)
	}
	return updated, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order find: id is required")
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.Order{}, errors.New("order find: order number is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.findByNumber", err)
	}
	iter := client.Collection(ordersCollection).Where("orderNumber", "==", orderNumber).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Order{}, pfirestore.WrapError("orders.findByNumber", status.Errorf(codes.NotFound, "order %s not found", orderNumber))
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.findByNumber", err)
	}
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	firestoreQuery := client.Collection(ordersCollection).Query
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		firestoreQuery = firestoreQuery.Where("userId", "==", userID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		firestoreQuery = firestoreQuery.Where("status", "in", statuses)
	}
	if filter.DateRange.From != nil {
		firestoreQuery = firestoreQuery.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		firestoreQuery = firestoreQuery.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	firestoreQuery = firestoreQuery.
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		firestoreQuery = firestoreQuery.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := firestoreQuery.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{
		Items:         orders,
		NextPageToken: nextToken,
	}, nil
}

type orderPageToken struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	if err := enc.Encode(token); err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode order page token json: %w", err)
	}
	return &token, nil
}
