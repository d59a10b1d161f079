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

const productsCollection = "products"

type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.Collection[productDocument]
}

func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	products := pfirestore.NewCollection[productDocument](provider, productsCollection)
	return &ProductRepository{provider: provider, products: products}, nil
}

type productDocument struct {
	SKU         string         `firestore:"sku"`
	Name        string         `firestore:"name"`
	Description string         `firestore:"description,omitempty"`
	Currency    string         `firestore:"currency"`
	Price       int64          `firestore:"price"`
	Stock       int            `firestore:"stock"`
	Active      bool           `firestore:"active"`
	Metadata    map[string]any `firestore:"metadata,omitempty"`
	CreatedAt   time.Time      `firestore:"createdAt"`
	UpdatedAt   time.Time      `firestore:"updatedAt"`
}

func newProductDocument(product domain.Product) productDocument {
	return productDocument{
		SKU:         strings.TrimSpace(product.SKU),
		Name:        strings.TrimSpace(product.Name),
		Description: strings.TrimSpace(product.Description),
		Currency:    string(product.Currency),
		Price:       product.Price,
		Stock:       product.Stock,
		Active:      product.Active,
		Metadata:    product.Metadata,
		CreatedAt:   product.CreatedAt.UTC(),
		UpdatedAt:   product.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:          id,
		SKU:         strings.TrimSpace(d.SKU),
		Name:        strings.TrimSpace(d.Name),
		Description: strings.TrimSpace(d.Description),
		Currency:    domain.Currency(strings.TrimSpace(d.Currency)),
		Price:       d.Price,
		Stock:       d.Stock,
		Active:      d.Active,
		Metadata:    d.Metadata,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if r == nil || r.products == nil {
		return errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product insert: id is required")
	}
	doc := newProductDocument(product)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	docRef, err := r.products.DocumentRef(ctx, product.ID)
	if err != nil {
		return wrapProductError("product.insert", err)
	}
	if _, err := docRef.Create(ctx, doc); err != nil {
		return wrapProductError("product.insert", err)
	}
	return nil
}

func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.products == nil {
		return errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product update: id is required")
	}
	doc := newProductDocument(product)
	doc.UpdatedAt = time.Now().UTC()
	if _, err := r.products.Set(ctx, product.ID, doc); err != nil {
		return wrapProductError("product.update", err)
	}
	return nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product find: id is required")
	}
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.Product{}, repositories.NewStockError(repositories.StockErrorProductNotFound, productID, fmt.Sprintf("product %s not found", productID), err)
		}
		return domain.Product{}, wrapProductError("product.findByID", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
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
		return domain.CursorPage[domain.Product]{}, wrapProductError("product.list", err)
	}

	firestoreQuery := client.Collection(productsCollection).Query
	if filter.ActiveOnly {
		firestoreQuery = firestoreQuery.Where("active", "==", true)
	}
	if filter.Currency != nil {
		firestoreQuery = firestoreQuery.Where("currency", "==", string(*filter.Currency))
	}
	firestoreQuery = firestoreQuery.OrderBy("sku", firestore.Asc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeProductPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, wrapProductError("product.list", err)
		}
		firestoreQuery = firestoreQuery.StartAfter(decoded.SKU)
	}

	iter := firestoreQuery.Documents(ctx)
	defer iter.Stop()

	var products []domain.Product
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Product]{}, wrapProductError("product.list", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products = append(products, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(products) > pageSize
	if hasMore {
		products = products[:pageSize]
	}
	var nextToken string
	if hasMore && len(products) > 0 {
		last := products[len(products)-1]
		encoded, err := encodeProductPageToken(productPageToken{SKU: last.SKU})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, wrapProductError("product.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Product]{
		Items:         products,
		NextPageToken: nextToken,
	}, nil
}

// DecrementStock atomically subtracts the requested quantities from every
// product in the same transaction. Either all lines succeed or none do.
func (r *ProductRepository) DecrementStock(ctx context.Context, lines []repositories.StockLine) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	if len(lines) == 0 {
		return errors.New("product decrement: at least one line is required")
	}

	now := time.Now().UTC()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type pendingWrite struct {
			ref *firestore.DocumentRef
			doc productDocument
		}
		writes := make([]pendingWrite, 0, len(lines))
		for _, line := range lines {
			productID := strings.TrimSpace(line.ProductID)
			if productID == "" {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, "", "product decrement: product id is required", nil)
			}
			if line.Quantity <= 0 {
				return repositories.NewStockError(repositories.StockErrorUnknown, productID, fmt.Sprintf("product decrement: quantity for %s must be > 0", productID), nil)
			}

			productRef, err := r.products.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(productRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewStockError(repositories.StockErrorProductNotFound, productID, fmt.Sprintf("product %s not found", productID), err)
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", productID, err)
			}
			if !doc.Active {
				return repositories.NewStockError(repositories.StockErrorProductInactive, productID, fmt.Sprintf("product %s is inactive", productID), nil)
			}
			if doc.Stock < line.Quantity {
				return repositories.NewStockError(repositories.StockErrorInsufficient, productID, fmt.Sprintf("insufficient stock for %s", productID), nil)
			}
			doc.Stock -= line.Quantity
			doc.UpdatedAt = now
			writes = append(writes, pendingWrite{ref: productRef, doc: doc})
		}
		for _, write := range writes {
			if err := tx.Set(write.ref, write.doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapProductError("product.decrementStock", err)
	}
	return nil
}

// RestoreStock adds the quantities back. It is the compensation for a
// decrement whose surrounding work failed, so a missing product only skips
// that line instead of failing the whole restore.
func (r *ProductRepository) RestoreStock(ctx context.Context, lines []repositories.StockLine) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	if len(lines) == 0 {
		return nil
	}

	now := time.Now().UTC()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type pendingWrite struct {
			ref *firestore.DocumentRef
			doc productDocument
		}
		writes := make([]pendingWrite, 0, len(lines))
		for _, line := range lines {
			productID := strings.TrimSpace(line.ProductID)
			if productID == "" || line.Quantity <= 0 {
				continue
			}
			productRef, err := r.products.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(productRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					continue
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", productID, err)
			}
			doc.Stock += line.Quantity
			doc.UpdatedAt = now
			writes = append(writes, pendingWrite{ref: productRef, doc: doc})
		}
		for _, write := range writes {
			if err := tx.Set(write.ref, write.doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapProductError("product.restoreStock", err)
	}
	return nil
}

type productPageToken struct {
	SKU string `json:"sku"`
}

func encodeProductPageToken(token productPageToken) (string, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	if err := enc.Encode(token); err != nil {
		return "", fmt.Errorf("encode product page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeProductPageToken(encoded string) (*productPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode product page token: %w", err)
	}
	var token productPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode product page token json: %w", err)
	}
	return &token, nil
}

func wrapProductError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}
