package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/warungkita/api/internal/domain"
	"github.com/warungkita/api/internal/repositories"
)

func TestCreateProductAssignsIDAndTimestamps(t *testing.T) {
	now := time.Date(2025, 5, 6, 8, 0, 0, 0, time.UTC)
	var inserted domain.Product
	products := &stubProductRepository{
		insertFunc: func(_ context.Context, product domain.Product) error {
			inserted = product
			return nil
		},
	}

	svc, err := NewProductService(ProductServiceDeps{Products: products, Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("NewProductService: %v", err)
	}

	product, err := svc.CreateProduct(context.Background(), UpsertProductCommand{
		Product: domain.Product{
			SKU:      "KOPI-250",
			Name:     "Kopi Gayo 250g",
			Currency: domain.CurrencyIDR,
			Price:    10_000,
			Stock:    25,
			Active:   true,
		},
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if !strings.HasPrefix(product.ID, "prd_") {
		t.Fatalf("expected generated id, got %q", product.ID)
	}
	if !product.CreatedAt.Equal(now) || !product.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected timestamps %v %v", product.CreatedAt, product.UpdatedAt)
	}
	if inserted.ID != product.ID {
		t.Fatal("product was not persisted")
	}
}

func TestCreateProductValidation(t *testing.T) {
	svc, err := NewProductService(ProductServiceDeps{Products: &stubProductRepository{}})
	if err != nil {
		t.Fatalf("NewProductService: %v", err)
	}

	cases := map[string]domain.Product{
		"missing sku":    {Name: "X", Currency: domain.CurrencyIDR, Price: 1},
		"missing name":   {SKU: "X", Currency: domain.CurrencyIDR, Price: 1},
		"bad currency":   {SKU: "X", Name: "X", Currency: "XYZ", Price: 1},
		"negative price": {SKU: "X", Name: "X", Currency: domain.CurrencyIDR, Price: -1},
		"negative stock": {SKU: "X", Name: "X", Currency: domain.CurrencyIDR, Price: 1, Stock: -1},
	}
	for name, product := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.CreateProduct(context.Background(), UpsertProductCommand{Product: product}); !errors.Is(err, ErrProductInvalidInput) {
				t.Fatalf("expected ErrProductInvalidInput, got %v", err)
			}
		})
	}
}

func TestUpdateProductPreservesStockAndCreatedAt(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 5, 6, 8, 0, 0, 0, time.UTC)

	var updated domain.Product
	products := &stubProductRepository{
		findFunc: func(_ context.Context, productID string) (domain.Product, error) {
			return domain.Product{
				ID:        productID,
				SKU:       "KOPI-250",
				Name:      "Kopi Gayo 250g",
				Currency:  domain.CurrencyIDR,
				Price:     10_000,
				Stock:     17,
				Active:    true,
				CreatedAt: created,
			}, nil
		},
		updateFunc: func(_ context.Context, product domain.Product) error {
			updated = product
			return nil
		},
	}

	svc, err := NewProductService(ProductServiceDeps{Products: products, Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("NewProductService: %v", err)
	}

	_, err = svc.UpdateProduct(context.Background(), UpsertProductCommand{
		Product: domain.Product{
			ID:       "prd_1",
			SKU:      "KOPI-250",
			Name:     "Kopi Gayo 250g (baru)",
			Currency: domain.CurrencyIDR,
			Price:    12_000,
			Stock:    999, // must be ignored
			Active:   true,
		},
	})
	if err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}
	if updated.Stock != 17 {
		t.Fatalf("catalog updates must not move stock, got %d", updated.Stock)
	}
	if !updated.CreatedAt.Equal(created) {
		t.Fatalf("createdAt must be preserved, got %v", updated.CreatedAt)
	}
	if !updated.UpdatedAt.Equal(now) {
		t.Fatalf("updatedAt must advance, got %v", updated.UpdatedAt)
	}
}

func TestGetProductNotFound(t *testing.T) {
	products := &stubProductRepository{
		findFunc: func(_ context.Context, productID string) (domain.Product, error) {
			return domain.Product{}, repositories.NewStockError(repositories.StockErrorProductNotFound, productID, "", nil)
		},
	}
	svc, err := NewProductService(ProductServiceDeps{Products: products})
	if err != nil {
		t.Fatalf("NewProductService: %v", err)
	}

	if _, err := svc.GetProduct(context.Background(), "prd_missing"); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}
