package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/warungkita/api/internal/domain"
	"github.com/warungkita/api/internal/repositories"
)

const productIDPrefix = "prd_"

var (
	// ErrProductInvalidInput signals the caller provided invalid product data.
	ErrProductInvalidInput = errors.New("product: invalid input")
	// ErrProductNotFound indicates the product could not be located.
	ErrProductNotFound = errors.New("product: not found")
	// ErrProductUnavailable indicates catalog dependencies are currently unavailable.
	ErrProductUnavailable = errors.New("product: unavailable")
)

// ProductServiceDeps wires the dependencies required by the product service.
type ProductServiceDeps struct {
	Products repositories.ProductRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type productService struct {
	products repositories.ProductRepository
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
	newID    func() string
}

// NewProductService constructs a ProductService validating required dependencies.
func NewProductService(deps ProductServiceDeps) (ProductService, error) {
	if deps.Products == nil {
		return nil, errors.New("product service: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &productService{
		products: deps.Products,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		newID: func() string {
			return ulid.Make().String()
		},
	}, nil
}

// CreateProduct registers a new catalog entry.
func (s *productService) CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	if s == nil || s.products == nil {
		return Product{}, ErrProductUnavailable
	}
	product := cmd.Product
	if err := validateProduct(product); err != nil {
		return Product{}, err
	}

	now := s.now()
	if strings.TrimSpace(product.ID) == "" {
		product.ID = productIDPrefix + s.newID()
	}
	product.CreatedAt = now
	product.UpdatedAt = now

	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, translateProductError(err)
	}
	s.logger(ctx, "product.created", map[string]any{
		"product_id": product.ID,
		"sku":        product.SKU,
		"actor_id":   cmd.ActorID,
	})
	return product, nil
}

// UpdateProduct replaces an existing catalog entry.
func (s *productService) UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	if s == nil || s.products == nil {
		return Product{}, ErrProductUnavailable
	}
	product := cmd.Product
	if strings.TrimSpace(product.ID) == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}
	if err := validateProduct(product); err != nil {
		return Product{}, err
	}

	current, err := s.products.FindByID(ctx, product.ID)
	if err != nil {
		return Product{}, translateProductError(err)
	}
	product.CreatedAt = current.CreatedAt
	// Stock moves through checkout, not catalog updates.
	product.Stock = current.Stock
	product.UpdatedAt = s.now()

	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, translateProductError(err)
	}
	s.logger(ctx, "product.updated", map[string]any{
		"product_id": product.ID,
		"actor_id":   cmd.ActorID,
	})
	return product, nil
}

// GetProduct resolves a single catalog entry by id.
func (s *productService) GetProduct(ctx context.Context, productID string) (Product, error) {
	if s == nil || s.products == nil {
		return Product{}, ErrProductUnavailable
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, translateProductError(err)
	}
	return product, nil
}

// ListProducts pages catalog entries matching the supplied filter.
func (s *productService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error) {
	if s == nil || s.products == nil {
		return domain.CursorPage[Product]{}, ErrProductUnavailable
	}
	page, err := s.products.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Product]{}, translateProductError(err)
	}
	return page, nil
}

func validateProduct(product Product) error {
	if strings.TrimSpace(product.SKU) == "" {
		return fmt.Errorf("%w: sku is required", ErrProductInvalidInput)
	}
	if strings.TrimSpace(product.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrProductInvalidInput)
	}
	if !domain.ValidCurrency(product.Currency) {
		return fmt.Errorf("%w: unsupported currency %q", ErrProductInvalidInput, product.Currency)
	}
	if product.Price < 0 {
		return fmt.Errorf("%w: price must be >= 0", ErrProductInvalidInput)
	}
	if product.Stock < 0 {
		return fmt.Errorf("%w: stock must be >= 0", ErrProductInvalidInput)
	}
	return nil
}

func translateProductError(err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) && stockErr.Code == repositories.StockErrorProductNotFound {
		return fmt.Errorf("%w: %s", ErrProductNotFound, stockErr.ProductID)
	}
	return err
}
