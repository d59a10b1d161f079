//go:build integration

package firestore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/warungkita/api/internal/domain"
	pconfig "github.com/warungkita/api/internal/platform/config"
	pfirestore "github.com/warungkita/api/internal/platform/firestore"
	"github.com/warungkita/api/internal/repositories"
)

func emulatorProvider(t *testing.T) *pfirestore.Provider {
	t.Helper()

	endpoint := startRepositoryEmulator(t)
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "warungkita-test",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func TestDecrementStockContendedAgainstEmulator(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	provider := emulatorProvider(t)
	repo, err := NewProductRepository(provider)
	if err != nil {
		t.Fatalf("new product repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC()
	if err := repo.Insert(ctx, domain.Product{
		ID:        "prd_last",
		SKU:       "KOPI-250",
		Name:      "Kopi Gayo 250g",
		Currency:  domain.CurrencyIDR,
		Price:     10_000,
		Stock:     1,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	// With one unit on hand, concurrent checkouts must reserve it at most once.
	const workers = 8
	results := make([]error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(slot int) {
			defer wg.Done()
			results[slot] = repo.DecrementStock(ctx, []repositories.StockLine{
				{ProductID: "prd_last", Quantity: 1},
			})
		}(i)
	}
	wg.Wait()

	successes := 0
	for slot, err := range results {
		if err == nil {
			successes++
			continue
		}
		var stockErr *repositories.StockError
		if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorInsufficient {
			t.Fatalf("worker %d: unexpected failure %v", slot, err)
		}
	}
	if successes != 1 {
		t.Fatalf("decrements succeeded %d times, want exactly 1", successes)
	}

	product, err := repo.FindByID(ctx, "prd_last")
	if err != nil {
		t.Fatalf("find product: %v", err)
	}
	if product.Stock != 0 {
		t.Fatalf("remaining stock = %d, want 0", product.Stock)
	}
}

func TestUpdateStatusConflictAgainstEmulator(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	provider := emulatorProvider(t)
	repo, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC()
	if err := repo.Insert(ctx, domain.Order{
		ID:          "ord_cas",
		OrderNumber: "WK-20260901-0001",
		Status:      domain.OrderStatusPending,
		Currency:    domain.CurrencyIDR,
		Totals:      domain.OrderTotals{Subtotal: 20_000, Total: 20_000},
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		t.Fatalf("insert order: %v", err)
	}

	paidAt := now.Add(time.Minute)
	settled, err := repo.UpdateStatus(ctx, "ord_cas", domain.OrderStatusPending, repositories.OrderStatusUpdate{
		Status:    domain.OrderStatusPaid,
		PaidAt:    &paidAt,
		UpdatedAt: paidAt,
	})
	if err != nil {
		t.Fatalf("settle order: %v", err)
	}
	if settled.Status != domain.OrderStatusPaid {
		t.Fatalf("settled status = %s, want %s", settled.Status, domain.OrderStatusPaid)
	}

	// A second report expecting the old status must find the conflict and
	// leave the settled order untouched.
	expiredAt := now.Add(2 * time.Minute)
	_, err = repo.UpdateStatus(ctx, "ord_cas", domain.OrderStatusPending, repositories.OrderStatusUpdate{
		Status:    domain.OrderStatusExpired,
		ExpiredAt: &expiredAt,
		UpdatedAt: expiredAt,
	})
	if !errors.Is(err, repositories.ErrOrderStatusConflict) {
		t.Fatalf("expected ErrOrderStatusConflict, got %v", err)
	}

	order, err := repo.FindByID(ctx, "ord_cas")
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("status after conflict = %s, want %s", order.Status, domain.OrderStatusPaid)
	}
	if order.ExpiredAt != nil {
		t.Fatalf("conflicting update leaked ExpiredAt %v", order.ExpiredAt)
	}
}

func TestInsertPendingUniquenessAgainstEmulator(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	provider := emulatorProvider(t)
	repo, err := NewPaymentRequestRepository(provider)
	if err != nil {
		t.Fatalf("new payment request repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC()
	first := domain.PaymentRequest{
		InvoiceID: "inv_a",
		OrderID:   "ord_1",
		Provider:  "invoice",
		Status:    domain.PaymentStatusPending,
		Amount:    42_200,
		Currency:  domain.CurrencyIDR,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.Insert(ctx, first); err != nil {
		t.Fatalf("insert first request: %v", err)
	}

	second := first
	second.InvoiceID = "inv_b"
	if err := repo.Insert(ctx, second); !errors.Is(err, repositories.ErrPendingPaymentExists) {
		t.Fatalf("expected ErrPendingPaymentExists for second pending insert, got %v", err)
	}

	// Once the open request settles, a fresh invoice may be recorded.
	paidAt := now.Add(time.Minute)
	first.Status = domain.PaymentStatusSuccess
	first.PaidAt = &paidAt
	first.UpdatedAt = paidAt
	if err := repo.Update(ctx, first); err != nil {
		t.Fatalf("settle first request: %v", err)
	}
	if err := repo.Insert(ctx, second); err != nil {
		t.Fatalf("insert after settlement: %v", err)
	}

	fetched, err := repo.FindPendingByOrder(ctx, "ord_1")
	if err != nil {
		t.Fatalf("find pending: %v", err)
	}
	if fetched.InvoiceID != "inv_b" {
		t.Fatalf("pending invoice = %q, want inv_b", fetched.InvoiceID)
	}
}
