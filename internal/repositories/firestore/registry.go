package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	pfirestore "github.com/warungkita/api/internal/platform/firestore"
	"github.com/warungkita/api/internal/repositories"
)

// Registry wires every Firestore-backed repository behind the
// repositories.Registry interface consumed by the DI container.
type Registry struct {
	provider *pfirestore.Provider

	products             *ProductRepository
	orders               *OrderRepository
	paymentRequests      *PaymentRequestRepository
	reconciliationEvents *ReconciliationEventRepository
	counters             *CounterRepository
	health               repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the repository set on a shared Firestore provider.
// Additional health checks (payment provider reachability, pub/sub) can be
// appended by the caller.
func NewRegistry(provider *pfirestore.Provider, extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	paymentRequests, err := NewPaymentRequestRepository(provider)
	if err != nil {
		return nil, err
	}
	reconciliationEvents, err := NewReconciliationEventRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{
		Name:  "firestore",
		Check: firestorePing(provider),
	}}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:             provider,
		products:             products,
		orders:               orders,
		paymentRequests:      paymentRequests,
		reconciliationEvents: reconciliationEvents,
		counters:             counters,
		health:               health,
	}, nil
}

func firestorePing(provider *pfirestore.Provider) func(context.Context) error {
	return func(ctx context.Context) error {
		client, err := provider.Client(ctx)
		if err != nil {
			return err
		}
		iter := client.Collection(countersCollection).Limit(1).Documents(ctx)
		defer iter.Stop()
		if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
			return err
		}
		return nil
	}
}

func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Products() repositories.ProductRepository { return r.products }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) PaymentRequests() repositories.PaymentRequestRepository {
	return r.paymentRequests
}

func (r *Registry) ReconciliationEvents() repositories.ReconciliationEventRepository {
	return r.reconciliationEvents
}

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx runs fn inside a Firestore transaction. Repositories invoked from fn
// still issue their own reads and writes, so this is a coarse grouping hook
// rather than full cross-repository transactionality.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}
