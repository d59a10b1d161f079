package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/warungkita/api/internal/domain"
	"github.com/warungkita/api/internal/payments"
	pfirestore "github.com/warungkita/api/internal/platform/firestore"
	"github.com/warungkita/api/internal/repositories"
)

const (
	reconciliationEventIDPrefix = "rce_"

	noteApplied            = "applied"
	noteRequestSettled     = "request already settled"
	noteNoTransition       = "no transition"
	noteUnrecognizedStatus = "unrecognized provider status"
	noteOrderSettled       = "order already settled"
)

var (
	// ErrReconciliationInvalidInput indicates the caller supplied invalid input parameters.
	ErrReconciliationInvalidInput = errors.New("reconciliation: invalid input")
	// ErrReconciliationUnavailable indicates reconciliation dependencies are currently unavailable.
	ErrReconciliationUnavailable = errors.New("reconciliation: unavailable")
	// ErrReconciliationUnknownInvoice indicates the report references an invoice this system never issued.
	ErrReconciliationUnknownInvoice = errors.New("reconciliation: unknown invoice")
	// ErrReconciliationOrderNotFound indicates the order could not be located.
	ErrReconciliationOrderNotFound = errors.New("reconciliation: order not found")
	// ErrReconciliationNoInvoice indicates no invoice has been issued for the order yet.
	ErrReconciliationNoInvoice = errors.New("reconciliation: no invoice issued for order")
	// ErrReconciliationProviderUnavailable indicates the provider could not be queried.
	ErrReconciliationProviderUnavailable = errors.New("reconciliation: payment provider unavailable")
)

// invoiceFetcher abstracts payments.Manager lookups for easier testing.
type invoiceFetcher interface {
	GetInvoice(ctx context.Context, providerKey, invoiceID string) (payments.Invoice, error)
}

// statusReport is one provider status observation, normalised from either
// convergence path before it reaches the shared transition.
type statusReport struct {
	invoiceID string
	rawStatus string
	status    domain.PaymentStatus
	known     bool
	source    domain.ReconciliationSource
	paidAt    *time.Time
	raw       map[string]any
}

// ReconciliationServiceDeps wires the dependencies required by the reconciliation service.
type ReconciliationServiceDeps struct {
	Orders          repositories.OrderRepository
	PaymentRequests repositories.PaymentRequestRepository
	Events          repositories.ReconciliationEventRepository
	Payments        invoiceFetcher
	Notifier        Notifier
	// StrictUnknownInvoice rejects webhook reports for unknown invoices
	// instead of acknowledging them as no-ops.
	StrictUnknownInvoice bool
	// PollBatchSize caps how many pending requests one sweep examines.
	PollBatchSize int
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type reconciliationService struct {
	orders          repositories.OrderRepository
	paymentRequests repositories.PaymentRequestRepository
	events          repositories.ReconciliationEventRepository
	payments        invoiceFetcher
	notifier        Notifier
	strictUnknown   bool
	pollBatchSize   int
	now             func() time.Time
	logger          func(ctx context.Context, event string, fields map[string]any)
	newID           func() string

	mu         sync.Mutex
	orderLocks map[string]*sync.Mutex
}

// NewReconciliationService constructs a ReconciliationService validating required dependencies.
func NewReconciliationService(deps ReconciliationServiceDeps) (ReconciliationService, error) {
	if deps.Orders == nil {
		return nil, errors.New("reconciliation service: order repository is required")
	}
	if deps.PaymentRequests == nil {
		return nil, errors.New("reconciliation service: payment request repository is required")
	}
	if deps.Events == nil {
		return nil, errors.New("reconciliation service: reconciliation event repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("reconciliation service: payment manager is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	batch := deps.PollBatchSize
	if batch <= 0 {
		batch = 100
	}

	return &reconciliationService{
		orders:          deps.Orders,
		paymentRequests: deps.PaymentRequests,
		events:          deps.Events,
		payments:        deps.Payments,
		notifier:        deps.Notifier,
		strictUnknown:   deps.StrictUnknownInvoice,
		pollBatchSize:   batch,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		newID: func() string {
			return ulid.Make().String()
		},
		orderLocks: make(map[string]*sync.Mutex),
	}, nil
}

// ProcessWebhook applies one authenticated provider callback through the
// shared idempotent transition.
func (s *reconciliationService) ProcessWebhook(ctx context.Context, cmd WebhookCommand) (ReconciliationOutcome, error) {
	if s == nil || s.paymentRequests == nil {
		return ReconciliationOutcome{}, ErrReconciliationUnavailable
	}
	invoiceID := strings.TrimSpace(cmd.InvoiceID)
	if invoiceID == "" {
		return ReconciliationOutcome{}, fmt.Errorf("%w: invoice id is required", ErrReconciliationInvalidInput)
	}
	if strings.TrimSpace(cmd.RawStatus) == "" {
		return ReconciliationOutcome{}, fmt.Errorf("%w: status is required", ErrReconciliationInvalidInput)
	}

	status, known := payments.ParseStatus(cmd.RawStatus)
	report := statusReport{
		invoiceID: invoiceID,
		rawStatus: cmd.RawStatus,
		status:    paymentStatusFromProvider(status),
		known:     known,
		source:    domain.SourceWebhook,
		paidAt:    cmd.PaidAt,
		raw:       cmd.Raw,
	}

	outcome, err := s.apply(ctx, report)
	if errors.Is(err, ErrReconciliationUnknownInvoice) && !s.strictUnknown {
		// Lenient policy: acknowledge and drop so the provider stops
		// retrying an invoice this system never issued.
		s.logger(ctx, "reconciliation.unknown_invoice_dropped", map[string]any{
			"invoice_id": invoiceID,
			"status":     cmd.RawStatus,
		})
		return ReconciliationOutcome{Applied: false, Note: "unknown invoice"}, nil
	}
	return outcome, err
}

// PollOrderStatus fetches the provider's current view of the order's active
// invoice and applies it like a webhook would.
func (s *reconciliationService) PollOrderStatus(ctx context.Context, orderID string) (PaymentStatusView, error) {
	if s == nil || s.orders == nil {
		return PaymentStatusView{}, ErrReconciliationUnavailable
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return PaymentStatusView{}, fmt.Errorf("%w: order id is required", ErrReconciliationInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		var fsErr *pfirestore.Error
		if errors.As(err, &fsErr) && fsErr.IsNotFound() {
			return PaymentStatusView{}, fmt.Errorf("%w: %s", ErrReconciliationOrderNotFound, orderID)
		}
		return PaymentStatusView{}, fmt.Errorf("reconciliation: order lookup failed: %w", err)
	}

	request, err := s.paymentRequests.FindPendingByOrder(ctx, order.ID)
	if err != nil {
		var fsErr *pfirestore.Error
		if !errors.As(err, &fsErr) || !fsErr.IsNotFound() {
			return PaymentStatusView{}, fmt.Errorf("reconciliation: pending lookup failed: %w", err)
		}
		// No open invoice; fall back to the last issued one so settled
		// orders still report their final status.
		if order.InvoiceID == nil {
			return PaymentStatusView{}, fmt.Errorf("%w: %s", ErrReconciliationNoInvoice, order.ID)
		}
		settled, findErr := s.paymentRequests.FindByInvoiceID(ctx, *order.InvoiceID)
		if findErr != nil {
			return PaymentStatusView{}, fmt.Errorf("reconciliation: payment request lookup failed: %w", findErr)
		}
		return paymentStatusView(order, settled), nil
	}

	outcome, err := s.pollRequest(ctx, request)
	if err != nil {
		return PaymentStatusView{}, err
	}

	current := request
	if outcome.Request.InvoiceID != "" {
		current = outcome.Request
	}
	if outcome.Order.ID != "" {
		order = outcome.Order
	}
	return paymentStatusView(order, current), nil
}

// PollPending sweeps open payment requests, reconciling each against the
// provider. Individual failures are counted and skipped so one bad invoice
// cannot stall the sweep.
func (s *reconciliationService) PollPending(ctx context.Context) (PollSummary, error) {
	if s == nil || s.paymentRequests == nil {
		return PollSummary{}, ErrReconciliationUnavailable
	}

	pending, err := s.paymentRequests.ListPending(ctx, s.now(), s.pollBatchSize)
	if err != nil {
		return PollSummary{}, fmt.Errorf("reconciliation: pending list failed: %w", err)
	}

	summary := PollSummary{Scanned: len(pending)}
	for _, request := range pending {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		outcome, err := s.pollRequest(ctx, request)
		if err != nil {
			summary.Failed++
			s.logger(ctx, "reconciliation.poll_failed", map[string]any{
				"invoice_id": request.InvoiceID,
				"order_id":   request.OrderID,
				"error":      err.Error(),
			})
			continue
		}
		if outcome.Applied {
			summary.Applied++
		}
	}
	return summary, nil
}

// ListEvents pages through the reconciliation ledger for an order or invoice.
func (s *reconciliationService) ListEvents(ctx context.Context, filter ReconciliationEventFilter) (domain.CursorPage[ReconciliationEvent], error) {
	if s == nil || s.events == nil {
		return domain.CursorPage[ReconciliationEvent]{}, ErrReconciliationUnavailable
	}
	switch {
	case strings.TrimSpace(filter.OrderID) != "":
		return s.events.ListByOrder(ctx, strings.TrimSpace(filter.OrderID), filter.Pagination)
	case strings.TrimSpace(filter.InvoiceID) != "":
		return s.events.ListByInvoice(ctx, strings.TrimSpace(filter.InvoiceID), filter.Pagination)
	default:
		return domain.CursorPage[ReconciliationEvent]{}, fmt.Errorf("%w: order id or invoice id is required", ErrReconciliationInvalidInput)
	}
}

func (s *reconciliationService) pollRequest(ctx context.Context, request PaymentRequest) (ReconciliationOutcome, error) {
	invoice, err := s.payments.GetInvoice(ctx, request.Provider, request.InvoiceID)
	if err != nil {
		if errors.Is(err, payments.ErrInvoiceNotFound) || errors.Is(err, payments.ErrUnsupportedProvider) {
			return ReconciliationOutcome{}, fmt.Errorf("%w: %s", ErrReconciliationUnknownInvoice, request.InvoiceID)
		}
		return ReconciliationOutcome{}, fmt.Errorf("%w: %s", ErrReconciliationProviderUnavailable, err)
	}
	return s.apply(ctx, statusReport{
		invoiceID: request.InvoiceID,
		rawStatus: string(invoice.Status),
		status:    paymentStatusFromProvider(invoice.Status),
		known:     true,
		source:    domain.SourcePoll,
		paidAt:    invoice.PaidAt,
		raw:       invoice.Raw,
	})
}

// apply is the single transition point both convergence paths funnel into.
// It serialises per order, records every report in the ledger, and only
// notifies after a transition has committed.
func (s *reconciliationService) apply(ctx context.Context, report statusReport) (ReconciliationOutcome, error) {
	request, err := s.paymentRequests.FindByInvoiceID(ctx, report.invoiceID)
	if err != nil {
		var fsErr *pfirestore.Error
		if errors.As(err, &fsErr) && fsErr.IsNotFound() {
			return ReconciliationOutcome{}, fmt.Errorf("%w: %s", ErrReconciliationUnknownInvoice, report.invoiceID)
		}
		return ReconciliationOutcome{}, fmt.Errorf("reconciliation: payment request lookup failed: %w", err)
	}

	lock := s.lockFor(request.OrderID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock so concurrent reports observe each other.
	request, err = s.paymentRequests.FindByInvoiceID(ctx, report.invoiceID)
	if err != nil {
		return ReconciliationOutcome{}, fmt.Errorf("reconciliation: payment request lookup failed: %w", err)
	}

	if !report.known {
		return s.recordNoop(ctx, request, report, noteUnrecognizedStatus), nil
	}
	if transitionNote := requestTransitionNote(request.Status, report.status); transitionNote != "" {
		return s.recordNoop(ctx, request, report, transitionNote), nil
	}

	now := s.now()
	updated := request
	updated.Status = report.status
	updated.UpdatedAt = now
	if report.status == domain.PaymentStatusSuccess {
		paidAt := report.paidAt
		if paidAt == nil {
			paidAt = &now
		}
		updated.PaidAt = paidAt
	}
	if report.raw != nil {
		updated.Raw = report.raw
	}
	if err := s.paymentRequests.Update(ctx, updated); err != nil {
		return ReconciliationOutcome{}, fmt.Errorf("reconciliation: payment request update failed: %w", err)
	}

	order, orderNote, err := s.transitionOrder(ctx, updated, now)
	if err != nil {
		return ReconciliationOutcome{}, err
	}
	note := noteApplied
	if orderNote != "" {
		note = orderNote
	}

	s.appendEvent(ctx, updated, report, true, note, now)
	s.logger(ctx, "reconciliation.applied", map[string]any{
		"invoice_id": updated.InvoiceID,
		"order_id":   updated.OrderID,
		"status":     string(updated.Status),
		"source":     string(report.source),
	})

	if s.notifier != nil && updated.Status == domain.PaymentStatusSuccess && order.ID != "" {
		s.notifier.NotifyPaymentSuccess(ctx, order)
	}
	return ReconciliationOutcome{Applied: true, Note: note, Order: order, Request: updated}, nil
}

// transitionOrder moves the order in lockstep with the settled request. A
// conditional update guards against concurrent writers; losing the race means
// the order already settled through the other convergence path.
func (s *reconciliationService) transitionOrder(ctx context.Context, request PaymentRequest, now time.Time) (Order, string, error) {
	var (
		expected domain.OrderStatus
		update   repositories.OrderStatusUpdate
	)
	update.UpdatedAt = now

	switch request.Status {
	case domain.PaymentStatusSuccess:
		expected = domain.OrderStatusPending
		update.Status = domain.OrderStatusPaid
		paidAt := request.PaidAt
		if paidAt == nil {
			paidAt = &now
		}
		update.PaidAt = paidAt
	case domain.PaymentStatusFailed:
		expected = domain.OrderStatusPending
		update.Status = domain.OrderStatusFailed
		update.FailedAt = &now
	case domain.PaymentStatusExpired:
		expected = domain.OrderStatusPending
		update.Status = domain.OrderStatusExpired
		update.ExpiredAt = &now
	case domain.PaymentStatusRefunded:
		expected = domain.OrderStatusPaid
		update.Status = domain.OrderStatusRefunded
		update.RefundedAt = &now
	default:
		return Order{}, "", fmt.Errorf("reconciliation: no order transition for payment status %q", request.Status)
	}

	order, err := s.orders.UpdateStatus(ctx, request.OrderID, expected, update)
	if err != nil {
		if errors.Is(err, repositories.ErrOrderStatusConflict) {
			// The order left the expected state already. The request side
			// of the transition stands; record the divergence and move on.
			s.logger(ctx, "reconciliation.order_transition_skipped", map[string]any{
				"order_id":   request.OrderID,
				"invoice_id": request.InvoiceID,
				"target":     string(update.Status),
			})
			return Order{}, noteOrderSettled, nil
		}
		return Order{}, "", fmt.Errorf("reconciliation: order transition failed: %w", err)
	}
	return order, "", nil
}

// recordNoop appends a ledger entry for a report that changed nothing.
func (s *reconciliationService) recordNoop(ctx context.Context, request PaymentRequest, report statusReport, note string) ReconciliationOutcome {
	s.appendEvent(ctx, request, report, false, note, s.now())
	s.logger(ctx, "reconciliation.noop", map[string]any{
		"invoice_id": request.InvoiceID,
		"order_id":   request.OrderID,
		"status":     report.rawStatus,
		"source":     string(report.source),
		"note":       note,
	})
	return ReconciliationOutcome{Applied: false, Note: note, Request: request}
}

// appendEvent writes the ledger entry. The ledger is an audit trail; failures
// are logged rather than unwinding an already committed transition.
func (s *reconciliationService) appendEvent(ctx context.Context, request PaymentRequest, report statusReport, applied bool, note string, now time.Time) {
	event := domain.ReconciliationEvent{
		ID:             reconciliationEventIDPrefix + s.newID(),
		InvoiceID:      request.InvoiceID,
		OrderID:        request.OrderID,
		ReportedStatus: report.status,
		Source:         report.source,
		Applied:        applied,
		Note:           note,
		Raw:            report.raw,
		ReceivedAt:     now,
	}
	if !report.known {
		event.ReportedStatus = domain.PaymentStatus(strings.ToLower(strings.TrimSpace(report.rawStatus)))
	}
	if err := s.events.Append(ctx, event); err != nil {
		s.logger(ctx, "reconciliation.ledger_append_failed", map[string]any{
			"invoice_id": request.InvoiceID,
			"order_id":   request.OrderID,
			"error":      err.Error(),
		})
	}
}

func (s *reconciliationService) lockFor(orderID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.orderLocks[orderID]
	if !ok {
		lock = &sync.Mutex{}
		s.orderLocks[orderID] = lock
	}
	return lock
}

// requestTransitionNote reports why a request cannot move to the target
// status; empty means the transition is allowed. Settled statuses are sticky
// apart from a paid request being refunded.
func requestTransitionNote(current, target domain.PaymentStatus) string {
	if current == target {
		return noteNoTransition
	}
	if current == domain.PaymentStatusSuccess && target == domain.PaymentStatusRefunded {
		return ""
	}
	if current.Terminal() {
		return noteRequestSettled
	}
	if target == domain.PaymentStatusPending {
		return noteNoTransition
	}
	return ""
}

// paymentStatusFromProvider maps normalised provider statuses onto the
// request lifecycle.
func paymentStatusFromProvider(status payments.Status) domain.PaymentStatus {
	switch status {
	case payments.StatusPaid:
		return domain.PaymentStatusSuccess
	case payments.StatusFailed:
		return domain.PaymentStatusFailed
	case payments.StatusExpired:
		return domain.PaymentStatusExpired
	case payments.StatusRefunded:
		return domain.PaymentStatusRefunded
	default:
		return domain.PaymentStatusPending
	}
}

func paymentStatusView(order Order, request PaymentRequest) PaymentStatusView {
	return PaymentStatusView{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		InvoiceID:   request.InvoiceID,
		Status:      request.Status,
		Amount:      request.Amount,
		Currency:    request.Currency,
		PaymentURL:  request.InvoiceURL,
		ExpiresAt:   request.ExpiresAt,
		PaidAt:      request.PaidAt,
	}
}
