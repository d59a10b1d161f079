package repositories

import "errors"

var (
	// ErrPendingPaymentExists indicates the order already has an open payment request.
	ErrPendingPaymentExists = errors.New("payment request repository: pending request already exists for order")
	// ErrOrderStatusConflict indicates a conditional status update found a different stored status.
	ErrOrderStatusConflict = errors.New("order repository: stored status does not match expected")
)
