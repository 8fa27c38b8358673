package intent

import (
	"errors"
	"fmt"
)

// ErrOrderNotFound is returned when a transaction carries no SwapIntent.
var ErrOrderNotFound = errors.New("swap intent not found in transaction")

// OrderNotCancellableError means the chain refused the cancel, usually because
// the solver filled the order first. The order status is left untouched.
type OrderNotCancellableError struct {
	OrderID string
	Reason  string
}

func (e *OrderNotCancellableError) Error() string {
	return fmt.Sprintf("order %s cannot be cancelled: %s", e.OrderID, e.Reason)
}

func IsOrderNotCancellable(err error) bool {
	var e *OrderNotCancellableError
	return errors.As(err, &e)
}
