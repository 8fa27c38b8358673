package chain

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
)

var ErrReceiptPending = errors.New("receipt not available yet")

// WaitForReceipt polls the adapter until the transaction is mined, the attempts
// are used up or ctx is done. Transport errors are retried like a pending receipt.
func WaitForReceipt(ctx context.Context, a Adapter, hash string, interval time.Duration, attempts uint) (*Receipt, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	var receipt *Receipt
	err := retry.Do(func() error {
		r, err := a.GetTxReceipt(ctx, hash)
		if err != nil {
			return err
		}
		if r == nil || a.DeriveTxStatus(r) == TxPending {
			return ErrReceiptPending
		}
		receipt = r
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	return receipt, err
}
