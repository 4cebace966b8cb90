package domain

import "context"

// Service folds provider lifecycle notifications into the ledger. Reconcile
// is safe to call with the same notification any number of times.
type Service interface {
	Reconcile(ctx context.Context, notification Notification) error
}
