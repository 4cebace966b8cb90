package events

import "time"

// Ledger event types delivered through the outbox.
const (
	EventTransactionRecorded = "transaction.recorded"
	EventTrialGranted        = "subscription.trial_granted"
)

// TransactionPayload is the outbound record emitted once per committed
// ledger entry.
type TransactionPayload struct {
	TransactionID           string    `json:"transaction_id"`
	UserExternalID          string    `json:"user_external_id"`
	ProductSlug             string    `json:"product_slug"`
	Amount                  string    `json:"amount"`
	OwnershipSecondsGranted int64     `json:"ownership_seconds_granted"`
	OccurredAt              time.Time `json:"occurred_at"`
	ProductTypeFlags        int64     `json:"product_type_flags"`
}

// ToMap converts the payload into an outbox-friendly map.
func (p TransactionPayload) ToMap() map[string]any {
	return map[string]any{
		"transaction_id":            p.TransactionID,
		"user_external_id":          p.UserExternalID,
		"product_slug":              p.ProductSlug,
		"amount":                    p.Amount,
		"ownership_seconds_granted": p.OwnershipSecondsGranted,
		"occurred_at":               p.OccurredAt.UTC().Format(time.RFC3339Nano),
		"product_type_flags":        p.ProductTypeFlags,
	}
}
