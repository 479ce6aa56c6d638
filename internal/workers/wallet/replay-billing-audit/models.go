// internal/workers/wallet/replay-billing-audit/models.go
package replaybillingaudit

type Input struct {
	// BatchSize caps the entries written by one job; zero uses the configured default.
	BatchSize int `json:"batchSize,omitempty"`
}

type Output struct {
	Replayed  int   `json:"replayed"`
	Skipped   int   `json:"skipped"`
	Remaining int64 `json:"remaining"`
}
