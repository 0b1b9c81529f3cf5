package bundle

import "time"

// Bundle associates a set of performance records with a single transaction
// for bundled sale. One bundle exists per transaction and it is deleted when
// the transaction is revoked.
type Bundle struct {
	TransactionID  string    `json:"transaction_id"`
	DataName       string    `json:"data_name"`
	PerformanceIDs []string  `json:"performance_ids"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HasPerformance reports whether performanceID is already in the bundle.
func (b Bundle) HasPerformance(performanceID string) bool {
	for _, id := range b.PerformanceIDs {
		if id == performanceID {
			return true
		}
	}
	return false
}
