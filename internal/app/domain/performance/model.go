package performance

import "time"

// Performance is one recorded athlete metric entry. BlockchainHash references
// the externally anchored payload; new records default to private.
type Performance struct {
	ID             string    `json:"id"`
	AthleteUUID    string    `json:"athlete_uuid"`
	MetricName     string    `json:"metric_name"`
	IsPrivate      bool      `json:"is_private"`
	BlockchainHash string    `json:"blockchain_hash"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
