package user

import "time"

// User is a directory entry for an athlete or a data-buying client. The UUID
// is assigned by the auth provider sync and never changes afterwards.
type User struct {
	UUID          string    `json:"uuid"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	WalletID      string    `json:"wallet_id"`
	IsAthlete     bool      `json:"is_athlete"`
	RevenueEarned float64   `json:"revenue_earned"`
	PublicMetrics []string  `json:"public_metrics"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasPublicMetric reports whether performanceID is already on the public list.
func (u User) HasPublicMetric(performanceID string) bool {
	for _, id := range u.PublicMetrics {
		if id == performanceID {
			return true
		}
	}
	return false
}
