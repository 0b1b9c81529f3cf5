package transaction

import "time"

// Status is the sharing agreement state. PENDING is the only non-terminal
// state; APPROVED and REVOKED are frozen.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRevoked  Status = "revoked"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRevoked:
		return true
	}
	return false
}

// Transaction records a sharing agreement between a sender (athlete) and a
// client, with the agreed amount and the bundle name it covers.
type Transaction struct {
	ID         string    `json:"id"`
	SenderUUID string    `json:"sender_uuid"`
	ClientUUID string    `json:"client_uuid"`
	Status     Status    `json:"status"`
	Amount     float64   `json:"amount"`
	DataName   string    `json:"data_name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CanUpdate reports whether the transaction may still change status.
func (t Transaction) CanUpdate() bool {
	return t.Status == StatusPending
}
