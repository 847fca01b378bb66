package storage

import "time"

// DefaultUserID tags every exchange; there is a single implicit user.
const DefaultUserID = "default_user"

const (
	// Unbounded as a ListExchanges limit returns every stored exchange.
	Unbounded        = -1
	DefaultListLimit = 10

	SettingCurrentProvider = "current_provider"
)

type Exchange struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider"`
}
