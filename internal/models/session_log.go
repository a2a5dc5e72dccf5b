package models

import "time"

// ObserverSessionLog tracks join/leave and watch duration per observer connection.
type ObserverSessionLog struct {
	ID           int64      `json:"id"`
	SessionID    string     `json:"session_id"`
	ClientID     string     `json:"client_id"`
	RemoteAddr   string     `json:"remote_addr,omitempty"`
	JoinedAt     time.Time  `json:"joined_at"`
	LeftAt       *time.Time `json:"left_at,omitempty"`
	WatchSeconds int64      `json:"watch_seconds"`
}
