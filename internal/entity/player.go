package entity

import "time"

// Participant - binds a stable player identity to the endpoint it is currently reachable on.
type Participant struct {
	EndpointID string `json:"endpoint_id"`
	PlayerID   string `json:"player_id"`
}

// Connection - the liveness record of one transport endpoint. ExpiresAt is zero for
// records that never expire.
type Connection struct {
	EndpointID  string    `json:"endpoint_id"`
	ConnectedAt time.Time `json:"connected_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}
