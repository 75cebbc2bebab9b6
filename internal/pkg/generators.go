package pkg

import "github.com/google/uuid"

const matchIDPrefix = "match-"

// GenerateMatchID - generates a unique identifier for a match.
func GenerateMatchID() string {
	return matchIDPrefix + uuid.NewString()
}

// GenerateEndpointID - generates an identifier for a freshly accepted connection.
func GenerateEndpointID() string {
	return uuid.NewString()
}
