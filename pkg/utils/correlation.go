package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateCorrelationID generates a unique correlation ID for request tracing.
func GenerateCorrelationID() string {
	return "CID-" + uuid.NewString()
}

// GenerateTaskID generates a unique task ID with the given prefix.
func GenerateTaskID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// GenerateSessionID generates a unique session ID.
func GenerateSessionID() string {
	return "SID-" + uuid.NewString()
}
