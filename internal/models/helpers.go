package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateID generates a new unique ID with a short type prefix
func GenerateID(prefix string) string {
	id := uuid.New().String()

	// Format the ID with the prefix
	return fmt.Sprintf("%s-%s", prefix, id[:8])
}

// GenerateTrackingNumber returns a customer-facing tracking number
func GenerateTrackingNumber() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "CLX" + strings.ToUpper(raw[:12])
}

// GetCurrentTime returns the current time in UTC
func GetCurrentTime() time.Time {
	return time.Now().UTC()
}

// StringPtr returns a pointer to s, or nil when s is empty
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
