package models

import "github.com/google/uuid"

// NewUID generates a globally unique event identifier.
func NewUID() string {
	return uuid.NewString()
}
