// Package idgen generates document identifiers.
package idgen

import "github.com/google/uuid"

// NewDocumentID returns a fresh document identifier suitable for a new
// collaborative session's URL path.
func NewDocumentID() string {
	return uuid.NewString()
}
