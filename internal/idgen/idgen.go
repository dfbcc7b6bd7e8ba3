// Package idgen provides random identifier generation.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random RFC 4122 version 4 UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix followed by 32 hex chars of a random UUID
// (e.g. "tx_", "conn_", "sig_").
func WithPrefix(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
