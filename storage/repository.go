// Package storage provides the storage abstraction for sealed client-side records
// such as the persisted session and its cookies.
package storage

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
)

// Repository stores sealed envelopes addressed by bucket and key.
// Implementations must be safe for concurrent use.
type Repository interface {
	Put(bucket string, key string, envelope *Envelope) error
	Get(bucket string, key string) (*Envelope, error)
	// Delete removes a record. Deleting an absent record returns ErrNotFound.
	Delete(bucket string, key string) error
}
