package storage

import (
	"errors"
	"fmt"

	"github.com/jmcleod/ironsession/internal/util"
)

// SealedRecord reads and writes one encrypted record at a fixed bucket/key.
// The record key is derived from the master key and bound to that address.
type SealedRecord struct {
	repo      Repository
	bucket    string
	key       string
	recordKey []byte
	aad       []byte
}

// NewSealedRecord derives the record key for bucket/key from master.
// The caller keeps ownership of master.
func NewSealedRecord(repo Repository, master []byte, bucket, key string) (*SealedRecord, error) {
	if repo == nil {
		return nil, errors.New("sealed record requires a repository")
	}
	recordKey, err := DeriveRecordKey(master, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("deriving record key: %w", err)
	}
	return &SealedRecord{
		repo:      repo,
		bucket:    bucket,
		key:       key,
		recordKey: recordKey,
		aad:       RecordAAD(bucket, key),
	}, nil
}

// Load returns the decrypted record. A missing record yields ErrNotFound.
func (r *SealedRecord) Load() ([]byte, error) {
	env, err := r.repo.Get(r.bucket, r.key)
	if err != nil {
		return nil, err
	}
	return OpenRecord(r.recordKey, env, r.aad)
}

func (r *SealedRecord) Save(plaintext []byte) error {
	env, err := SealRecord(r.recordKey, plaintext, r.aad)
	if err != nil {
		return err
	}
	return r.repo.Put(r.bucket, r.key, env)
}

// Clear deletes the record. Clearing an absent record is not an error.
func (r *SealedRecord) Clear() error {
	err := r.repo.Delete(r.bucket, r.key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Close wipes the derived record key.
func (r *SealedRecord) Close() {
	util.WipeBytes(r.recordKey)
}
