package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmcleod/ironsession/internal/util"
	"github.com/jmcleod/ironsession/storage"
)

const (
	// PersistBucket and PersistKey address the persisted session record.
	PersistBucket = "session"
	PersistKey    = "auth-store"
)

// Persister saves and restores the session record. Load returns an error
// wrapping storage.ErrNotFound when nothing has been persisted.
type Persister interface {
	Load() (Record, error)
	Save(Record) error
	Clear() error
}

// Record is the persisted form of State. ExpiresAt is epoch milliseconds.
type Record struct {
	User          *User  `json:"user"`
	AccessToken   string `json:"accessToken"`
	RefreshMarker string `json:"refreshMarker"`
	ExpiresAt     int64  `json:"expiresAt"`
}

func recordFromState(s State) Record {
	r := Record{
		User:          s.User,
		AccessToken:   s.AccessToken,
		RefreshMarker: s.RefreshMarker,
	}
	if !s.ExpiresAt.IsZero() {
		r.ExpiresAt = s.ExpiresAt.UnixMilli()
	}
	return r
}

// state validates r and converts it. An all-empty record is the signed-out
// state; a record carrying only one of user and token is corrupt.
func (r Record) state() (State, error) {
	hasUser := r.User != nil
	hasToken := r.AccessToken != ""
	switch {
	case !hasUser && !hasToken:
		return State{}, nil
	case hasUser != hasToken:
		return State{}, fmt.Errorf("%w: user and token must be present together", ErrCorruptRecord)
	case r.User.ID == "":
		return State{}, fmt.Errorf("%w: user without id", ErrCorruptRecord)
	}
	s := State{
		User:          r.User,
		AccessToken:   r.AccessToken,
		RefreshMarker: r.RefreshMarker,
	}
	if r.ExpiresAt > 0 {
		s.ExpiresAt = time.UnixMilli(r.ExpiresAt)
	}
	return s, nil
}

// RepositoryPersister seals the session record into a storage.Repository.
type RepositoryPersister struct {
	record *storage.SealedRecord
}

var _ Persister = (*RepositoryPersister)(nil)

// NewRepositoryPersister binds a persister to repo using a record key derived
// from master.
func NewRepositoryPersister(repo storage.Repository, master []byte) (*RepositoryPersister, error) {
	rec, err := storage.NewSealedRecord(repo, master, PersistBucket, PersistKey)
	if err != nil {
		return nil, err
	}
	return &RepositoryPersister{record: rec}, nil
}

func (p *RepositoryPersister) Load() (Record, error) {
	data, err := p.record.Load()
	if errors.Is(err, storage.ErrNotFound) {
		return Record{}, err
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	defer util.WipeBytes(data)

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return rec, nil
}

func (p *RepositoryPersister) Save(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	defer util.WipeBytes(data)
	return p.record.Save(data)
}

func (p *RepositoryPersister) Clear() error {
	return p.record.Clear()
}

// Close wipes the record key.
func (p *RepositoryPersister) Close() {
	p.record.Close()
}
