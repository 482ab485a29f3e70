package auth

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	bbolt "go.etcd.io/bbolt"
)

// ErrUserNotFound is returned when a directory has no entry for a user.
var ErrUserNotFound = errors.New("user not found")

// Profile is the display information for a user.
type Profile struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	FullName string `json:"full_name,omitempty"`
}

// A Directory looks up users by ID.
type Directory interface {
	Lookup(ctx context.Context, userID string) (Profile, error)
}

var bucketUsers = []byte("users")

// BoltDirectory stores profiles in a bbolt database.
type BoltDirectory struct {
	db *bbolt.DB
}

// OpenBoltDirectory opens or creates the directory at path.
// Only one process can have the directory open; others fail after a second.
func OpenBoltDirectory(path string) (*BoltDirectory, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open directory %s", path)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketUsers)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create users bucket")
	}
	return &BoltDirectory{db: db}, nil
}

// Close closes the underlying database.
func (d *BoltDirectory) Close() error {
	return d.db.Close()
}

// Lookup gets a profile.
func (d *BoltDirectory) Lookup(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	err := d.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(userID))
		if data == nil {
			return errors.Wrapf(ErrUserNotFound, "%q", userID)
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return Profile{}, err
	}
	p.UserID = userID
	return p, nil
}

// Put adds or replaces a profile.
func (d *BoltDirectory) Put(p Profile) error {
	if p.UserID == "" || p.Username == "" {
		return errors.New("a profile needs a user ID and a username")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).Put([]byte(p.UserID), data)
	})
}

// Delete removes a profile. Deleting a missing profile is not an error.
func (d *BoltDirectory) Delete(userID string) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).Delete([]byte(userID))
	})
}

// MemoryDirectory is a Directory backed by a map.
type MemoryDirectory struct {
	mtx      sync.RWMutex
	profiles map[string]Profile
}

// NewMemoryDirectory creates a directory holding profiles.
func NewMemoryDirectory(profiles ...Profile) *MemoryDirectory {
	d := &MemoryDirectory{profiles: make(map[string]Profile)}
	for _, p := range profiles {
		d.profiles[p.UserID] = p
	}
	return d
}

// Lookup gets a profile.
func (d *MemoryDirectory) Lookup(ctx context.Context, userID string) (Profile, error) {
	d.mtx.RLock()
	defer d.mtx.RUnlock()
	p, ok := d.profiles[userID]
	if !ok {
		return Profile{}, errors.Wrapf(ErrUserNotFound, "%q", userID)
	}
	return p, nil
}
