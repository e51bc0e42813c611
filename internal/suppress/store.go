// Package suppress persists the addresses a campaign must not contact:
// global unsubscribes and the per-campaign sent ledger that makes
// campaign re-runs idempotent.
package suppress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketUnsubscribes = []byte("unsubscribes")
	bucketSent         = []byte("sent")
)

// Unsubscribe records when and how an address opted out.
type Unsubscribe struct {
	Email     string    `json:"email"`
	Source    string    `json:"source"` // "link", "manual", "complaint"
	CreatedAt time.Time `json:"created_at"`
}

// Store is a BoltDB-backed suppression store. It implements
// campaign.Suppression.
type Store struct {
	db *bolt.DB
}

// NewStore opens (or creates) the suppression database at path.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketUnsubscribes, bucketSent} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Unsubscribe records an opt-out. Recording an address twice keeps the
// original record.
func (s *Store) Unsubscribe(email, source string) error {
	key := normalizeEmail(email)

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketUnsubscribes)
		if bucket.Get([]byte(key)) != nil {
			return nil
		}

		record := Unsubscribe{
			Email:     key,
			Source:    source,
			CreatedAt: time.Now().UTC(),
		}
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		return bucket.Put([]byte(key), data)
	})
}

// Resubscribe removes an opt-out.
func (s *Store) Resubscribe(email string) error {
	key := normalizeEmail(email)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUnsubscribes).Delete([]byte(key))
	})
}

// IsUnsubscribed reports whether the address has opted out.
func (s *Store) IsUnsubscribed(email string) (bool, error) {
	key := normalizeEmail(email)

	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketUnsubscribes).Get([]byte(key)) != nil
		return nil
	})
	return found, err
}

// ListUnsubscribes returns opt-out records, newest last.
func (s *Store) ListUnsubscribes(limit, offset int) ([]Unsubscribe, error) {
	var records []Unsubscribe

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketUnsubscribes).Cursor()

		count := 0
		skipped := 0
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if skipped < offset {
				skipped++
				continue
			}

			var record Unsubscribe
			if err := json.Unmarshal(v, &record); err != nil {
				continue
			}
			records = append(records, record)
			count++

			if limit > 0 && count >= limit {
				break
			}
		}
		return nil
	})

	return records, err
}

// MarkSent records that the campaign delivered to the address.
func (s *Store) MarkSent(campaignID, email string) error {
	key := sentKey(campaignID, email)
	return s.db.Update(func(tx *bolt.Tx) error {
		ts := time.Now().UTC().Format(time.RFC3339Nano)
		return tx.Bucket(bucketSent).Put(key, []byte(ts))
	})
}

// WasSent reports whether the campaign already delivered to the address.
func (s *Store) WasSent(campaignID, email string) (bool, error) {
	key := sentKey(campaignID, email)

	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketSent).Get(key) != nil
		return nil
	})
	return found, err
}

// SentCount returns the number of ledger entries for a campaign.
func (s *Store) SentCount(campaignID string) (int, error) {
	prefix := []byte(campaignID + ":")

	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSent).Cursor()
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// ClearSent removes a campaign's ledger so a re-run delivers again.
func (s *Store) ClearSent(campaignID string) error {
	prefix := []byte(campaignID + ":")

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSent)
		c := bucket.Cursor()

		var toDelete [][]byte
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			toDelete = append(toDelete, append([]byte{}, k...))
		}
		for _, k := range toDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func sentKey(campaignID, email string) []byte {
	return []byte(campaignID + ":" + normalizeEmail(email))
}
