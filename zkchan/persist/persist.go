// Package persist implements the CLI-facing persisted-state layout of
// spec §6: JSON envelopes keyed the way spec.md literally describes
// (cust:<name>:{cust_state,channel_state,channel_token},
// cli:merch_db:{merch_state,channel_state},
// cli:merch_channels:id:<channel_id_hex>), stored in an embedded bbolt
// file -- the same single-file-on-disk idiom statedb/bolt uses for the
// protocol-internal stores, following channeldb/db.go's bucket-per-store
// convention.
package persist

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

const dbFilePermission = 0600

var (
	custBucket         = []byte("cust")
	merchDBBucket      = []byte("cli-merch-db")
	merchChannelBucket = []byte("cli-merch-channels")
)

// Store is a handle on one CLI process's persisted-state file.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the persisted-state file at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("persist: mkdir %s: %w", dir, err)
		}
	}

	db, err := bolt.Open(path, dbFilePermission, nil)
	if err != nil {
		return nil, fmt.Errorf("persist: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{custBucket, merchDBBucket, merchChannelBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

// CustChannel is the cust:<name>:{cust_state,channel_state,channel_token}
// envelope: custState is customer.Core.MarshalState's gob blob,
// channelToken is its JSON-marshaled zkchan.ChannelToken, and mpcState is
// the JSON-marshaled zkchan.ChannelMPCState the merchant sent in Establish's
// open frame -- spec.md's channel_state, reused by every later CLI
// invocation that resumes this channel's driver.
type CustChannel struct {
	CustState    []byte
	ChannelToken []byte
	MPCState     []byte
}

// SaveCustChannel persists one named customer channel's envelope.
func (s *Store) SaveCustChannel(name string, entry CustChannel) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("persist: marshal cust channel %q: %w", name, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(custBucket).Put([]byte(name), data)
	})
}

// LoadCustChannel loads a named customer channel's envelope. ok is false
// if no such name has been saved.
func (s *Store) LoadCustChannel(name string) (entry CustChannel, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(custBucket).Get([]byte(name))
		if raw == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(raw, &entry)
	})
	if err != nil {
		return CustChannel{}, false, fmt.Errorf("persist: load cust channel %q: %w", name, err)
	}
	return entry, ok, nil
}

// ListCustChannelNames returns every name saved under the cust bucket.
func (s *Store) ListCustChannelNames() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(custBucket).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("persist: list cust channels: %w", err)
	}
	return names, nil
}

// MerchDB is the cli:merch_db:{merch_state,channel_state} envelope: one
// record per process-wide merchant identity (a single merchant process
// may host many channels, each under MerchChannel below).
type MerchDB struct {
	MerchState   []byte
	ChannelState []byte
}

// SaveMerchDB persists the process-wide merchant record.
func (s *Store) SaveMerchDB(entry MerchDB) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("persist: marshal merch db: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(merchDBBucket).Put([]byte("merch_db"), data)
	})
}

// LoadMerchDB loads the process-wide merchant record.
func (s *Store) LoadMerchDB() (entry MerchDB, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(merchDBBucket).Get([]byte("merch_db"))
		if raw == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(raw, &entry)
	})
	if err != nil {
		return MerchDB{}, false, fmt.Errorf("persist: load merch db: %w", err)
	}
	return entry, ok, nil
}

// MerchChannel is one cli:merch_channels:id:<channel_id_hex> record.
type MerchChannel struct {
	ChannelState []byte
}

// SaveMerchChannel persists one merchant-side channel, keyed by its
// 32-byte channel id.
func (s *Store) SaveMerchChannel(channelID [32]byte, entry MerchChannel) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("persist: marshal merch channel %x: %w", channelID, err)
	}
	key := []byte("id:" + hex.EncodeToString(channelID[:]))
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(merchChannelBucket).Put(key, data)
	})
}

// LoadMerchChannel loads one merchant-side channel by id.
func (s *Store) LoadMerchChannel(channelID [32]byte) (entry MerchChannel, ok bool, err error) {
	key := []byte("id:" + hex.EncodeToString(channelID[:]))
	err = s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(merchChannelBucket).Get(key)
		if raw == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(raw, &entry)
	})
	if err != nil {
		return MerchChannel{}, false, fmt.Errorf("persist: load merch channel %x: %w", channelID, err)
	}
	return entry, ok, nil
}
