// Package bolt implements statedb.StateDatabase on top of an embedded
// go.etcd.io/bbolt database file -- the production-default backend for a
// single merchant instance, following channeldb/db.go's open/bucket idiom
// (bucket-per-store, byte-key/byte-value KV, one file on disk).
package bolt

import (
	"encoding/json"
	"fmt"
	"os"

	bolt "go.etcd.io/bbolt"

	"github.com/zkchannels/zkchanneld/zkchan"
	"github.com/zkchannels/zkchanneld/zkchan/statedb"
)

const dbFilePermission = 0600

var (
	unlinkBucket   = []byte("unlink-set")
	spentBucket    = []byte("spent-nonces")
	revokedBucket  = []byte("rev-lock-map")
	nonceMaskBkt   = []byte("nonce-mask")
	mpcMaskBucket  = []byte("mpc-mask")
	sessionsBucket = []byte("sessions")

	allBuckets = [][]byte{
		unlinkBucket, spentBucket, revokedBucket,
		nonceMaskBkt, mpcMaskBucket, sessionsBucket,
	}
)

// DB wraps a bbolt database file implementing statedb.StateDatabase.
type DB struct {
	*bolt.DB
}

// Open opens (creating if necessary) a bbolt-backed state database at path.
func Open(path string) (*DB, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}

	bdb, err := bolt.Open(path, dbFilePermission, nil)
	if err != nil {
		return nil, fmt.Errorf("open state db at %s: %w", path, err)
	}

	db := &DB{DB: bdb}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		bdb.Close()
		return nil, fmt.Errorf("create state db buckets: %w", err)
	}

	return db, nil
}

func ensureParentDir(path string) error {
	dir := dirOf(path)
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0700)
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}

func (d *DB) AddUnlink(nonce zkchan.Nonce) error {
	return d.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(unlinkBucket).Put(nonce[:], []byte{1})
	})
}

func (d *DB) IsUnlinkMember(nonce zkchan.Nonce) (bool, error) {
	var member bool
	err := d.View(func(tx *bolt.Tx) error {
		member = tx.Bucket(unlinkBucket).Get(nonce[:]) != nil
		return nil
	})
	return member, err
}

func (d *DB) RemoveUnlink(nonce zkchan.Nonce) error {
	return d.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(unlinkBucket).Delete(nonce[:])
	})
}

func (d *DB) CheckSpent(nonce zkchan.Nonce) (zkchan.RevLock, bool, error) {
	var (
		revLock zkchan.RevLock
		spent   bool
	)
	err := d.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(spentBucket).Get(nonce[:])
		if v == nil {
			return nil
		}
		spent = true
		copy(revLock[:], v)
		return nil
	})
	return revLock, spent, err
}

func (d *DB) MarkSpent(nonce zkchan.Nonce, revLock zkchan.RevLock) error {
	return d.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(spentBucket).Put(nonce[:], revLock[:])
	})
}

func (d *DB) PutRevocation(revLock zkchan.RevLock, revSecret zkchan.RevSecret) error {
	return d.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(revokedBucket).Put(revLock[:], revSecret[:])
	})
}

func (d *DB) GetRevocation(revLock zkchan.RevLock) (zkchan.RevSecret, bool, error) {
	var (
		secret zkchan.RevSecret
		found  bool
	)
	err := d.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(revokedBucket).Get(revLock[:])
		if v == nil {
			return nil
		}
		found = true
		copy(secret[:], v)
		return nil
	})
	return secret, found, err
}

func (d *DB) PutNonceMask(nonce zkchan.Nonce, mask statedb.PayMaskRecord) error {
	return d.putJSON(nonceMaskBkt, nonce[:], mask)
}

func (d *DB) GetNonceMask(nonce zkchan.Nonce) (statedb.PayMaskRecord, bool, error) {
	var mask statedb.PayMaskRecord
	found, err := d.getJSON(nonceMaskBkt, nonce[:], &mask)
	return mask, found, err
}

func (d *DB) PutMPCMask(revLockCom [32]byte, mask statedb.MPCMaskRecord) error {
	return d.putJSON(mpcMaskBucket, revLockCom[:], mask)
}

func (d *DB) GetMPCMask(revLockCom [32]byte) (statedb.MPCMaskRecord, bool, error) {
	var mask statedb.MPCMaskRecord
	found, err := d.getJSON(mpcMaskBucket, revLockCom[:], &mask)
	return mask, found, err
}

func (d *DB) PutSession(sessionID zkchan.SessionID, s zkchan.SessionState) error {
	return d.putJSON(sessionsBucket, sessionID[:], s)
}

func (d *DB) GetSession(sessionID zkchan.SessionID) (zkchan.SessionState, bool, error) {
	var s zkchan.SessionState
	found, err := d.getJSON(sessionsBucket, sessionID[:], &s)
	return s, found, err
}

func (d *DB) putJSON(bucket, key []byte, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return d.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, b)
	})
}

func (d *DB) getJSON(bucket, key []byte, out interface{}) (bool, error) {
	var found bool
	err := d.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get(key)
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, out)
	})
	return found, err
}

var _ statedb.StateDatabase = (*DB)(nil)
