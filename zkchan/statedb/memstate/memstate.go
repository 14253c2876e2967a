// Package memstate implements an in-memory StateDatabase for tests and for
// ephemeral/development deployments. Nothing is persisted across process
// restarts.
package memstate

import (
	"sync"

	"github.com/zkchannels/zkchanneld/zkchan"
	"github.com/zkchannels/zkchanneld/zkchan/statedb"
)

type spentRecord struct {
	revLock zkchan.RevLock
	burned  bool
}

// DB is an in-memory implementation of statedb.StateDatabase, safe for
// concurrent use.
type DB struct {
	mu sync.RWMutex

	unlinkSet map[zkchan.Nonce]struct{}
	spent     map[zkchan.Nonce]spentRecord
	revoked   map[zkchan.RevLock]zkchan.RevSecret
	nonceMask map[zkchan.Nonce]statedb.PayMaskRecord
	mpcMask   map[[32]byte]statedb.MPCMaskRecord
	sessions  map[zkchan.SessionID]zkchan.SessionState
}

// New returns a ready-to-use empty in-memory state database.
func New() *DB {
	return &DB{
		unlinkSet: make(map[zkchan.Nonce]struct{}),
		spent:     make(map[zkchan.Nonce]spentRecord),
		revoked:   make(map[zkchan.RevLock]zkchan.RevSecret),
		nonceMask: make(map[zkchan.Nonce]statedb.PayMaskRecord),
		mpcMask:   make(map[[32]byte]statedb.MPCMaskRecord),
		sessions:  make(map[zkchan.SessionID]zkchan.SessionState),
	}
}

func (d *DB) AddUnlink(nonce zkchan.Nonce) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unlinkSet[nonce] = struct{}{}
	return nil
}

func (d *DB) IsUnlinkMember(nonce zkchan.Nonce) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.unlinkSet[nonce]
	return ok, nil
}

func (d *DB) RemoveUnlink(nonce zkchan.Nonce) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.unlinkSet, nonce)
	return nil
}

func (d *DB) CheckSpent(nonce zkchan.Nonce) (zkchan.RevLock, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.spent[nonce]
	if !ok {
		return zkchan.RevLock{}, false, nil
	}
	return rec.revLock, true, nil
}

func (d *DB) MarkSpent(nonce zkchan.Nonce, revLock zkchan.RevLock) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spent[nonce] = spentRecord{revLock: revLock, burned: revLock == (zkchan.RevLock{})}
	return nil
}

func (d *DB) PutRevocation(revLock zkchan.RevLock, revSecret zkchan.RevSecret) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.revoked[revLock] = revSecret
	return nil
}

func (d *DB) GetRevocation(revLock zkchan.RevLock) (zkchan.RevSecret, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	secret, ok := d.revoked[revLock]
	return secret, ok, nil
}

func (d *DB) PutNonceMask(nonce zkchan.Nonce, mask statedb.PayMaskRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nonceMask[nonce] = mask
	return nil
}

func (d *DB) GetNonceMask(nonce zkchan.Nonce) (statedb.PayMaskRecord, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	mask, ok := d.nonceMask[nonce]
	return mask, ok, nil
}

func (d *DB) PutMPCMask(revLockCom [32]byte, mask statedb.MPCMaskRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mpcMask[revLockCom] = mask
	return nil
}

func (d *DB) GetMPCMask(revLockCom [32]byte) (statedb.MPCMaskRecord, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	mask, ok := d.mpcMask[revLockCom]
	return mask, ok, nil
}

func (d *DB) PutSession(sessionID zkchan.SessionID, s zkchan.SessionState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[sessionID] = s
	return nil
}

func (d *DB) GetSession(sessionID zkchan.SessionID) (zkchan.SessionState, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[sessionID]
	return s, ok, nil
}

// Close is a no-op; nothing to release.
func (d *DB) Close() error {
	return nil
}

var _ statedb.StateDatabase = (*DB)(nil)
