// Package etcdkv implements statedb.StateDatabase against an etcd cluster,
// for merchant deployments that need the state store replicated across
// multiple merchant processes (e.g. an active/standby pair failing over
// without losing the unlink-set or spent-nonce map).
package etcdkv

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/zkchannels/zkchanneld/zkchan"
	"github.com/zkchannels/zkchanneld/zkchan/statedb"
)

const requestTimeout = 5 * time.Second

// DB implements statedb.StateDatabase over an etcd v3 client.
type DB struct {
	client *clientv3.Client
	prefix string
}

// Open dials the etcd cluster at endpoints and returns a ready store. All
// keys are namespaced under prefix, so a single cluster can serve multiple
// merchant instances.
func Open(endpoints []string, prefix string) (*DB, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: requestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("dial etcd state store: %w", err)
	}
	return &DB{client: client, prefix: prefix}, nil
}

func (d *DB) key(parts ...string) string {
	k := d.prefix
	for _, p := range parts {
		k += "/" + p
	}
	return k
}

func (d *DB) put(key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	_, err := d.client.Put(ctx, key, string(value))
	return err
}

func (d *DB) get(key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	resp, err := d.client.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}
	return resp.Kvs[0].Value, true, nil
}

func (d *DB) delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	_, err := d.client.Delete(ctx, key)
	return err
}

func (d *DB) AddUnlink(nonce zkchan.Nonce) error {
	return d.put(d.key("unlink", hex.EncodeToString(nonce[:])), []byte{1})
}

func (d *DB) IsUnlinkMember(nonce zkchan.Nonce) (bool, error) {
	_, ok, err := d.get(d.key("unlink", hex.EncodeToString(nonce[:])))
	return ok, err
}

func (d *DB) RemoveUnlink(nonce zkchan.Nonce) error {
	return d.delete(d.key("unlink", hex.EncodeToString(nonce[:])))
}

func (d *DB) CheckSpent(nonce zkchan.Nonce) (zkchan.RevLock, bool, error) {
	v, ok, err := d.get(d.key("spent", hex.EncodeToString(nonce[:])))
	if err != nil || !ok {
		return zkchan.RevLock{}, ok, err
	}
	var revLock zkchan.RevLock
	raw, err := hex.DecodeString(string(v))
	if err != nil {
		return zkchan.RevLock{}, false, err
	}
	copy(revLock[:], raw)
	return revLock, true, nil
}

func (d *DB) MarkSpent(nonce zkchan.Nonce, revLock zkchan.RevLock) error {
	return d.put(d.key("spent", hex.EncodeToString(nonce[:])), []byte(hex.EncodeToString(revLock[:])))
}

func (d *DB) PutRevocation(revLock zkchan.RevLock, revSecret zkchan.RevSecret) error {
	return d.put(d.key("revlock", hex.EncodeToString(revLock[:])), []byte(hex.EncodeToString(revSecret[:])))
}

func (d *DB) GetRevocation(revLock zkchan.RevLock) (zkchan.RevSecret, bool, error) {
	v, ok, err := d.get(d.key("revlock", hex.EncodeToString(revLock[:])))
	if err != nil || !ok {
		return zkchan.RevSecret{}, ok, err
	}
	var secret zkchan.RevSecret
	raw, err := hex.DecodeString(string(v))
	if err != nil {
		return zkchan.RevSecret{}, false, err
	}
	copy(secret[:], raw)
	return secret, true, nil
}

func (d *DB) PutNonceMask(nonce zkchan.Nonce, mask statedb.PayMaskRecord) error {
	return d.putJSON(d.key("noncemask", hex.EncodeToString(nonce[:])), mask)
}

func (d *DB) GetNonceMask(nonce zkchan.Nonce) (statedb.PayMaskRecord, bool, error) {
	var mask statedb.PayMaskRecord
	ok, err := d.getJSON(d.key("noncemask", hex.EncodeToString(nonce[:])), &mask)
	return mask, ok, err
}

func (d *DB) PutMPCMask(revLockCom [32]byte, mask statedb.MPCMaskRecord) error {
	return d.putJSON(d.key("mpcmask", hex.EncodeToString(revLockCom[:])), mask)
}

func (d *DB) GetMPCMask(revLockCom [32]byte) (statedb.MPCMaskRecord, bool, error) {
	var mask statedb.MPCMaskRecord
	ok, err := d.getJSON(d.key("mpcmask", hex.EncodeToString(revLockCom[:])), &mask)
	return mask, ok, err
}

func (d *DB) PutSession(sessionID zkchan.SessionID, s zkchan.SessionState) error {
	return d.putJSON(d.key("session", hex.EncodeToString(sessionID[:])), s)
}

func (d *DB) GetSession(sessionID zkchan.SessionID) (zkchan.SessionState, bool, error) {
	var s zkchan.SessionState
	ok, err := d.getJSON(d.key("session", hex.EncodeToString(sessionID[:])), &s)
	return s, ok, err
}

func (d *DB) putJSON(key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return d.put(key, b)
}

func (d *DB) getJSON(key string, out interface{}) (bool, error) {
	v, ok, err := d.get(key)
	if err != nil || !ok {
		return ok, err
	}
	return true, json.Unmarshal(v, out)
}

// Close releases the underlying etcd client connection.
func (d *DB) Close() error {
	return d.client.Close()
}

var _ statedb.StateDatabase = (*DB)(nil)
