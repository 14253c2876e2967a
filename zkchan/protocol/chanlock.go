package protocol

import "sync"

// ChannelLock is a keyed mutex, one lock per channel, adapted from
// gcash-bchwallet/paymentchannels's Kmutex: a merchant server holds many
// channels behind a single MerchantDriver, and a channel's Establish/
// Activate/Pay/Close calls must serialize against that one channel's own
// escrow_txid_be key, never against every other channel's.
type ChannelLock struct {
	m sync.Map
}

// NewChannelLock returns an empty lock set.
func NewChannelLock() *ChannelLock {
	return &ChannelLock{}
}

// Lock blocks until key is held by no one else, then acquires it.
func (k *ChannelLock) Lock(key string) {
	mu := &sync.Mutex{}
	actual, _ := k.m.LoadOrStore(key, mu)
	owned := actual.(*sync.Mutex)
	owned.Lock()
	if owned != mu {
		owned.Unlock()
		k.Lock(key)
		return
	}
}

// Unlock releases key. Panics if key is not currently held -- the same
// contract Kmutex.Unlock makes, since an unbalanced Unlock means a driver
// bug, not a runtime condition to recover from.
func (k *ChannelLock) Unlock(key string) {
	v, ok := k.m.Load(key)
	if !ok {
		panic("protocol: unlock of channel lock that was never locked: " + key)
	}
	k.m.Delete(key)
	v.(*sync.Mutex).Unlock()
}
