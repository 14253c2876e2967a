package statedb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zkchannels/zkchanneld/zkchan"
	"github.com/zkchannels/zkchanneld/zkchan/statedb"
	"github.com/zkchannels/zkchanneld/zkchan/statedb/memstate"
)

// newStore returns the backend under test. Every backend implementing
// statedb.StateDatabase must pass this same conformance suite; only
// memstate is exercised directly here since the other backends require a
// live database to dial.
func newStore(t *testing.T) statedb.StateDatabase {
	t.Helper()
	return memstate.New()
}

func TestUnlinkSetMembership(t *testing.T) {
	db := newStore(t)
	nonce := zkchan.Nonce{1, 2, 3}

	ok, err := db.IsUnlinkMember(nonce)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, db.AddUnlink(nonce))
	ok, err = db.IsUnlinkMember(nonce)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, db.RemoveUnlink(nonce))
	ok, err = db.IsUnlinkMember(nonce)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSpentNonceMarksAndBurns(t *testing.T) {
	db := newStore(t)
	nonce := zkchan.Nonce{4, 5, 6}

	_, spent, err := db.CheckSpent(nonce)
	require.NoError(t, err)
	require.False(t, spent)

	revLock := zkchan.RevLock{9, 9, 9}
	require.NoError(t, db.MarkSpent(nonce, revLock))

	got, spent, err := db.CheckSpent(nonce)
	require.NoError(t, err)
	require.True(t, spent)
	require.Equal(t, revLock, got)

	// A zero rev_lock burns the nonce: still "spent", but with no usable
	// dispute evidence attached.
	burned := zkchan.Nonce{7, 7, 7}
	require.NoError(t, db.MarkSpent(burned, zkchan.RevLock{}))
	got, spent, err = db.CheckSpent(burned)
	require.NoError(t, err)
	require.True(t, spent)
	require.Equal(t, zkchan.RevLock{}, got)
}

func TestRevocationRoundTrip(t *testing.T) {
	db := newStore(t)
	revLock := zkchan.RevLock{1}
	revSecret := zkchan.RevSecret{2}

	_, found, err := db.GetRevocation(revLock)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, db.PutRevocation(revLock, revSecret))

	got, found, err := db.GetRevocation(revLock)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, revSecret, got)
}

func TestNonceMaskRoundTrip(t *testing.T) {
	db := newStore(t)
	nonce := zkchan.Nonce{1}
	mask := statedb.PayMaskRecord{PayMask: [32]byte{1}, PayMaskR: [32]byte{2}}

	require.NoError(t, db.PutNonceMask(nonce, mask))
	got, found, err := db.GetNonceMask(nonce)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, mask, got)
}

func TestMPCMaskRoundTrip(t *testing.T) {
	db := newStore(t)
	com := [32]byte{3}
	mask := statedb.MPCMaskRecord{
		EscrowMask: [32]byte{1},
		MerchMask:  [32]byte{2},
		REscrowSig: [32]byte{3},
		RMerchSig:  [32]byte{4},
	}

	require.NoError(t, db.PutMPCMask(com, mask))
	got, found, err := db.GetMPCMask(com)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, mask, got)
}

func TestSessionRoundTrip(t *testing.T) {
	db := newStore(t)
	id := zkchan.SessionID{1}
	s := zkchan.SessionState{
		Status:     zkchan.SessionUpdate,
		Nonce:      zkchan.Nonce{1},
		RevLockCom: [32]byte{2},
		Amount:     500,
	}

	require.NoError(t, db.PutSession(id, s))
	got, found, err := db.GetSession(id)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, s, got)
}

func TestCloseIsIdempotent(t *testing.T) {
	db := newStore(t)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
}
