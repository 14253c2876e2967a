package zkchan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleState() *State {
	s := &State{CustBalance: 10000, MerchBalance: 10000}
	copy(s.Nonce[:], []byte("0123456789abcdef"))
	copy(s.RevLock[:], []byte("rev-lock-32-bytes-aaaaaaaaaaaaaa"))
	copy(s.EscrowTxID[:], []byte("escrow-txid-32-bytes-aaaaaaaaaaa"))
	copy(s.MerchTxID[:], []byte("merch-txid-32-bytes-aaaaaaaaaaaa"))
	copy(s.EscrowPrevout[:], []byte("escrow-prevout-32-bytes-aaaaaaaa"))
	copy(s.MerchPrevout[:], []byte("merch-prevout-32-bytes-aaaaaaaaa"))
	return s
}

// TestStateSerializeDeterministic asserts that two independently built
// states with identical fields serialize identically -- the property both
// the customer and merchant rely on to agree on cust-close preimages.
func TestStateSerializeDeterministic(t *testing.T) {
	a := sampleState()
	b := sampleState()
	require.Equal(t, a.Serialize(), b.Serialize())
	require.Equal(t, a.Hash(), b.Hash())
	require.True(t, a.Equal(b))
}

// TestStateSerializeFieldOrder pins down the exact canonical byte layout
// from SPEC_FULL.md §3 so a future refactor can't silently reorder fields.
func TestStateSerializeFieldOrder(t *testing.T) {
	s := sampleState()
	buf := s.Serialize()

	require.Equal(t, s.Nonce[:], buf[0:16])
	require.Equal(t, s.RevLock[:], buf[16:48])
	// be(bc) at [48:56), be(bm) at [56:64)
	require.Equal(t, s.MerchTxID[:], buf[64:96])
	require.Equal(t, s.EscrowTxID[:], buf[96:128])
	require.Equal(t, s.MerchPrevout[:], buf[128:160])
	require.Equal(t, s.EscrowPrevout[:], buf[160:192])
	require.Len(t, buf, 192)
}

func TestBalanceConservedAcrossUpdate(t *testing.T) {
	old := sampleState()
	amount := int64(1000)

	next := *old
	next.CustBalance -= amount
	next.MerchBalance += amount

	require.Equal(t,
		old.CustBalance+old.MerchBalance,
		next.CustBalance+next.MerchBalance,
	)
}

func TestChannelStatusValidTransition(t *testing.T) {
	require.True(t, ChannelNone.ValidTransition(ChannelPendingOpen))
	require.False(t, ChannelOpen.ValidTransition(ChannelConfirmedClose))
	require.True(t, ChannelOpen.ValidTransition(ChannelCustomerInitClose))
	require.True(t, ChannelPendingClose.ValidTransition(ChannelConfirmedClose))
	require.True(t, ChannelPendingClose.ValidTransition(ChannelDisputed))
}
