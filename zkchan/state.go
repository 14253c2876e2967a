// Package zkchan implements the shared data model (C3) for the zkChannels
// two-party payment channel protocol: the per-update State, the
// channel-opening ChannelToken, the merchant-chosen ChannelMPCState, and the
// smaller value types passed between the customer and merchant cores.
package zkchan

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Nonce is a 16-byte value, unique per state within a channel.
type Nonce [16]byte

// RevLock is SHA256(rev_secret), 32 bytes.
type RevLock [32]byte

// RevSecret is the 32-byte preimage of a RevLock.
type RevSecret [32]byte

// TxID is a 32-byte transaction identifier, as found on the wire (the
// double-SHA256 of the serialized transaction, little-endian byte order
// within the array -- callers that need RPC/display order must reverse it).
type TxID [32]byte

// Prevout is the double-SHA256 outpoint hash used as an input to State's
// canonical serialization -- not a btcd wire.OutPoint, just the txid of the
// funding transaction paired implicitly with output index 0.
type Prevout [32]byte

// State is the per-update secret record held by the customer and jointly
// authenticated by both parties. See SPEC_FULL.md §3.
type State struct {
	Nonce         Nonce
	RevLock       RevLock
	CustBalance   int64
	MerchBalance  int64
	EscrowTxID    TxID
	MerchTxID     TxID
	EscrowPrevout Prevout
	MerchPrevout  Prevout
}

// Serialize returns the canonical byte encoding of the state:
//
//	nonce || rev_lock || be(bc) || be(bm) || merch_txid || escrow_txid ||
//	merch_prevout || escrow_prevout
//
// This exact field order is load-bearing: both the MPC circuit and the
// merchant's stand-alone HMAC computation must reproduce it byte-for-byte.
func (s *State) Serialize() []byte {
	var buf bytes.Buffer
	buf.Write(s.Nonce[:])
	buf.Write(s.RevLock[:])
	binary.Write(&buf, binary.BigEndian, s.CustBalance)
	binary.Write(&buf, binary.BigEndian, s.MerchBalance)
	buf.Write(s.MerchTxID[:])
	buf.Write(s.EscrowTxID[:])
	buf.Write(s.MerchPrevout[:])
	buf.Write(s.EscrowPrevout[:])
	return buf.Bytes()
}

// Hash returns SHA256(Serialize()), the value that is HMAC'd to produce and
// verify pay tokens.
func (s *State) Hash() [32]byte {
	return sha256.Sum256(s.Serialize())
}

// ComputePrevout derives the double-SHA256 outpoint hash for (txid, index):
// the value State's EscrowPrevout/MerchPrevout fields carry, recomputed
// independently by the merchant at validate_channel_params time to confirm
// it agrees with the customer on which outputs the initial state spends.
func ComputePrevout(txid TxID, index uint32) Prevout {
	var buf bytes.Buffer
	buf.Write(txid[:])
	binary.Write(&buf, binary.LittleEndian, index)
	first := sha256.Sum256(buf.Bytes())
	return Prevout(sha256.Sum256(first[:]))
}

// Equal reports whether two states are byte-identical once serialized.
func (s *State) Equal(o *State) bool {
	return bytes.Equal(s.Serialize(), o.Serialize())
}

// String implements fmt.Stringer for debug logging.
func (s *State) String() string {
	return fmt.Sprintf("State{nonce=%x, rev_lock=%x, bc=%d, bm=%d}",
		s.Nonce, s.RevLock, s.CustBalance, s.MerchBalance)
}
