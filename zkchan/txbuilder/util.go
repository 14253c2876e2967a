package txbuilder

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// reverseHash interprets raw as a chainhash.Hash without any byte-order
// conversion; txids and outpoint hashes throughout zkchan are already
// carried internally in the wire (little-endian) order chainhash.Hash
// expects.
func reverseHash(raw [32]byte) *chainhash.Hash {
	var h chainhash.Hash
	copy(h[:], raw[:])
	return &h
}
