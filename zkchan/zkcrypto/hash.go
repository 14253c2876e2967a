// Package zkcrypto implements the crypto primitives component (C1): hashes,
// secp256k1 keypairs/signatures for the MPC variant, and (in the zkproofs
// subpackage) Pedersen multi-commitments and NIZK proofs for the parallel
// blind-signature variant named in spec.md §1.
package zkcrypto

import (
	"crypto/hmac"
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160" //lint:ignore SA1019 required for Hash160
)

// SHA256 returns the SHA-256 digest of b.
func SHA256(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// DoubleSHA256 returns SHA256(SHA256(b)), the digest Bitcoin uses for txids
// and BIP-143 sighashes.
func DoubleSHA256(b []byte) [32]byte {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

// HMACSHA256 computes HMAC-SHA-256(key, msg).
func HMACSHA256(key, msg []byte) [32]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// VerifyHMACSHA256 reports whether tag is the HMAC-SHA-256 of msg under key,
// using a constant-time comparison.
func VerifyHMACSHA256(key, msg, tag []byte) bool {
	expected := HMACSHA256(key, msg)
	return hmac.Equal(expected[:], tag)
}

// Hash160 returns RIPEMD160(SHA256(b)), the digest used for P2WPKH/P2PKH
// pubkey hashes.
func Hash160(b []byte) [20]byte {
	sha := sha256.Sum256(b)
	ripemd := ripemd160.New()
	ripemd.Write(sha[:])
	var out [20]byte
	copy(out[:], ripemd.Sum(nil))
	return out
}
