package zkcrypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// KeyPair bundles a secp256k1 private key with its compressed-serialized
// public key, the representation every wire frame and ChannelToken field
// uses.
type KeyPair struct {
	Priv *btcec.PrivateKey
	Pub  []byte
}

// GenKeyPair samples a fresh secp256k1 keypair from rng. Passing an explicit
// io.Reader (rather than reaching for crypto/rand internally) keeps key
// generation deterministic in tests, per spec.md §9's "explicit RNG
// parameters" re-architecture note.
func GenKeyPair(rng io.Reader) (*KeyPair, error) {
	if rng == nil {
		rng = rand.Reader
	}
	var buf [32]byte
	if _, err := io.ReadFull(rng, buf[:]); err != nil {
		return nil, fmt.Errorf("sampling private key: %w", err)
	}

	priv, pub := btcec.PrivKeyFromBytes(buf[:])
	return &KeyPair{Priv: priv, Pub: pub.SerializeCompressed()}, nil
}

// Sign produces a DER-encoded ECDSA signature of digest (which must already
// be the 32-byte BIP-143 sighash) under priv.
func Sign(priv *btcec.PrivateKey, digest [32]byte) []byte {
	sig := ecdsa.Sign(priv, digest[:])
	return sig.Serialize()
}

// Verify reports whether sig is a valid DER-encoded ECDSA signature of
// digest under the compressed public key pubKey.
func Verify(pubKey []byte, digest [32]byte, sig []byte) (bool, error) {
	pk, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false, fmt.Errorf("parsing public key: %w", err)
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false, fmt.Errorf("parsing signature: %w", err)
	}
	return parsed.Verify(digest[:], pk), nil
}

// SignCompactParts signs digest under priv and returns the signature's raw
// (r, s) scalars rather than a DER encoding. This is what the merchant side
// of F_pay actually produces inside the circuit: r is safe to reveal as-is,
// but s gets XOR-masked (MaskScalar) before it ever leaves the circuit, so
// the merchant's own code never holds a complete, usable signature.
func SignCompactParts(priv *btcec.PrivateKey, digest [32]byte) (r, s [32]byte) {
	compact := ecdsa.SignCompact(priv, digest[:], true)
	copy(r[:], compact[1:33])
	copy(s[:], compact[33:65])
	return r, s
}
