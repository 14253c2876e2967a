package zkcrypto

import (
	"crypto/rand"
	"io"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// XOR32 returns a XOR b, byte-by-byte.
func XOR32(a, b [32]byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// RandomMask32 samples a uniform 32-byte XOR mask from rng.
func RandomMask32(rng io.Reader) ([32]byte, error) {
	if rng == nil {
		rng = rand.Reader
	}
	var out [32]byte
	_, err := io.ReadFull(rng, out[:])
	return out, err
}

// RandomBytes samples n uniform bytes from rng.
func RandomBytes(rng io.Reader, n int) ([]byte, error) {
	if rng == nil {
		rng = rand.Reader
	}
	out := make([]byte, n)
	_, err := io.ReadFull(rng, out)
	return out, err
}

// ReconstructSignature rebuilds a DER-encoded ECDSA signature from its
// public nonce part r and a masked scalar share, XOR-unmasked with mask.
// This is how the customer recovers the closing-transaction signatures the
// MPC circuit produced for it (SPEC_FULL.md §4.3, invariant 5): the circuit
// never reveals the signature directly, only r in the clear and s XORed
// against a one-time mask the customer already committed to.
func ReconstructSignature(r [32]byte, maskedS [32]byte, mask [32]byte) []byte {
	sBytes := XOR32(maskedS, mask)

	var rScalar, sScalar secp256k1.ModNScalar
	rScalar.SetByteSlice(r[:])
	sScalar.SetByteSlice(sBytes[:])

	sig := ecdsa.NewSignature(&rScalar, &sScalar)
	return sig.Serialize()
}

// MaskScalar XOR-masks a raw ECDSA signature scalar (the 's' component) for
// transmission as part of an MPC output. Used on the merchant/MPC-bridge
// side to produce the masked shares the customer later unmasks with
// ReconstructSignature.
func MaskScalar(s *secp256k1.ModNScalar, mask [32]byte) [32]byte {
	sBytes := s.Bytes()
	return XOR32(sBytes, mask)
}
