package zkproofs

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
)

// OpeningProof is a Schnorr-style non-interactive zero-knowledge proof that
// the prover knows (v, r) opening a Pedersen commitment, without revealing
// either value. It stands in for the original's NIZK-over-BLS12-381 proof
// (src/nizk.rs) using the same secp256k1 curve as the rest of this module.
type OpeningProof struct {
	// Commitment to the prover's randomness: T = k_v*G + k_r*H.
	T *btcec.PublicKey
	// Challenge, Fiat-Shamir-derived from (params, C, T).
	E [32]byte
	// Responses.
	Zv [32]byte
	Zr [32]byte
}

func challenge(params *Params, c *Commitment, t *btcec.PublicKey) [32]byte {
	h := sha256.New()
	h.Write(params.G.SerializeCompressed())
	h.Write(params.H.SerializeCompressed())
	h.Write(c.Point.SerializeCompressed())
	h.Write(t.SerializeCompressed())
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Prove constructs an OpeningProof that the prover knows (v, r) such that
// Commit(params, v, r) == c.
func Prove(rng io.Reader, params *Params, c *Commitment, v, r [32]byte) (*OpeningProof, error) {
	if rng == nil {
		rng = rand.Reader
	}

	kv, err := RandomBlinding(rng)
	if err != nil {
		return nil, err
	}
	kr, err := RandomBlinding(rng)
	if err != nil {
		return nil, err
	}

	tCommit, err := Commit(params, kv, kr)
	if err != nil {
		return nil, err
	}
	e := challenge(params, c, tCommit.Point)

	curveOrder := btcec.S256().N
	zv := respond(kv, e, v, curveOrder)
	zr := respond(kr, e, r, curveOrder)

	return &OpeningProof{T: tCommit.Point, E: e, Zv: zv, Zr: zr}, nil
}

// respond computes z = k + e*x mod N.
func respond(k [32]byte, e [32]byte, x [32]byte, N *big.Int) [32]byte {
	kInt := new(big.Int).SetBytes(k[:])
	eInt := new(big.Int).SetBytes(e[:])
	xInt := new(big.Int).SetBytes(x[:])

	z := new(big.Int).Mul(eInt, xInt)
	z.Add(z, kInt)
	z.Mod(z, N)

	var out [32]byte
	z.FillBytes(out[:])
	return out
}

// Verify checks that proof is a valid opening proof for commitment c under
// params, without learning (v, r).
func Verify(params *Params, c *Commitment, proof *OpeningProof) (bool, error) {
	expectedE := challenge(params, c, proof.T)
	if expectedE != proof.E {
		return false, errors.New("challenge mismatch")
	}

	// Check zv*G + zr*H == T + e*C.
	curve := btcec.S256()

	lhs, err := Commit(params, proof.Zv, proof.Zr)
	if err != nil {
		return false, err
	}

	cX, cY := pubXY(c.Point)
	eX, eY := curve.ScalarMult(cX, cY, proof.E[:])
	tX, tY := pubXY(proof.T)
	rhsX, rhsY := curve.Add(tX, tY, eX, eY)

	lhsX, lhsY := pubXY(lhs.Point)
	return lhsX.Cmp(rhsX) == 0 && lhsY.Cmp(rhsY) == 0, nil
}
