package customer

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/zkchannels/zkchanneld/zkchan/zkcrypto/zkproofs"
)

// ZKState is the zkproofs variant's analogue of the MPC variant's State:
// a Pedersen commitment to the channel's current balances plus the opening
// the customer holds, instead of a state the merchant authenticates over
// an MPC circuit. The customer never sends v/r to the merchant -- only
// the commitment and, when closing, a NIZK proof that it opens correctly.
type ZKState struct {
	Params *zkproofs.Params
	C      *zkproofs.Commitment
	V      [32]byte
	R      [32]byte
}

// CommitState builds the zkproofs variant's commitment to the channel's
// current balances, in place of the MPC variant's State.Serialize/MAC.
// custBal and merchBal are packed big-endian into the 32-byte committed
// value the same way State.Serialize packs them, so a commitment to a
// given balance pair is reproducible from the pair alone.
func CommitState(rng io.Reader, custBal, merchBal int64) (*ZKState, error) {
	if rng == nil {
		rng = rand.Reader
	}
	params := zkproofs.SetupParams()

	var v [32]byte
	binary.BigEndian.PutUint64(v[16:24], uint64(custBal))
	binary.BigEndian.PutUint64(v[24:32], uint64(merchBal))

	r, err := zkproofs.RandomBlinding(rng)
	if err != nil {
		return nil, err
	}
	c, err := zkproofs.Commit(params, v, r)
	if err != nil {
		return nil, err
	}
	return &ZKState{Params: params, C: c, V: v, R: r}, nil
}

// ProveOpening produces the NIZK proof of correct opening the merchant
// checks before blind-signing a close token for zs.
func (zs *ZKState) ProveOpening(rng io.Reader) (*zkproofs.OpeningProof, error) {
	return zkproofs.Prove(rng, zs.Params, zs.C, zs.V, zs.R)
}

// RequestCloseToken starts the blind-signature exchange for zs: blind the
// commitment point so the merchant's signature cannot later be linked back
// to zs once unblinded, mirroring Pay's revocation/pay-token exchange in
// the MPC variant but over a close token rather than a pay token.
func (zs *ZKState) RequestCloseToken(rng io.Reader) (*zkproofs.BlindRequest, error) {
	digest := sha256.Sum256(zs.C.Point.SerializeCompressed())
	return zkproofs.Blind(rng, digest)
}

// FinishCloseToken unblinds the merchant's signature on req into a usable
// CloseToken, verifying it against the merchant's close public key first.
func FinishCloseToken(merchClosePub []byte, req *zkproofs.BlindRequest, merchSig []byte) (*zkproofs.CloseToken, error) {
	return zkproofs.Unblind(merchClosePub, req, merchSig)
}
