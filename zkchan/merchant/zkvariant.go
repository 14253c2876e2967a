package merchant

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/zkchannels/zkchanneld/zkchan/zkcrypto/zkproofs"
)

// ZKMerchant is the zkproofs variant's analogue of Core: it holds the
// merchant's close-signing key and answers blind-signature requests, in
// place of the MPC variant's HMAC pay-token key pair. It is a standalone
// type rather than a Core field because the two variants never run
// together against the same channel -- a channel picks one key scheme
// up front, per spec.md's GLOSSARY distinction between the two.
type ZKMerchant struct {
	closeSk *btcec.PrivateKey
}

// NewZKMerchant samples the merchant's blind-signing key.
func NewZKMerchant(rng io.Reader) (*ZKMerchant, error) {
	if rng == nil {
		rng = rand.Reader
	}
	sk, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &ZKMerchant{closeSk: sk}, nil
}

// ClosePubKey returns the public key a customer verifies close tokens
// against.
func (m *ZKMerchant) ClosePubKey() *btcec.PublicKey {
	return m.closeSk.PubKey()
}

// IssueCloseToken is the merchant's half of the blind-signature exchange:
// verify the customer's NIZK proof that req's underlying commitment opens
// to a balance pair the merchant agrees to, then blind-sign it without
// ever seeing the balances or the commitment's blinding factor.
func (m *ZKMerchant) IssueCloseToken(proof *zkproofs.OpeningProof, c *zkproofs.Commitment, req *zkproofs.BlindRequest) ([]byte, error) {
	params := zkproofs.SetupParams()
	ok, err := zkproofs.Verify(params, c, proof)
	if err != nil {
		return nil, fmt.Errorf("merchant: verify opening proof: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("merchant: opening proof does not verify against the committed state")
	}
	return zkproofs.SignBlinded(m.closeSk, req), nil
}
