package zkchan

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/btcsuite/btcd/btcec/v2"
)

// ChannelToken binds the two parties' public keys to the two opening
// transactions' identities. It is shared-by-value: both sides must hold
// byte-identical copies or every subsequent proof fails.
type ChannelToken struct {
	PkCust    []byte `json:"pk_c"`
	PkMerch   []byte `json:"pk_m"`
	EscrowTxID TxID  `json:"escrow_txid"`
	MerchTxID  TxID  `json:"merch_txid"`
}

// canonicalJSON renders the token into the stable encoding used for channel
// id computation. encoding/json sorts map keys but not struct fields, so the
// struct's field order (which json.Marshal preserves) is itself the
// canonical order -- do not reorder the fields above without considering
// that every previously computed channel id would change.
func (t *ChannelToken) canonicalJSON() ([]byte, error) {
	return json.Marshal(t)
}

// ChannelID returns SHA256(canonical_json(ChannelToken)), fixed once PkCust
// is bound. It is derived on demand rather than cached on the struct to
// avoid staleness if a caller mutates the token's fields directly.
func (t *ChannelToken) ChannelID() ([32]byte, error) {
	b, err := t.canonicalJSON()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(b), nil
}

// CustPubKey parses PkCust as a compressed secp256k1 public key.
func (t *ChannelToken) CustPubKey() (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(t.PkCust)
}

// MerchPubKey parses PkMerch as a compressed secp256k1 public key.
func (t *ChannelToken) MerchPubKey() (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(t.PkMerch)
}
