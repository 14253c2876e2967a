package txbuilder

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// DisputeParams describes a merchant sweep of a broadcast, revoked
// cust-close output -- the on-chain consequence of revocation soundness
// (spec.md §7): the merchant holds rev_secret for the contested state and
// uses it to satisfy the revocation branch of CustCloseScript.
type DisputeParams struct {
	CustCloseTxID    [32]byte
	CustCloseIndex   uint32
	CustCloseAmount  int64
	CustCloseScript  []byte
	DisputePayoutPk  *btcec.PublicKey
	Fee              int64
}

// BuildDisputeTx constructs the unsigned transaction sweeping the contested
// cust-close output entirely to the merchant's dispute payout key.
func BuildDisputeTx(p DisputeParams) (*wire.MsgTx, error) {
	if p.CustCloseAmount <= p.Fee {
		return nil, fmt.Errorf("cust-close amount %d does not cover fee %d", p.CustCloseAmount, p.Fee)
	}

	tx := wire.NewMsgTx(2)
	outPoint := wire.NewOutPoint(reverseHash(p.CustCloseTxID), p.CustCloseIndex)
	tx.AddTxIn(wire.NewTxIn(outPoint, nil, nil))

	payoutScript, err := P2WKHScript(p.DisputePayoutPk)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(p.CustCloseAmount-p.Fee, payoutScript))

	return tx, nil
}

// BuildDisputePreimage computes the sighash preimage for the dispute
// transaction's input, spent via CustCloseScript's revocation branch.
func BuildDisputePreimage(tx *wire.MsgTx, p DisputeParams) ([]byte, error) {
	prevOut := &SpentOutput{Value: p.CustCloseAmount}
	var err error
	prevOut.PkScript, err = witnessScriptHash(p.CustCloseScript)
	if err != nil {
		return nil, err
	}
	return calcPreimage(tx, 0, p.CustCloseScript, prevOut, txscript.SigHashAll)
}

// FinalizeDisputeTx attaches the revocation-branch witness: <sig> <1>
// <redeemScript>, forcing CustCloseScript's OP_IF clause (revocation) per
// the same stack convention as commitSpendRevoke in script_utils.go.
func FinalizeDisputeTx(tx *wire.MsgTx, redeemScript, sig []byte) *wire.MsgTx {
	tx.TxIn[0].Witness = wire.TxWitness{sig, []byte{1}, redeemScript}
	return tx
}
