package txbuilder

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// MutualCloseParams describes the cooperative close transaction: a direct,
// undelayed split of the escrow output between both parties' payout keys,
// requiring both signatures and skipping the cust-close CSV delay entirely.
type MutualCloseParams struct {
	EscrowTxID   [32]byte
	EscrowIndex  uint32
	EscrowAmount int64
	CustBalance  int64
	MerchBalance int64
	Fee          int64
	CustPayoutPk *btcec.PublicKey
	MerchPayoutPk *btcec.PublicKey
}

// BuildMutualCloseTx constructs the unsigned mutual-close transaction.
func BuildMutualCloseTx(p MutualCloseParams) (*wire.MsgTx, error) {
	if p.EscrowAmount < p.CustBalance+p.MerchBalance+p.Fee {
		return nil, fmt.Errorf("escrow amount %d insufficient for cust=%d merch=%d fee=%d",
			p.EscrowAmount, p.CustBalance, p.MerchBalance, p.Fee)
	}

	tx := wire.NewMsgTx(2)
	outPoint := wire.NewOutPoint(reverseHash(p.EscrowTxID), p.EscrowIndex)
	tx.AddTxIn(wire.NewTxIn(outPoint, nil, nil))

	if p.CustBalance > 0 {
		custScript, err := P2WKHScript(p.CustPayoutPk)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(p.CustBalance, custScript))
	}
	if p.MerchBalance > 0 {
		merchScript, err := P2WKHScript(p.MerchPayoutPk)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(p.MerchBalance, merchScript))
	}

	return tx, nil
}

// BuildMutualClosePreimage computes the sighash preimage for the mutual
// close transaction's escrow input.
func BuildMutualClosePreimage(tx *wire.MsgTx, p MutualCloseParams, escrowRedeemScript []byte) ([]byte, error) {
	prevOut := &SpentOutput{Value: p.EscrowAmount}
	var err error
	prevOut.PkScript, err = witnessScriptHash(escrowRedeemScript)
	if err != nil {
		return nil, err
	}
	return calcPreimage(tx, 0, escrowRedeemScript, prevOut, txscript.SigHashAll)
}

// FinalizeMutualCloseTx attaches the combined 2-of-2 escrow witness.
func FinalizeMutualCloseTx(tx *wire.MsgTx, redeemScript, custPub, custSig, merchPub, merchSig []byte) *wire.MsgTx {
	tx.TxIn[0].Witness = EscrowWitness(redeemScript, custPub, custSig, merchPub, merchSig)
	return tx
}
