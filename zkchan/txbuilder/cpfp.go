package txbuilder

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// CPFPParams describes the child-pays-for-parent transaction that spends a
// cust-close transaction's dedicated val_cpfp P2WPKH output, letting
// whichever party is relying on fast confirmation of the cust-close bump
// its effective feerate without needing that transaction's own fee to have
// been set generously in advance.
type CPFPParams struct {
	ParentTxID  [32]byte
	ChildIndex  uint32
	InputAmount int64
	SpenderPk   *btcec.PublicKey
	OutputPk    *btcec.PublicKey
	Fee         int64
}

// BuildCPFPTx constructs the unsigned CPFP child transaction.
func BuildCPFPTx(p CPFPParams) (*wire.MsgTx, error) {
	if p.InputAmount <= p.Fee {
		return nil, fmt.Errorf("cpfp input %d does not cover fee %d", p.InputAmount, p.Fee)
	}

	tx := wire.NewMsgTx(2)
	outPoint := wire.NewOutPoint(reverseHash(p.ParentTxID), p.ChildIndex)
	tx.AddTxIn(wire.NewTxIn(outPoint, nil, nil))

	outScript, err := P2WKHScript(p.OutputPk)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(p.InputAmount-p.Fee, outScript))

	return tx, nil
}

// BuildCPFPPreimage computes the sighash preimage for the CPFP transaction's
// P2WPKH input.
func BuildCPFPPreimage(tx *wire.MsgTx, p CPFPParams, inputPkScript []byte) ([]byte, error) {
	prevOut := &SpentOutput{PkScript: inputPkScript, Value: p.InputAmount}
	return calcPreimage(tx, 0, p2wkhSignScript(inputPkScript), prevOut, txscript.SigHashAll)
}

// FinalizeCPFPTx attaches the standard P2WPKH witness.
func FinalizeCPFPTx(tx *wire.MsgTx, spenderPub, sig []byte) *wire.MsgTx {
	tx.TxIn[0].Witness = wire.TxWitness{sig, spenderPub}
	return tx
}
