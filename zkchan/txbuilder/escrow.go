package txbuilder

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// EscrowParams describes the inputs the customer funds the channel with.
type EscrowParams struct {
	FundingInputs []wire.TxIn
	CustChangePk  []byte
	ChangeAmount  int64
	CustPub       []byte
	MerchPub      []byte
	ChannelAmount int64
}

// BuildEscrowTx constructs the 2-of-2 escrow funding transaction. It is
// signed entirely by the customer's wallet against FundingInputs (the
// channel counterparty never signs this transaction, mirroring the
// original's separation of wallet-funding from channel-protocol
// signatures).
func BuildEscrowTx(p EscrowParams) (*wire.MsgTx, []byte, error) {
	if p.ChannelAmount <= 0 {
		return nil, nil, fmt.Errorf("channel amount must be positive, got %d", p.ChannelAmount)
	}
	if len(p.FundingInputs) == 0 {
		return nil, nil, fmt.Errorf("escrow tx requires at least one funding input")
	}

	redeemScript, escrowOut, err := EscrowPkScript(p.CustPub, p.MerchPub, p.ChannelAmount)
	if err != nil {
		return nil, nil, err
	}

	tx := wire.NewMsgTx(2)
	for i := range p.FundingInputs {
		in := p.FundingInputs[i]
		tx.AddTxIn(&in)
	}
	tx.AddTxOut(escrowOut)

	if p.ChangeAmount > 0 {
		changeScript, err := p2wkhFromHash(p.CustChangePk)
		if err != nil {
			return nil, nil, err
		}
		tx.AddTxOut(wire.NewTxOut(p.ChangeAmount, changeScript))
	}

	return tx, redeemScript, nil
}

// p2wkhFromHash builds a P2WPKH script from a 20-byte hash160, used for
// wallet-supplied change addresses that are already hashed.
func p2wkhFromHash(hash160 []byte) ([]byte, error) {
	if len(hash160) != 20 {
		return nil, fmt.Errorf("expected 20-byte hash160, got %d bytes", len(hash160))
	}
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	builder.AddData(hash160)
	return builder.Script()
}

// EscrowTxID returns the txid of a finalized escrow transaction
// (tx.TxHash), in internal wire byte order.
func EscrowTxID(tx *wire.MsgTx) chainhash.Hash {
	return tx.TxHash()
}
