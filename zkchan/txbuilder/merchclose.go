package txbuilder

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// MerchCloseParams describes the merch-close transaction: it spends the
// escrow output to a single combined output holding both parties' current
// balances (EscrowAmount - FeeMC = CustBalance + MerchBalance), encumbered
// by MerchCloseOutputScript's self-delay alternation so the customer can
// claim its share via cust-close-from-merch without further merchant
// cooperation, and the merchant can sweep the rest -- or the whole output,
// if the customer never acts -- only after SelfDelay (spec.md §4.2's
// store_merch_close_tx signature).
type MerchCloseParams struct {
	EscrowTxID    [32]byte // little-endian, as stored on the wire
	EscrowIndex   uint32
	EscrowAmount  int64
	MerchPayoutPk *btcec.PublicKey
	FeeMC         int64

	SelfDelay    uint16
	CustBalance  int64
	MerchBalance int64
	CustPayoutPk *btcec.PublicKey
}

// BuildMerchClosePreimage computes the BIP-143 preimage for the merch-close
// transaction's single input spending the escrow output.
func BuildMerchClosePreimage(p MerchCloseParams, redeemScript []byte) ([]byte, error) {
	tx, _, err := buildMerchCloseTxSkeleton(p)
	if err != nil {
		return nil, err
	}
	prevOut := &SpentOutput{Value: p.EscrowAmount}
	prevOut.PkScript, err = witnessScriptHash(redeemScript)
	if err != nil {
		return nil, err
	}
	return calcPreimage(tx, 0, redeemScript, prevOut, txscript.SigHashAll)
}

// BuildMerchCloseTx constructs the unsigned merch-close transaction.
func BuildMerchCloseTx(p MerchCloseParams) (*wire.MsgTx, error) {
	tx, _, err := buildMerchCloseTxSkeleton(p)
	return tx, err
}

// BuildMerchCloseOutputScript returns the witness script encumbering the
// merch-close transaction's combined-balance output, for callers that need
// it independently of building the whole transaction (cust-close-from-merch
// preimage computation).
func BuildMerchCloseOutputScript(p MerchCloseParams) ([]byte, error) {
	return MerchCloseOutputScript(p.SelfDelay, p.CustPayoutPk, p.MerchPayoutPk)
}

func buildMerchCloseTxSkeleton(p MerchCloseParams) (*wire.MsgTx, []byte, error) {
	if p.CustBalance < 0 || p.MerchBalance < 0 {
		return nil, nil, fmt.Errorf("balances must be non-negative: cust=%d merch=%d", p.CustBalance, p.MerchBalance)
	}
	combined := p.CustBalance + p.MerchBalance
	if p.EscrowAmount < combined+p.FeeMC {
		return nil, nil, fmt.Errorf("escrow amount %d insufficient for cust=%d merch=%d fee=%d",
			p.EscrowAmount, p.CustBalance, p.MerchBalance, p.FeeMC)
	}

	tx := wire.NewMsgTx(2)
	outPoint := wire.NewOutPoint(reverseHash(p.EscrowTxID), p.EscrowIndex)
	tx.AddTxIn(wire.NewTxIn(outPoint, nil, nil))

	outScript, err := MerchCloseOutputScript(p.SelfDelay, p.CustPayoutPk, p.MerchPayoutPk)
	if err != nil {
		return nil, nil, err
	}
	pkScript, err := witnessScriptHash(outScript)
	if err != nil {
		return nil, nil, err
	}
	tx.AddTxOut(wire.NewTxOut(combined, pkScript))

	return tx, outScript, nil
}

// FinalizeMerchCloseTx attaches the combined escrow witness (both cust and
// merch signatures over the 2-of-2 script) to tx.
func FinalizeMerchCloseTx(tx *wire.MsgTx, redeemScript, custPub, custSig, merchPub, merchSig []byte) *wire.MsgTx {
	tx.TxIn[0].Witness = EscrowWitness(redeemScript, custPub, custSig, merchPub, merchSig)
	return tx
}
