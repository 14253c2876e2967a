package txbuilder

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// CustCloseParams fully determines a cust-close transaction's shape. Both
// customer and merchant build this struct independently from their shared
// ChannelToken/ChannelMPCState and the state under negotiation; if they
// disagree on any field the resulting preimages will not match and the
// customer will reject the merchant's signature (spec.md §4.5's load-bearing
// equality).
type CustCloseParams struct {
	// SpendTxID/SpendIndex identify the escrow or merch-close output this
	// cust-close transaction spends.
	SpendTxID   [32]byte
	SpendIndex  uint32
	SpendAmount int64

	SelfDelay     uint16
	CustBalance   int64
	MerchBalance  int64
	Fee           int64
	ValCPFP       int64
	CustPayoutPk  *btcec.PublicKey
	RevocationPk  *btcec.PublicKey
	MerchPayoutPk *btcec.PublicKey
	MerchChildPk  *btcec.PublicKey
}

// buildCustCloseTxSkeleton constructs the unsigned cust-close transaction
// common to both the cust-close-from-escrow and cust-close-from-merch
// variants -- they differ only in which prior output they spend and under
// which redeem script, never in this output layout.
func buildCustCloseTxSkeleton(p CustCloseParams) (*wire.MsgTx, []byte, error) {
	if p.CustBalance < 0 || p.MerchBalance < 0 {
		return nil, nil, fmt.Errorf("balances must be non-negative: cust=%d merch=%d", p.CustBalance, p.MerchBalance)
	}
	if p.SpendAmount < p.CustBalance+p.MerchBalance+p.Fee+p.ValCPFP {
		return nil, nil, fmt.Errorf("spend amount %d insufficient for cust=%d merch=%d fee=%d cpfp=%d",
			p.SpendAmount, p.CustBalance, p.MerchBalance, p.Fee, p.ValCPFP)
	}

	custScript, err := CustCloseScript(p.SelfDelay, p.CustPayoutPk, p.RevocationPk)
	if err != nil {
		return nil, nil, err
	}

	tx := wire.NewMsgTx(2)
	outPoint := wire.NewOutPoint(reverseHash(p.SpendTxID), p.SpendIndex)
	txIn := wire.NewTxIn(outPoint, nil, nil)
	txIn.Sequence = LockTimeToSequence(p.SelfDelay)
	tx.AddTxIn(txIn)

	custPkScript, err := witnessScriptHash(custScript)
	if err != nil {
		return nil, nil, err
	}
	tx.AddTxOut(wire.NewTxOut(p.CustBalance, custPkScript))

	if p.MerchBalance > 0 {
		merchScript, err := P2WKHScript(p.MerchPayoutPk)
		if err != nil {
			return nil, nil, err
		}
		tx.AddTxOut(wire.NewTxOut(p.MerchBalance, merchScript))
	}

	if p.ValCPFP > 0 {
		childScript, err := P2WKHScript(p.MerchChildPk)
		if err != nil {
			return nil, nil, err
		}
		tx.AddTxOut(wire.NewTxOut(p.ValCPFP, childScript))
	}

	return tx, custScript, nil
}

// BuildCustCloseFromEscrowPreimage computes the sighash preimage for the
// cust-close transaction spending directly from the escrow output under the
// 2-of-2 escrow redeem script.
func BuildCustCloseFromEscrowPreimage(p CustCloseParams, escrowRedeemScript []byte) ([]byte, error) {
	tx, _, err := buildCustCloseTxSkeleton(p)
	if err != nil {
		return nil, err
	}
	prevOut := &SpentOutput{Value: p.SpendAmount}
	prevOut.PkScript, err = witnessScriptHash(escrowRedeemScript)
	if err != nil {
		return nil, err
	}
	return calcPreimage(tx, 0, escrowRedeemScript, prevOut, txscript.SigHashAll)
}

// BuildCustCloseFromMerchPreimage computes the sighash preimage for the
// cust-close transaction spending from an already-broadcast merch-close
// output. That output carries MerchCloseOutputScript's self-delay
// alternation (see txbuilder/merchclose.go), so -- unlike a plain P2WPKH
// spend -- the BIP-143 script code is the full witness script itself,
// regardless of which of its two branches the eventual witness satisfies.
func BuildCustCloseFromMerchPreimage(p CustCloseParams, merchCloseOutputScript []byte) ([]byte, error) {
	tx, _, err := buildCustCloseTxSkeleton(p)
	if err != nil {
		return nil, err
	}
	prevOut := &SpentOutput{Value: p.SpendAmount}
	prevOut.PkScript, err = witnessScriptHash(merchCloseOutputScript)
	if err != nil {
		return nil, err
	}
	return calcPreimage(tx, 0, merchCloseOutputScript, prevOut, txscript.SigHashAll)
}

// p2wkhSignScript derives the "script code" BIP-143 requires for a P2WPKH
// output: a standard P2PKH script over the same pubkey hash.
func p2wkhSignScript(pkScript []byte) []byte {
	// pkScript is `OP_0 <20-byte-hash>`; the witness program itself.
	hash160 := pkScript[2:]
	b := make([]byte, 0, 25)
	b = append(b, 0x76, 0xa9, 0x14)
	b = append(b, hash160...)
	b = append(b, 0x88, 0xac)
	return b
}

// BuildCustCloseFromEscrowTx constructs the unsigned transaction corresponding
// to BuildCustCloseFromEscrowPreimage.
func BuildCustCloseFromEscrowTx(p CustCloseParams) (*wire.MsgTx, []byte, error) {
	return buildCustCloseTxSkeleton(p)
}

// FinalizeCustCloseFromEscrowTx attaches the two-of-two escrow witness
// (customer's own signature plus the merchant's recovered signature) to a
// cust-close-from-escrow transaction.
func FinalizeCustCloseFromEscrowTx(tx *wire.MsgTx, redeemScript, custPub, custSig, merchPub, merchSig []byte) *wire.MsgTx {
	tx.TxIn[0].Witness = EscrowWitness(redeemScript, custPub, custSig, merchPub, merchSig)
	return tx
}

// FinalizeCustCloseFromMerchTx attaches the immediate-branch witness
// (<sig> <1> <redeemScript>) spending the merch-close output's combined
// balance via the customer's own key -- MerchCloseOutputScript's OP_IF
// clause -- per the same stack convention FinalizeDisputeTx uses for
// CustCloseScript's own OP_IF clause. No merchant cooperation is required:
// the customer signs this branch itself once it holds the merch-close
// output's txid/index.
func FinalizeCustCloseFromMerchTx(tx *wire.MsgTx, redeemScript, custSig []byte) *wire.MsgTx {
	tx.TxIn[0].Witness = wire.TxWitness{custSig, []byte{1}, redeemScript}
	return tx
}
