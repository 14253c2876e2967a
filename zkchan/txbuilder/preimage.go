package txbuilder

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// SpentOutput describes the single UTXO a transaction's sole input spends,
// enough to compute a BIP-143 witness-program sighash.
type SpentOutput struct {
	PkScript []byte
	Value    int64
}

// calcPreimage computes the BIP-143 witness v0 sighash for the single input
// at inputIndex of tx, spending prevOut under redeemScript, with the given
// sighash type. Customer and merchant must each arrive at byte-identical
// preimages for the security-critical cust-close transactions, so this is
// the single chokepoint both sides route through (SPEC_FULL.md §4.5).
func calcPreimage(tx *wire.MsgTx, inputIndex int, redeemScript []byte, prevOut *SpentOutput, hashType txscript.SigHashType) ([]byte, error) {
	fetcher := txscript.NewCannedPrevOutputFetcher(prevOut.PkScript, prevOut.Value)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	return txscript.CalcWitnessSigHash(redeemScript, sigHashes, hashType, tx, inputIndex, prevOut.Value)
}
