package txbuilder

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

// EscrowFundingPSBT wraps an unsigned escrow funding transaction in a PSBT
// so that a customer's external wallet can independently add its own
// UTXO-provenance metadata (BIP-32 derivation paths, witness UTXOs) and sign
// without this package ever needing to understand that wallet's key
// management (SPEC_FULL.md §4.5's "customer wallet may be a hardware
// signer" addition).
func EscrowFundingPSBT(tx *wire.MsgTx, inputs []SpentOutput) (*psbt.Packet, error) {
	if len(inputs) != len(tx.TxIn) {
		return nil, fmt.Errorf("have %d inputs but tx declares %d", len(inputs), len(tx.TxIn))
	}

	p, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, fmt.Errorf("wrap escrow tx as psbt: %w", err)
	}

	for i, in := range inputs {
		p.Inputs[i].WitnessUtxo = wire.NewTxOut(in.Value, in.PkScript)
	}

	return p, nil
}

// FinalizeEscrowPSBT extracts the fully-signed escrow transaction from a
// PSBT once the customer's wallet has attached all input signatures.
func FinalizeEscrowPSBT(p *psbt.Packet) (*wire.MsgTx, error) {
	ok, err := psbt.MaybeFinalizeAll(p)
	if err != nil {
		return nil, fmt.Errorf("finalize escrow psbt: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("escrow psbt is not fully signed")
	}
	return psbt.Extract(p)
}
