package chainwatch

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/neutrino"
	"github.com/stretchr/testify/require"
)

// newTestWatcher builds a NeutrinoWatcher with no backing ChainService,
// exercising only the block-connected/disconnected bookkeeping that drives
// RegisterConfirmation/RegisterSpend -- the part of this package that
// doesn't require a live SPV peer to test.
func newTestWatcher() *NeutrinoWatcher {
	return NewNeutrinoWatcher(nil)
}

func dummyTx(seed byte) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{seed}, Index: 0}})
	tx.AddTxOut(&wire.TxOut{Value: 1000})
	return tx
}

func TestRegisterConfirmationFiresAtDepth(t *testing.T) {
	w := newTestWatcher()

	tx := btcutil.NewTx(dummyTx(1))
	txid := *tx.Hash()

	event, err := w.RegisterConfirmation(txid, 3, 100)
	require.NoError(t, err)

	w.onFilteredBlockConnected(100, &wire.BlockHeader{}, []*neutrino.FilteredBlockTx{{Index: 0, Tx: tx}})

	select {
	case <-event.Confirmed:
		t.Fatal("fired before reaching numConfs")
	case <-time.After(10 * time.Millisecond):
	}

	w.onFilteredBlockConnected(101, &wire.BlockHeader{}, nil)
	w.onFilteredBlockConnected(102, &wire.BlockHeader{}, nil)

	select {
	case height := <-event.Confirmed:
		require.Equal(t, int32(100), height)
	case <-time.After(time.Second):
		t.Fatal("confirmation event never fired")
	}
}

func TestRegisterSpendFiresOnMatchingInput(t *testing.T) {
	w := newTestWatcher()

	outpoint := wire.OutPoint{Hash: chainhash.Hash{9}, Index: 0}
	ch, err := w.RegisterSpend(outpoint, 50)
	require.NoError(t, err)

	spender := wire.NewMsgTx(wire.TxVersion)
	spender.AddTxIn(&wire.TxIn{PreviousOutPoint: outpoint})

	w.onFilteredBlockConnected(51, &wire.BlockHeader{}, []*neutrino.FilteredBlockTx{{Index: 0, Tx: btcutil.NewTx(spender)}})

	select {
	case spendingTx := <-ch:
		require.Equal(t, spender.TxHash(), spendingTx.TxHash())
	case <-time.After(time.Second):
		t.Fatal("spend event never fired")
	}
}

func TestBlockDisconnectedNotifiesPendingConfirmations(t *testing.T) {
	w := newTestWatcher()

	tx := dummyTx(2)
	event, err := w.RegisterConfirmation(*btcutil.NewTx(tx).Hash(), 1, 10)
	require.NoError(t, err)

	w.onFilteredBlockDisconnected(10, &wire.BlockHeader{})

	select {
	case <-event.NegativeConf:
	case <-time.After(time.Second):
		t.Fatal("negative confirmation never fired")
	}
}
