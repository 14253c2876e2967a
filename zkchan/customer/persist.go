package customer

import (
	"bytes"
	"encoding/gob"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/zkchannels/zkchanneld/zkchan"
	"github.com/zkchannels/zkchanneld/zkchan/zkerrors"
)

// persistedCore is the gob-encodable shadow of Core, matching the
// teacher's channeldb persisted-blob style (a dedicated on-disk struct
// kept separate from the runtime type so private keys serialize as raw
// bytes rather than via btcec's unexported field layout).
type persistedCore struct {
	Name string

	SkCustBytes  []byte
	CloseSkBytes []byte

	RevSecret zkchan.RevSecret
	RevLock   zkchan.RevLock
	T         [16]byte

	CurrentState    zkchan.State
	PayToken        [32]byte
	PayTokenMaskCom [32]byte
	PtMasked        [32]byte
	MaskedOutputs   zkchan.MaskedTxMPCInputs
	EscrowTxSigned  []byte
	MerchTxSigned   []byte

	ProtocolStatus zkchan.ProtocolStatus
	ChannelStatus  zkchan.ChannelStatus
}

// MarshalState gob-encodes the customer's full channel state for the
// cust:<name>:{cust_state,channel_state,channel_token} layout of spec
// §6's persisted state. The channel token itself is the caller's
// responsibility to persist separately (zkchan/persist.Store handles
// both together).
func (c *Core) MarshalState() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p := persistedCore{
		Name:            c.name,
		SkCustBytes:     c.skCust.Serialize(),
		CloseSkBytes:    c.closeSk.Serialize(),
		RevSecret:       c.revSecret,
		RevLock:         c.revLock,
		T:               c.t,
		CurrentState:    c.currentState,
		PayToken:        c.payToken,
		PayTokenMaskCom: c.payTokenMaskCom,
		PtMasked:        c.ptMasked,
		MaskedOutputs:   c.maskedOutputs,
		EscrowTxSigned:  c.escrowTxSigned,
		MerchTxSigned:   c.merchTxSigned,
		ProtocolStatus:  c.protocolStatus,
		ChannelStatus:   c.channelStatus,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	return buf.Bytes(), nil
}

// UnmarshalState rebuilds a Core from a blob produced by MarshalState.
func UnmarshalState(data []byte) (*Core, error) {
	var p persistedCore
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return nil, zkerrors.Wrap(zkerrors.InputMalformed, err)
	}

	skCust, pubKey := btcec.PrivKeyFromBytes(p.SkCustBytes)
	_ = pubKey
	closeSk, _ := btcec.PrivKeyFromBytes(p.CloseSkBytes)

	c := &Core{
		name:            p.Name,
		skCust:          skCust,
		closeSk:         closeSk,
		revSecret:       p.RevSecret,
		revLock:         p.RevLock,
		t:               p.T,
		currentState:    p.CurrentState,
		payToken:        p.PayToken,
		payTokenMaskCom: p.PayTokenMaskCom,
		ptMasked:        p.PtMasked,
		maskedOutputs:   p.MaskedOutputs,
		escrowTxSigned:  p.EscrowTxSigned,
		merchTxSigned:   p.MerchTxSigned,
		protocolStatus:  p.ProtocolStatus,
		channelStatus:   p.ChannelStatus,
	}
	return c, nil
}
