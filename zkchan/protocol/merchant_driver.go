package protocol

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/zkchannels/zkchanneld/zkchan"
	"github.com/zkchannels/zkchanneld/zkchan/merchant"
	"github.com/zkchannels/zkchanneld/zkchan/mpcbridge"
	"github.com/zkchannels/zkchanneld/zkchan/statedb"
)

// channelEntry is everything a MerchantDriver keeps about one open channel
// beyond what merchant.Core itself stores: ValidateChannelParams's caller
// supplies init_hash to ActivateChannel rather than the core remembering
// it, so the driver is where that value lives between the two calls.
type channelEntry struct {
	core     *merchant.Core
	mpcState zkchan.ChannelMPCState
	initHash [32]byte
}

// MerchantDriver drives merchant.Core instances -- one per channel -- over
// accepted connections, serializing each channel's Establish/Activate/Pay/
// Close calls against its own escrow_txid_be via ChannelLock.
type MerchantDriver struct {
	db   statedb.StateDatabase
	lock *ChannelLock
	rng  io.Reader

	mu       sync.Mutex
	channels map[[32]byte]*channelEntry
}

// NewMerchantDriver builds a driver backed by db. rng defaults to
// crypto/rand if nil.
func NewMerchantDriver(db statedb.StateDatabase, rng io.Reader) *MerchantDriver {
	if rng == nil {
		rng = rand.Reader
	}
	return &MerchantDriver{
		db:       db,
		lock:     NewChannelLock(),
		rng:      rng,
		channels: make(map[[32]byte]*channelEntry),
	}
}

// OpenChannel samples a fresh merchant.Core for a new channel with id
// (typically the escrow txid in big-endian hex once known, or a
// provisional name before funding exists) and the given fee/collateral
// parameters, returning the ChannelMPCState the customer's "open" frame
// must carry.
func (d *MerchantDriver) OpenChannel(id string, params zkchan.ChannelMPCState) (*merchant.Core, zkchan.ChannelMPCState, error) {
	mpcState := params
	core, err := merchant.New(d.rng, id, &mpcState)
	if err != nil {
		return nil, zkchan.ChannelMPCState{}, fmt.Errorf("protocol: merchant.New: %w", err)
	}
	return core, mpcState, nil
}

// Establish runs the merchant's half of Establish over conn for a
// previously OpenChannel'd core.
func (d *MerchantDriver) Establish(conn *FrameConn, core *merchant.Core, mpcState zkchan.ChannelMPCState) error {
	stateBytes, err := marshalJSONField(mpcState)
	if err != nil {
		return err
	}
	if err := conn.SendFrame(stateBytes); err != nil {
		return fmt.Errorf("protocol: send open frame: %w", err)
	}

	initFields, err := conn.RecvFrame()
	if err != nil {
		return fmt.Errorf("protocol: recv init frame: %w", err)
	}
	if err := wantFields("init", len(initFields), 3); err != nil {
		return err
	}
	var token zkchan.ChannelToken
	if err := unmarshalJSONField(initFields[0], &token); err != nil {
		return fmt.Errorf("protocol: unmarshal init.channel_token: %w", err)
	}
	var initCustState zkchan.State
	if err := unmarshalJSONField(initFields[1], &initCustState); err != nil {
		return fmt.Errorf("protocol: unmarshal init.init_cust_state: %w", err)
	}

	custPub, err := token.CustPubKey()
	if err != nil {
		return fmt.Errorf("protocol: parse pk_c: %w", err)
	}
	custClosePub, err := btcec.ParsePubKey(initFields[2])
	if err != nil {
		return fmt.Errorf("protocol: parse cust_close_pub: %w", err)
	}

	funding := zkchan.FundingTxInfo{
		EscrowTxID:    initCustState.EscrowTxID,
		EscrowPrevout: initCustState.EscrowPrevout,
		MerchTxID:     initCustState.MerchTxID,
		MerchPrevout:  initCustState.MerchPrevout,
		InitCustBal:   initCustState.CustBalance,
		InitMerchBal:  initCustState.MerchBalance,
	}

	escrowSig, merchSig, err := core.SignInitialClosingTransaction(funding, initCustState.RevLock, custPub, custClosePub, mpcState)
	if err != nil {
		return fmt.Errorf("protocol: sign_initial_closing_transaction: %w", err)
	}
	if err := conn.SendFrame(escrowSig, merchSig); err != nil {
		return fmt.Errorf("protocol: send init_resp frame: %w", err)
	}

	validateFields, err := conn.RecvFrame()
	if err != nil {
		return fmt.Errorf("protocol: recv validate frame: %w", err)
	}
	if err := wantFields("validate", len(validateFields), 4); err != nil {
		return err
	}
	var token2 zkchan.ChannelToken
	if err := unmarshalJSONField(validateFields[0], &token2); err != nil {
		return fmt.Errorf("protocol: unmarshal validate.channel_token: %w", err)
	}
	var initCustState2 zkchan.State
	if err := unmarshalJSONField(validateFields[1], &initCustState2); err != nil {
		return fmt.Errorf("protocol: unmarshal validate.init_cust_state: %w", err)
	}
	var initHash [32]byte
	copy(initHash[:], validateFields[2])
	custSig := validateFields[3]

	ok, err := core.ValidateChannelParams(d.db, &token2, initCustState2, initHash)
	if err != nil || !ok {
		conn.SendFrame([]byte{0})
		if err != nil {
			return fmt.Errorf("protocol: validate_channel_params: %w", err)
		}
		return fmt.Errorf("protocol: validate_channel_params rejected the channel")
	}

	if err := core.StoreMerchCloseTx(funding.EscrowTxID, custPub, initCustState2.CustBalance, initCustState2.MerchBalance, mpcState.FeeMC, mpcState.SelfDelay, custSig); err != nil {
		conn.SendFrame([]byte{0})
		return fmt.Errorf("protocol: store_merch_close_tx: %w", err)
	}

	channelID, err := token2.ChannelID()
	if err != nil {
		return fmt.Errorf("protocol: channel_id: %w", err)
	}
	d.mu.Lock()
	d.channels[channelID] = &channelEntry{core: core, mpcState: mpcState, initHash: initHash}
	d.mu.Unlock()

	return conn.SendFrame([]byte{1})
}

// Activate runs the merchant's half of Activate for whichever channel the
// customer's frame names.
func (d *MerchantDriver) Activate(conn *FrameConn) error {
	fields, err := conn.RecvFrame()
	if err != nil {
		return fmt.Errorf("protocol: recv activate frame: %w", err)
	}
	if err := wantFields("activate", len(fields), 2); err != nil {
		return err
	}
	var token zkchan.ChannelToken
	if err := unmarshalJSONField(fields[0], &token); err != nil {
		return fmt.Errorf("protocol: unmarshal activate.channel_token: %w", err)
	}
	var s0 zkchan.State
	if err := unmarshalJSONField(fields[1], &s0); err != nil {
		return fmt.Errorf("protocol: unmarshal activate.s_0: %w", err)
	}

	entry, err := d.lookupChannel(&token)
	if err != nil {
		return err
	}

	escrowHex := fmt.Sprintf("%x", token.EscrowTxID)
	d.lock.Lock(escrowHex)
	defer d.lock.Unlock(escrowHex)

	payToken0, err := entry.core.ActivateChannel(s0, entry.initHash)
	if err != nil {
		return fmt.Errorf("protocol: activate_channel: %w", err)
	}
	return conn.SendFrame(payToken0[:])
}

// Pay runs the merchant's half of one Pay round over both conn (the
// plaintext protocol frames) and mpc (F_pay's own inner transport).
func (d *MerchantDriver) Pay(ctx context.Context, conn *FrameConn, mpc mpcbridge.MpcTransport, token *zkchan.ChannelToken) error {
	entry, err := d.lookupChannel(token)
	if err != nil {
		return err
	}

	escrowHex := fmt.Sprintf("%x", token.EscrowTxID)
	d.lock.Lock(escrowHex)
	defer d.lock.Unlock(escrowHex)

	prepFields, err := conn.RecvFrame()
	if err != nil {
		return fmt.Errorf("protocol: recv pay_prepare frame: %w", err)
	}
	if err := wantFields("pay_prepare", len(prepFields), 4); err != nil {
		return err
	}
	var sessionID zkchan.SessionID
	copy(sessionID[:], prepFields[0])
	var nonceOld zkchan.Nonce
	copy(nonceOld[:], prepFields[1])
	var revLockCom [32]byte
	copy(revLockCom[:], prepFields[2])
	amount := getBE64(prepFields[3])

	payMaskCom, err := entry.core.PayPrepare(d.rng, d.db, sessionID, nonceOld, revLockCom, amount, "", 546)
	if err != nil {
		return fmt.Errorf("protocol: pay_prepare: %w", err)
	}
	if err := conn.SendFrame(payMaskCom[:]); err != nil {
		return fmt.Errorf("protocol: send pay_mask_com frame: %w", err)
	}

	if err := entry.core.PayUpdate(ctx, d.rng, d.db, mpcbridge.NetworkConfig{}, mpc, sessionID, entry.mpcState); err != nil {
		return fmt.Errorf("protocol: pay_update: %w", err)
	}

	revokedFields, err := conn.RecvFrame()
	if err != nil {
		return fmt.Errorf("protocol: recv revoked_state frame: %w", err)
	}
	if err := wantFields("revoked_state", len(revokedFields), 1); err != nil {
		return err
	}
	var revoked zkchan.RevokedState
	if err := unmarshalJSONField(revokedFields[0], &revoked); err != nil {
		return fmt.Errorf("protocol: unmarshal revoked_state: %w", err)
	}

	if _, err := entry.core.PayConfirmMPCResult(d.db, sessionID, true); err != nil {
		return fmt.Errorf("protocol: pay_confirm_mpc_result: %w", err)
	}

	payMask, payMaskR, escrowMask, merchMask, err := entry.core.PayValidateRevLock(d.db, sessionID, revoked)
	if err != nil {
		return fmt.Errorf("protocol: pay_validate_rev_lock: %w", err)
	}

	return conn.SendFrame(payMask[:], payMaskR[:], escrowMask[:], merchMask[:])
}

func (d *MerchantDriver) lookupChannel(token *zkchan.ChannelToken) (*channelEntry, error) {
	channelID, err := token.ChannelID()
	if err != nil {
		return nil, fmt.Errorf("protocol: channel_id: %w", err)
	}
	d.mu.Lock()
	entry, ok := d.channels[channelID]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("protocol: unknown channel %x", channelID)
	}
	return entry, nil
}

func getBE64(b []byte) int64 {
	var u uint64
	for _, c := range b {
		u = u<<8 | uint64(c)
	}
	return int64(u)
}
