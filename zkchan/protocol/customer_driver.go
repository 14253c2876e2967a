package protocol

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/zkchannels/zkchanneld/zkchan"
	"github.com/zkchannels/zkchanneld/zkchan/customer"
	"github.com/zkchannels/zkchanneld/zkchan/mpcbridge"
)

// CustomerDriver drives a customer.Core through the wire frames of one
// channel's lifetime over a FrameConn to the merchant, plus a separate
// MpcTransport for the F_pay sub-protocol's own inner message exchange.
type CustomerDriver struct {
	core *customer.Core
	conn *FrameConn
	mpc  mpcbridge.MpcTransport
	rng  io.Reader

	token    *zkchan.ChannelToken
	mpcState zkchan.ChannelMPCState
}

// NewCustomerDriver wraps an already-built customer.Core. rng defaults to
// crypto/rand if nil.
func NewCustomerDriver(core *customer.Core, conn *FrameConn, mpc mpcbridge.MpcTransport, rng io.Reader) *CustomerDriver {
	if rng == nil {
		rng = rand.Reader
	}
	return &CustomerDriver{core: core, conn: conn, mpc: mpc, rng: rng}
}

// NewCustomerDriverResumed is NewCustomerDriver for a channel whose
// Establish already ran in a previous process: token and mpcState are
// normally learned during Establish and kept in memory for the rest of
// that driver's lifetime, but a CLI that runs one sub-protocol step per
// invocation has to persist and reload them instead.
func NewCustomerDriverResumed(core *customer.Core, conn *FrameConn, mpc mpcbridge.MpcTransport, rng io.Reader, token *zkchan.ChannelToken, mpcState zkchan.ChannelMPCState) *CustomerDriver {
	d := NewCustomerDriver(core, conn, mpc, rng)
	d.token = token
	d.mpcState = mpcState
	return d
}

// Establish runs the customer's half of Establish: receive the merchant's
// channel parameters, bind in the funding transaction identities, exchange
// signatures for both initial closing transactions, then hand the merchant
// enough to register the channel in its unlink-set. funding must already
// reflect a confirmed (or confirming) on-chain escrow/merchant-funding
// transaction pair -- building and broadcasting those is the wallet's job,
// not this driver's.
func (d *CustomerDriver) Establish(funding zkchan.FundingTxInfo) (*zkchan.ChannelToken, error) {
	openFields, err := d.conn.RecvFrame()
	if err != nil {
		return nil, fmt.Errorf("protocol: recv open frame: %w", err)
	}
	if err := wantFields("open", len(openFields), 1); err != nil {
		return nil, err
	}
	var mpcState zkchan.ChannelMPCState
	if err := unmarshalJSONField(openFields[0], &mpcState); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal open.channel_state: %w", err)
	}
	d.mpcState = mpcState

	token, err := d.core.GenerateInitState(d.rng, mpcState.MerchPayoutPk)
	if err != nil {
		return nil, fmt.Errorf("protocol: generate_init_state: %w", err)
	}
	token.EscrowTxID = funding.EscrowTxID
	token.MerchTxID = funding.MerchTxID
	d.token = token

	if err := d.core.SetInitialCustState(funding); err != nil {
		return nil, fmt.Errorf("protocol: set_initial_cust_state: %w", err)
	}

	initCustState := d.core.CurrentState()
	tokenBytes, err := marshalJSONField(token)
	if err != nil {
		return nil, err
	}
	stateBytes, err := marshalJSONField(initCustState)
	if err != nil {
		return nil, err
	}
	custClosePub := d.core.ClosePubKey().SerializeCompressed()
	if err := d.conn.SendFrame(tokenBytes, stateBytes, custClosePub); err != nil {
		return nil, fmt.Errorf("protocol: send init frame: %w", err)
	}

	initRespFields, err := d.conn.RecvFrame()
	if err != nil {
		return nil, fmt.Errorf("protocol: recv init_resp frame: %w", err)
	}
	if err := wantFields("init_resp", len(initRespFields), 2); err != nil {
		return nil, err
	}
	escrowSig, merchSig := initRespFields[0], initRespFields[1]

	ok, err := d.core.SignInitialClosingTransaction(mpcState, token, escrowSig, merchSig)
	if err != nil {
		return nil, fmt.Errorf("protocol: sign_initial_closing_transaction: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("protocol: sign_initial_closing_transaction rejected the merchant's signatures")
	}

	initHash := initCustState.Hash()
	custSig, err := d.core.SignMerchCloseCoSig(mpcState, token, funding.EscrowTxID, initCustState.CustBalance, initCustState.MerchBalance)
	if err != nil {
		return nil, fmt.Errorf("protocol: sign merch-close co-signature: %w", err)
	}

	tokenBytes2, err := marshalJSONField(token)
	if err != nil {
		return nil, err
	}
	stateBytes2, err := marshalJSONField(initCustState)
	if err != nil {
		return nil, err
	}
	if err := d.conn.SendFrame(tokenBytes2, stateBytes2, initHash[:], custSig); err != nil {
		return nil, fmt.Errorf("protocol: send validate frame: %w", err)
	}

	okFields, err := d.conn.RecvFrame()
	if err != nil {
		return nil, fmt.Errorf("protocol: recv ok frame: %w", err)
	}
	if err := wantFields("ok", len(okFields), 1); err != nil {
		return nil, err
	}
	if len(okFields[0]) != 1 || okFields[0][0] != 1 {
		return nil, fmt.Errorf("protocol: merchant rejected validate_channel_params")
	}

	if err := d.core.MarkChannelOpen(); err != nil {
		return nil, fmt.Errorf("protocol: mark_channel_open: %w", err)
	}
	return token, nil
}

// Activate runs the customer's half of Activate: sample s_0/t_0 and trade
// it for pay_token_0.
func (d *CustomerDriver) Activate() error {
	s0, err := d.core.Activate(d.rng)
	if err != nil {
		return fmt.Errorf("protocol: activate: %w", err)
	}

	tokenBytes, err := marshalJSONField(d.token)
	if err != nil {
		return err
	}
	s0Bytes, err := marshalJSONField(s0)
	if err != nil {
		return err
	}
	if err := d.conn.SendFrame(tokenBytes, s0Bytes); err != nil {
		return fmt.Errorf("protocol: send activate frame: %w", err)
	}

	respFields, err := d.conn.RecvFrame()
	if err != nil {
		return fmt.Errorf("protocol: recv activate_resp frame: %w", err)
	}
	if err := wantFields("activate_resp", len(respFields), 1); err != nil {
		return err
	}
	var payToken0 [32]byte
	if len(respFields[0]) != 32 {
		return fmt.Errorf("protocol: activate_resp pay_token_0 is %d bytes, want 32", len(respFields[0]))
	}
	copy(payToken0[:], respFields[0])

	return d.core.StoreInitialPayToken(payToken0)
}

// Unlink runs a zero-amount Pay, the only transition from Activated to
// Established.
func (d *CustomerDriver) Unlink(ctx context.Context) error {
	return d.Pay(ctx, 0)
}

// Pay runs the customer's half of one Pay round: prepare, the F_pay MPC
// exchange, and -- once the merchant reveals the unmask values after
// seeing the old state's secret -- recovering the new closing signatures
// and pay token.
func (d *CustomerDriver) Pay(ctx context.Context, amount int64) error {
	newState, revoked, revLockCom, sessionID, err := d.core.PayPrepare(d.rng, amount)
	if err != nil {
		return fmt.Errorf("protocol: pay_prepare: %w", err)
	}

	var amountBuf [8]byte
	putBE64(amountBuf[:], amount)
	if err := d.conn.SendFrame(sessionID[:], revoked.Nonce[:], revLockCom[:], amountBuf[:]); err != nil {
		return fmt.Errorf("protocol: send pay_prepare frame: %w", err)
	}

	respFields, err := d.conn.RecvFrame()
	if err != nil {
		return fmt.Errorf("protocol: recv pay_mask_com frame: %w", err)
	}
	if err := wantFields("pay_mask_com", len(respFields), 1); err != nil {
		return err
	}
	var payMaskCom [32]byte
	copy(payMaskCom[:], respFields[0])

	oldState := d.core.CurrentState()
	masked, ptMask, err := d.core.PayUpdate(ctx, mpcbridge.NetworkConfig{}, d.mpc, d.core.PayToken(), oldState, newState, revoked.T, payMaskCom, revLockCom, amount, d.mpcState)
	if err != nil {
		return fmt.Errorf("protocol: pay_update: %w", err)
	}
	_ = masked

	revokedBytes, err := marshalJSONField(revoked)
	if err != nil {
		return err
	}
	if err := d.conn.SendFrame(revokedBytes); err != nil {
		return fmt.Errorf("protocol: send revoked_state frame: %w", err)
	}

	revealFields, err := d.conn.RecvFrame()
	if err != nil {
		return fmt.Errorf("protocol: recv reveal frame: %w", err)
	}
	if err := wantFields("reveal", len(revealFields), 4); err != nil {
		return err
	}
	var payMask, payMaskR, escrowMask, merchMask [32]byte
	copy(payMask[:], revealFields[0])
	copy(payMaskR[:], revealFields[1])
	copy(escrowMask[:], revealFields[2])
	copy(merchMask[:], revealFields[3])

	ok, err := d.core.PayUnmaskSigs(d.mpcState, d.token, newState, escrowMask, merchMask)
	if err != nil {
		return fmt.Errorf("protocol: pay_unmask_sigs: %w", err)
	}
	if !ok {
		return fmt.Errorf("protocol: pay_unmask_sigs rejected the merchant's unmask values")
	}

	ok, err = d.core.PayUnmaskPayToken(payMask, payMaskR)
	if err != nil {
		return fmt.Errorf("protocol: pay_unmask_pay_token: %w", err)
	}
	if !ok {
		return fmt.Errorf("protocol: pay_unmask_pay_token rejected the revealed pay-token mask")
	}
	_ = ptMask
	return nil
}

// MPCState returns the channel parameters the merchant sent in Establish's
// open frame, for a caller that needs to persist them across process
// invocations (cmd/zkchannel resumes a driver fresh for each subcommand).
func (d *CustomerDriver) MPCState() zkchan.ChannelMPCState { return d.mpcState }

// Token returns the channel token Establish produced.
func (d *CustomerDriver) Token() *zkchan.ChannelToken { return d.token }

func putBE64(b []byte, v int64) {
	u := uint64(v)
	for i := 7; i >= 0; i-- {
		b[i] = byte(u)
		u >>= 8
	}
}
