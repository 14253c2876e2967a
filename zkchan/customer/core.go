// Package customer implements the customer core (C4): the state machine
// the customer's wallet drives through Establish, Activate, Unlink, Pay,
// and Close, mirroring lnwallet/channel.go's LightningChannel method-set
// shape (a mutex-guarded struct exposing explicit, typed-error operations).
package customer

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"

	"github.com/zkchannels/zkchanneld/zkchan"
	"github.com/zkchannels/zkchanneld/zkchan/mpcbridge"
	"github.com/zkchannels/zkchanneld/zkchan/txbuilder"
	"github.com/zkchannels/zkchanneld/zkchan/zkcrypto"
	"github.com/zkchannels/zkchanneld/zkchan/zkerrors"
)

// Core is the customer's channel state machine.
type Core struct {
	mu sync.RWMutex

	name string

	skCust   *btcec.PrivateKey
	closeSk  *btcec.PrivateKey

	revSecret zkchan.RevSecret
	revLock   zkchan.RevLock
	t         [16]byte

	currentState      zkchan.State
	payToken          [32]byte
	payTokenMaskCom   [32]byte
	ptMasked          [32]byte
	maskedOutputs     zkchan.MaskedTxMPCInputs
	escrowTxSigned    []byte
	merchTxSigned     []byte

	protocolStatus zkchan.ProtocolStatus
	channelStatus  zkchan.ChannelStatus
}

// New samples (sk_c, close_sk) and an initial revocation pair
// (rev_secret_0, rev_lock_0 = SHA256(rev_secret_0)).
func New(rng io.Reader, custBal, merchBal int64, feeCC int64, name string) (*Core, error) {
	if rng == nil {
		rng = rand.Reader
	}

	skCust, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	closeSk, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}

	revSecretBytes, err := zkcrypto.RandomBytes(rng, 32)
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	var revSecret zkchan.RevSecret
	copy(revSecret[:], revSecretBytes)
	revLockRaw := zkcrypto.SHA256(revSecret[:])

	c := &Core{
		name:      name,
		skCust:    skCust,
		closeSk:   closeSk,
		revSecret: revSecret,
		revLock:   zkchan.RevLock(revLockRaw),
		currentState: zkchan.State{
			CustBalance:  custBal,
			MerchBalance: merchBal,
		},
		protocolStatus: zkchan.ProtocolNew,
		channelStatus:  zkchan.ChannelNone,
	}
	return c, nil
}

// GenerateInitState samples nonce_0 and binds pk_c into a fresh
// ChannelToken.
func (c *Core) GenerateInitState(rng io.Reader, merchPub []byte) (*zkchan.ChannelToken, error) {
	if rng == nil {
		rng = rand.Reader
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	nonceBytes, err := zkcrypto.RandomBytes(rng, 16)
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	var nonce zkchan.Nonce
	copy(nonce[:], nonceBytes)
	c.currentState.Nonce = nonce
	c.currentState.RevLock = c.revLock

	token := &zkchan.ChannelToken{
		PkCust: c.skCust.PubKey().SerializeCompressed(),
		PkMerch: merchPub,
	}
	return token, nil
}

// SetInitialCustState fills in the txid/prevout fields of the current State
// from a validated FundingTxInfo. Fails if no state has been created yet.
func (c *Core) SetInitialCustState(funding zkchan.FundingTxInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentState.Nonce == (zkchan.Nonce{}) {
		return zkerrors.New(zkerrors.ProtocolViolation, "no state created yet; call GenerateInitState first")
	}

	c.currentState.EscrowTxID = funding.EscrowTxID
	c.currentState.EscrowPrevout = funding.EscrowPrevout
	c.currentState.MerchTxID = funding.MerchTxID
	c.currentState.MerchPrevout = funding.MerchPrevout
	c.currentState.CustBalance = funding.InitCustBal
	c.currentState.MerchBalance = funding.InitMerchBal
	return nil
}

// SignInitialClosingTransaction recomputes the two cust-close preimages,
// verifies the merchant's signatures under pk_m, then signs the
// escrow-close with sk_c (the escrow 2-of-2 key) and the merch-close spend
// with close_sk (the key MerchCloseOutputScript's immediate branch names),
// and stores the two fully-signed transactions. Transitions
// protocol_status: New -> Initialized and channel_status: None -> PendingOpen.
func (c *Core) SignInitialClosingTransaction(mpcState zkchan.ChannelMPCState, token *zkchan.ChannelToken, escrowSig, merchSig []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.protocolStatus != zkchan.ProtocolNew {
		return false, zkerrors.New(zkerrors.ProtocolViolation, "expected protocol_status New, have %s", c.protocolStatus)
	}

	merchPub, err := token.MerchPubKey()
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.InputMalformed, err)
	}
	custPub, err := token.CustPubKey()
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.InputMalformed, err)
	}

	escrowRedeem, err := txbuilder.EscrowMultiSigScript(custPub.SerializeCompressed(), merchPub.SerializeCompressed())
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}

	escrowParams, err := custCloseParamsFromState(c.currentState, mpcState, c.closeSk.PubKey(), c.revLock, c.currentState.EscrowTxID)
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.InputMalformed, err)
	}
	escrowPreimage, err := txbuilder.BuildCustCloseFromEscrowPreimage(escrowParams, escrowRedeem)
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	if !verifyPreimage(merchPub.SerializeCompressed(), escrowPreimage, escrowSig) {
		return false, zkerrors.New(zkerrors.CryptoVerifyFail, "merchant escrow-close signature does not verify")
	}

	merchCloseScript, err := txbuilder.MerchCloseOutputScript(mpcState.SelfDelay, c.closeSk.PubKey(), merchPub)
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	merchParams, err := custCloseParamsFromState(c.currentState, mpcState, c.closeSk.PubKey(), c.revLock, c.currentState.MerchTxID)
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.InputMalformed, err)
	}
	merchPreimage, err := txbuilder.BuildCustCloseFromMerchPreimage(merchParams, merchCloseScript)
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	// merchSig is the merchant's pre-signature over this same preimage,
	// recorded during store_merch_close_tx (spec.md §4.2) as its
	// attestation to the balances the merch-close output will carry. It is
	// verified here as a cross-check only: the witness that actually
	// spends the merch-close output's immediate branch is signed by close_sk
	// below, since MerchCloseOutputScript's OP_IF clause is keyed to the
	// customer's close key, not the merchant.
	if !verifyPreimage(merchPub.SerializeCompressed(), merchPreimage, merchSig) {
		return false, zkerrors.New(zkerrors.CryptoVerifyFail, "merchant merch-close signature does not verify")
	}

	escrowTx, _, err := txbuilder.BuildCustCloseFromEscrowTx(escrowParams)
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	custEscrowSig, err := signPreimage(c.skCust, escrowPreimage)
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	txbuilder.FinalizeCustCloseFromEscrowTx(escrowTx, escrowRedeem, custPub.SerializeCompressed(), custEscrowSig, merchPub.SerializeCompressed(), escrowSig)

	merchTx, _, err := txbuilder.BuildCustCloseFromEscrowTx(merchParams)
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	custMerchSig, err := signPreimage(c.closeSk, merchPreimage)
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	txbuilder.FinalizeCustCloseFromMerchTx(merchTx, merchCloseScript, custMerchSig)

	escrowBuf, err := serializeTx(escrowTx)
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	merchBuf, err := serializeTx(merchTx)
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}

	c.escrowTxSigned = escrowBuf
	c.merchTxSigned = merchBuf
	c.protocolStatus = zkchan.ProtocolInitialized
	c.channelStatus = zkchan.ChannelPendingOpen
	return true, nil
}

// MarkChannelOpen transitions channel_status: PendingOpen -> Open once the
// driver has confirmed the escrow output is safe to build on, whether that
// means the merchant's ok ack (off-chain channels) or a chainwatch
// confirmation callback on the escrow outpoint. Activate refuses to run
// until this has happened.
func (c *Core) MarkChannelOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channelStatus != zkchan.ChannelPendingOpen {
		return zkerrors.New(zkerrors.ProtocolViolation, "expected channel_status PendingOpen, have %s", c.channelStatus)
	}
	c.channelStatus = zkchan.ChannelOpen
	return nil
}

// SignMerchCloseCoSig produces the customer's co-signature over the
// merch-close preimage at the given balances, the tuple the merchant caches
// via store_merch_close_tx so it can unilaterally finish a merch-close
// later without the customer's live participation. Signed by sk_c (the
// channel token identity key), not close_sk: the merchant verifies it
// against channel_token.pk_c.
func (c *Core) SignMerchCloseCoSig(mpcState zkchan.ChannelMPCState, token *zkchan.ChannelToken, escrowTxID zkchan.TxID, custBal, merchBal int64) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	custPub, err := token.CustPubKey()
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.InputMalformed, err)
	}
	merchPub, err := token.MerchPubKey()
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.InputMalformed, err)
	}

	escrowRedeem, err := txbuilder.EscrowMultiSigScript(custPub.SerializeCompressed(), merchPub.SerializeCompressed())
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}

	merchParams := txbuilder.MerchCloseParams{
		EscrowTxID:    escrowTxID,
		EscrowIndex:   0,
		EscrowAmount:  custBal + merchBal + mpcState.FeeMC,
		MerchPayoutPk: merchPub,
		FeeMC:         mpcState.FeeMC,
		SelfDelay:     mpcState.SelfDelay,
		CustBalance:   custBal,
		MerchBalance:  merchBal,
		CustPayoutPk:  c.closeSk.PubKey(),
	}
	preimage, err := txbuilder.BuildMerchClosePreimage(merchParams, escrowRedeem)
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}

	return signPreimage(c.skCust, preimage)
}

// Activate returns the current State, sampling and storing t for the
// initial rev-lock commitment. Requires protocol_status = Initialized and
// channel_status = Open.
func (c *Core) Activate(rng io.Reader) (zkchan.State, error) {
	if rng == nil {
		rng = rand.Reader
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.protocolStatus != zkchan.ProtocolInitialized {
		return zkchan.State{}, zkerrors.New(zkerrors.ProtocolViolation, "expected protocol_status Initialized, have %s", c.protocolStatus)
	}
	if c.channelStatus != zkchan.ChannelOpen {
		return zkchan.State{}, zkerrors.New(zkerrors.ProtocolViolation, "expected channel_status Open, have %s", c.channelStatus)
	}

	tBytes, err := zkcrypto.RandomBytes(rng, 16)
	if err != nil {
		return zkchan.State{}, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	copy(c.t[:], tBytes)

	return c.currentState, nil
}

// StoreInitialPayToken stores the merchant's pay-token for the initial
// state verbatim (the customer cannot verify the HMAC without hmac_key; it
// defers trust to the first successful Pay). Transitions protocol_status:
// Initialized -> Activated.
func (c *Core) StoreInitialPayToken(payToken [32]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.protocolStatus != zkchan.ProtocolInitialized {
		return zkerrors.New(zkerrors.ProtocolViolation, "expected protocol_status Initialized, have %s", c.protocolStatus)
	}
	c.payToken = payToken
	c.protocolStatus = zkchan.ProtocolActivated
	return nil
}

// PayPrepare samples a fresh (rev_secret', rev_lock'), fresh t', fresh
// nonce', and a fresh session_id. It computes rev_lock_com over the
// *current* (soon-to-be-old) state and constructs the new State with
// balances adjusted by amount (positive = customer pays merchant).
func (c *Core) PayPrepare(rng io.Reader, amount int64) (newState zkchan.State, revoked zkchan.RevokedState, revLockCom [32]byte, sessionID zkchan.SessionID, err error) {
	if rng == nil {
		rng = rand.Reader
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.protocolStatus != zkchan.ProtocolActivated && c.protocolStatus != zkchan.ProtocolEstablished {
		return zkchan.State{}, zkchan.RevokedState{}, [32]byte{}, zkchan.SessionID{},
			zkerrors.New(zkerrors.ProtocolViolation, "pay requires protocol_status Activated or Established, have %s", c.protocolStatus)
	}

	revSecretBytes, err := zkcrypto.RandomBytes(rng, 32)
	if err != nil {
		return zkchan.State{}, zkchan.RevokedState{}, [32]byte{}, zkchan.SessionID{}, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	var newRevSecret zkchan.RevSecret
	copy(newRevSecret[:], revSecretBytes)
	newRevLock := zkchan.RevLock(zkcrypto.SHA256(newRevSecret[:]))

	newTBytes, err := zkcrypto.RandomBytes(rng, 16)
	if err != nil {
		return zkchan.State{}, zkchan.RevokedState{}, [32]byte{}, zkchan.SessionID{}, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	var newT [16]byte
	copy(newT[:], newTBytes)

	newNonceBytes, err := zkcrypto.RandomBytes(rng, 16)
	if err != nil {
		return zkchan.State{}, zkchan.RevokedState{}, [32]byte{}, zkchan.SessionID{}, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	var newNonce zkchan.Nonce
	copy(newNonce[:], newNonceBytes)

	sessionBytes, err := zkcrypto.RandomBytes(rng, 16)
	if err != nil {
		return zkchan.State{}, zkchan.RevokedState{}, [32]byte{}, zkchan.SessionID{}, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	copy(sessionID[:], sessionBytes)

	h := zkcrypto.SHA256(append(append([]byte{}, c.revLock[:]...), c.t[:]...))
	revLockCom = h

	newState = c.currentState
	newState.Nonce = newNonce
	newState.RevLock = newRevLock
	newState.CustBalance = c.currentState.CustBalance - amount
	newState.MerchBalance = c.currentState.MerchBalance + amount

	revoked = zkchan.RevokedState{
		Nonce:     c.currentState.Nonce,
		RevLock:   c.revLock,
		RevSecret: c.revSecret,
		T:         c.t,
	}

	c.revSecret = newRevSecret
	c.revLock = newRevLock
	c.t = newT

	return newState, revoked, revLockCom, sessionID, nil
}

// PayUpdate invokes the MPC bridge with the customer's inputs for the
// proposed state transition; on success it stores the three masked outputs
// (pt_masked, escrow_masked, merch_masked) under current_index. The
// customer cannot yet tell from this call alone whether the merchant
// observed an abort internally -- only PayUnmaskSigs/PayUnmaskPayToken's
// verification failures reveal that.
func (c *Core) PayUpdate(ctx context.Context, cfg mpcbridge.NetworkConfig, transport mpcbridge.MpcTransport, oldPayToken [32]byte, oldState, newState zkchan.State, t [16]byte, payMaskCom, revLockCom [32]byte, amount int64, mpcState zkchan.ChannelMPCState) (zkchan.MaskedTxMPCInputs, PayTokenMask, error) {
	in := mpcbridge.CustomerMPCInputs{
		SkCust:         c.skCust.Serialize(),
		OldPayToken:    oldPayToken,
		OldState:       oldState,
		NewState:       newState,
		T:              t,
		PayMaskCom:     payMaskCom,
		RevLockCom:     revLockCom,
		KeyCom:         mpcState.KeyCom,
		MerchPayoutPk:  mpcState.MerchPayoutPk,
		MerchDisputePk: mpcState.MerchDisputePk,
		MerchChildPk:   mpcState.MerchChildPk,
		Amount:         amount,
	}

	masked, ptMask, err := mpcbridge.CustomerPay(ctx, cfg, transport, in)
	if err != nil {
		return zkchan.MaskedTxMPCInputs{}, PayTokenMask{}, err
	}

	c.mu.Lock()
	c.maskedOutputs = masked
	c.payTokenMaskCom = payMaskCom
	c.ptMasked = ptMask.PtMask
	c.mu.Unlock()

	return masked, PayTokenMask{PtMasked: ptMask.PtMask}, nil
}

// PayTokenMask carries the masked pay-token PayUpdate stored, for
// PayUnmaskPayToken to unmask once the merchant reveals pt_mask/pt_mask_r.
type PayTokenMask struct {
	PtMasked [32]byte
}

// PayUnmaskSigs computes the unmasked closing signatures from the MPC
// bridge's masked outputs (stored by PayUpdate: the masked 's' components
// and their clear 'r' counterparts) and the one-time masks the merchant
// reveals out of band once the customer has revoked the old state, verifies
// each against the freshly recomputed preimage under pk_m, then fully signs
// and stores both closing transactions. Returns false without mutating
// state if either verification fails.
func (c *Core) PayUnmaskSigs(mpcState zkchan.ChannelMPCState, token *zkchan.ChannelToken, newState zkchan.State, escrowMask, merchMask [32]byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	merchPub, err := token.MerchPubKey()
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.InputMalformed, err)
	}
	custPub, err := token.CustPubKey()
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.InputMalformed, err)
	}

	escrowSig := zkcrypto.ReconstructSignature(c.maskedOutputs.REscrowSig, c.maskedOutputs.EscrowMask, escrowMask)
	merchSig := zkcrypto.ReconstructSignature(c.maskedOutputs.RMerchSig, c.maskedOutputs.MerchMask, merchMask)

	escrowRedeem, err := txbuilder.EscrowMultiSigScript(custPub.SerializeCompressed(), merchPub.SerializeCompressed())
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	escrowParams, err := custCloseParamsFromState(newState, mpcState, c.closeSk.PubKey(), newState.RevLock, newState.EscrowTxID)
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.InputMalformed, err)
	}
	escrowPreimage, err := txbuilder.BuildCustCloseFromEscrowPreimage(escrowParams, escrowRedeem)
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	if !verifyPreimage(merchPub.SerializeCompressed(), escrowPreimage, escrowSig) {
		return false, nil
	}

	merchCloseScript, err := txbuilder.MerchCloseOutputScript(mpcState.SelfDelay, c.closeSk.PubKey(), merchPub)
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	merchParams, err := custCloseParamsFromState(newState, mpcState, c.closeSk.PubKey(), newState.RevLock, newState.MerchTxID)
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.InputMalformed, err)
	}
	merchPreimage, err := txbuilder.BuildCustCloseFromMerchPreimage(merchParams, merchCloseScript)
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	if !verifyPreimage(merchPub.SerializeCompressed(), merchPreimage, merchSig) {
		return false, nil
	}

	escrowTx, _, err := txbuilder.BuildCustCloseFromEscrowTx(escrowParams)
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	custEscrowSig, err := signPreimage(c.skCust, escrowPreimage)
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	txbuilder.FinalizeCustCloseFromEscrowTx(escrowTx, escrowRedeem, custPub.SerializeCompressed(), custEscrowSig, merchPub.SerializeCompressed(), escrowSig)

	merchTx, _, err := txbuilder.BuildCustCloseFromEscrowTx(merchParams)
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	custMerchSig, err := signPreimage(c.closeSk, merchPreimage)
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	txbuilder.FinalizeCustCloseFromMerchTx(merchTx, merchCloseScript, custMerchSig)

	escrowBuf, err := serializeTx(escrowTx)
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	merchBuf, err := serializeTx(merchTx)
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}

	c.currentState = newState
	c.escrowTxSigned = escrowBuf
	c.merchTxSigned = merchBuf
	return true, nil
}

// PayUnmaskPayToken checks SHA256(pt_mask || pt_mask_r) == pay_token_mask_com
// (stored at prepare time); on success stores pay_token' = pt_mask XOR
// pt_masked and transitions Activated -> Established (first pay) or remains
// Established. On failure returns false without mutating state -- the
// customer can safely retry the MPC exchange from the same current_index.
func (c *Core) PayUnmaskPayToken(ptMask, ptMaskR [32]byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	check := zkcrypto.SHA256(append(append([]byte{}, ptMask[:]...), ptMaskR[:]...))
	if check != c.payTokenMaskCom {
		return false, nil
	}

	c.payToken = zkcrypto.XOR32(ptMask, c.ptMasked)
	if c.protocolStatus == zkchan.ProtocolActivated {
		c.protocolStatus = zkchan.ProtocolEstablished
	}
	return true, nil
}

// ForceClose emits the stored closing transaction (from escrow, or from an
// already-broadcast merch-close output) and transitions channel_status to
// CustomerInitClose.
func (c *Core) ForceClose(fromEscrow bool) (signedTx []byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.protocolStatus == zkchan.ProtocolActivated {
		return nil, zkerrors.New(zkerrors.ProtocolViolation, "force-close forbidden while only Activated; pay at least once first")
	}

	var tx []byte
	if fromEscrow {
		tx = c.escrowTxSigned
	} else {
		tx = c.merchTxSigned
	}
	if tx == nil {
		return nil, zkerrors.New(zkerrors.Irrecoverable, "no signed closing transaction stored")
	}

	c.channelStatus = zkchan.ChannelCustomerInitClose
	return tx, nil
}

// ProtocolStatus returns the current protocol status.
func (c *Core) ProtocolStatus() zkchan.ProtocolStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.protocolStatus
}

// ChannelStatus returns the current channel status.
func (c *Core) ChannelStatus() zkchan.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channelStatus
}

// CurrentState returns a copy of the current State.
func (c *Core) CurrentState() zkchan.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentState
}

// PayToken returns the customer's current pay-token, the old_pay_token
// input a driver feeds back into the next PayUpdate call.
func (c *Core) PayToken() [32]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.payToken
}

// ClosePubKey returns close_sk's public key, the cust-close payout
// destination a driver must send the merchant at Establish time alongside
// the channel token (which only binds sk_c, the separate identity key).
func (c *Core) ClosePubKey() *btcec.PublicKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closeSk.PubKey()
}

// custCloseParamsFromState builds the shared cust-close skeleton parameters
// for a spend of spendTxID -- s.EscrowTxID for cust-close-from-escrow, or
// s.MerchTxID for cust-close-from-merch; the two preimage builders share
// everything else, differing only in which prior output they target
// (spec.md §4.5). merchPub (pk_m) is only needed by the caller for the
// escrow redeem script; the payout destination itself is the merchant's
// dedicated payout_pk from the channel's ChannelMPCState, a separate key
// from pk_m.
func custCloseParamsFromState(s zkchan.State, mpcState zkchan.ChannelMPCState, custPayoutPk *btcec.PublicKey, revLock zkchan.RevLock, spendTxID [32]byte) (txbuilder.CustCloseParams, error) {
	revokePk, err := btcec.ParsePubKey(mpcState.MerchDisputePk)
	if err != nil {
		return txbuilder.CustCloseParams{}, err
	}
	merchChildPk, err := btcec.ParsePubKey(mpcState.MerchChildPk)
	if err != nil {
		return txbuilder.CustCloseParams{}, err
	}
	merchPayoutPk, err := btcec.ParsePubKey(mpcState.MerchPayoutPk)
	if err != nil {
		return txbuilder.CustCloseParams{}, err
	}
	return txbuilder.CustCloseParams{
		SpendTxID:     spendTxID,
		SpendAmount:   s.CustBalance + s.MerchBalance + mpcState.FeeCC + mpcState.ValCPFP,
		SelfDelay:     mpcState.SelfDelay,
		CustBalance:   s.CustBalance,
		MerchBalance:  s.MerchBalance,
		Fee:           mpcState.FeeCC,
		ValCPFP:       mpcState.ValCPFP,
		CustPayoutPk:  custPayoutPk,
		RevocationPk:  revokePk,
		MerchPayoutPk: merchPayoutPk,
		MerchChildPk:  merchChildPk,
	}, nil
}

func verifyPreimage(pubKey, preimage, sig []byte) bool {
	digest := zkcrypto.DoubleSHA256(preimage)
	ok, err := zkcrypto.Verify(pubKey, digest, sig)
	return err == nil && ok
}

func signPreimage(priv *btcec.PrivateKey, preimage []byte) ([]byte, error) {
	digest := zkcrypto.DoubleSHA256(preimage)
	return zkcrypto.Sign(priv, digest), nil
}

func serializeTx(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
