// Package merchant implements the merchant core (C5): the state machine the
// merchant's server drives through Establish, Activate, Pay, and Close/
// Dispute, mirroring customer.Core's shape but additionally consulting the
// persistent session/state database (C7) the merchant -- unlike the
// customer -- must survive a restart against.
package merchant

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
	"github.com/zkchannels/zkchanneld/zkchan/statedb"
	"github.com/zkchannels/zkchanneld/zkchan/txbuilder"
	"github.com/zkchannels/zkchanneld/zkchan/zkcrypto"
	"github.com/zkchannels/zkchanneld/zkchan/zkerrors"
)

// Core is the merchant's per-channel state machine. A merchant server holds
// one Core per open channel, each with its own freshly sampled signing/HMAC
// key material -- reusing hmac_key across channels would let the merchant
// correlate payments by pay-token value once the customer has unlinked.
// MerchPayoutPk (written into the channel's ChannelMPCState by New) is
// sk_m's own public key: sign_initial_closing_transaction signs both
// cust-close preimages with sk_m, so the merch-close-spend preimage's
// payout destination must be the same key or that signature could never
// verify against it.
type Core struct {
	mu sync.Mutex

	id string

	skMerch   *btcec.PrivateKey
	disputeSk *btcec.PrivateKey
	childSk   *btcec.PrivateKey
	hmacKey   [64]byte
	hmacKeyR  [16]byte

	channelStatus zkchan.ChannelStatus

	custPub      *btcec.PublicKey
	custClosePub *btcec.PublicKey

	closeCache *closeTxCacheEntry
}

// closeTxCacheEntry is store_merch_close_tx's cached tuple: the customer's
// co-signature for the merch-close transaction at the balances current when
// it was given, kept so force_close can finish signing without the
// customer's live participation.
type closeTxCacheEntry struct {
	escrowTxID zkchan.TxID
	custPub    []byte
	custSig    []byte
	custBal    int64
	merchBal   int64
	feeMC      int64
	selfDelay  uint16
}

// New samples (sk_m, dispute_sk, child_sk, hmac_key, hmac_key_r), computes
// key_com = SHA256(hmac_key || hmac_key_r), and writes key_com, payout_pk,
// dispute_pk, child_pk into the shared ChannelMPCState.
func New(rng io.Reader, id string, mpcState *zkchan.ChannelMPCState) (*Core, error) {
	if rng == nil {
		rng = rand.Reader
	}

	skMerch, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	disputeSk, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	childSk, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}

	hmacKeyBytes, err := zkcrypto.RandomBytes(rng, 64)
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	hmacKeyRBytes, err := zkcrypto.RandomBytes(rng, 16)
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}

	c := &Core{
		id:            id,
		skMerch:       skMerch,
		disputeSk:     disputeSk,
		childSk:       childSk,
		channelStatus: zkchan.ChannelNone,
	}
	copy(c.hmacKey[:], hmacKeyBytes)
	copy(c.hmacKeyR[:], hmacKeyRBytes)

	keyComR := c.keyComR32()
	keyCom := zkcrypto.SHA256(append(append([]byte{}, c.hmacKey[:]...), keyComR[:]...))

	mpcState.KeyCom = keyCom
	mpcState.MerchPayoutPk = skMerch.PubKey().SerializeCompressed()
	mpcState.MerchDisputePk = disputeSk.PubKey().SerializeCompressed()
	mpcState.MerchChildPk = childSk.PubKey().SerializeCompressed()

	return c, nil
}

// SignInitialClosingTransaction signs the two cust-close preimages for the
// initial state with sk_m, per spec's fixed pairing of sk_m to both
// signatures. Transitions channel_status None -> PendingOpen.
func (c *Core) SignInitialClosingTransaction(funding zkchan.FundingTxInfo, revLock zkchan.RevLock, custPub, custClosePub *btcec.PublicKey, mpcState zkchan.ChannelMPCState) (escrowSig, merchSig []byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channelStatus != zkchan.ChannelNone {
		return nil, nil, zkerrors.New(zkerrors.ProtocolViolation, "expected channel_status None, have %s", c.channelStatus)
	}

	escrowParams, err := c.custCloseParams(funding.EscrowTxID, funding.InitCustBal, funding.InitMerchBal, mpcState, custClosePub)
	if err != nil {
		return nil, nil, zkerrors.Wrap(zkerrors.InputMalformed, err)
	}

	escrowRedeem, err := txbuilder.EscrowMultiSigScript(custPub.SerializeCompressed(), c.skMerch.PubKey().SerializeCompressed())
	if err != nil {
		return nil, nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	escrowPreimage, err := txbuilder.BuildCustCloseFromEscrowPreimage(escrowParams, escrowRedeem)
	if err != nil {
		return nil, nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	escrowSig, err = signPreimage(c.skMerch, escrowPreimage)
	if err != nil {
		return nil, nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}

	merchPayoutPk, err := btcec.ParsePubKey(mpcState.MerchPayoutPk)
	if err != nil {
		return nil, nil, zkerrors.Wrap(zkerrors.InputMalformed, err)
	}
	merchCloseScript, err := txbuilder.MerchCloseOutputScript(mpcState.SelfDelay, custClosePub, merchPayoutPk)
	if err != nil {
		return nil, nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	merchParams, err := c.custCloseParams(funding.MerchTxID, funding.InitCustBal, funding.InitMerchBal, mpcState, custClosePub)
	if err != nil {
		return nil, nil, zkerrors.Wrap(zkerrors.InputMalformed, err)
	}
	merchPreimage, err := txbuilder.BuildCustCloseFromMerchPreimage(merchParams, merchCloseScript)
	if err != nil {
		return nil, nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	merchSig, err = signPreimage(c.skMerch, merchPreimage)
	if err != nil {
		return nil, nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}

	c.custPub = custPub
	c.custClosePub = custClosePub
	c.channelStatus = zkchan.ChannelPendingOpen
	return escrowSig, merchSig, nil
}

// StoreMerchCloseTx verifies cust_sig against the recomputed merch-close
// preimage under cust_pk and, on success, caches the tuple so force_close
// can finish signing later. Called once at open and again after every
// successful pay to keep the cached balances current.
func (c *Core) StoreMerchCloseTx(escrowTxID zkchan.TxID, custPub *btcec.PublicKey, custBal, merchBal, feeMC int64, selfDelay uint16, custSig []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	merchParams := txbuilder.MerchCloseParams{
		EscrowTxID:    escrowTxID,
		EscrowIndex:   0,
		EscrowAmount:  custBal + merchBal + feeMC,
		MerchPayoutPk: c.skMerch.PubKey(),
		FeeMC:         feeMC,
		SelfDelay:     selfDelay,
		CustBalance:   custBal,
		MerchBalance:  merchBal,
		CustPayoutPk:  c.custClosePub,
	}
	escrowRedeem, err := txbuilder.EscrowMultiSigScript(custPub.SerializeCompressed(), c.skMerch.PubKey().SerializeCompressed())
	if err != nil {
		return zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	preimage, err := txbuilder.BuildMerchClosePreimage(merchParams, escrowRedeem)
	if err != nil {
		return zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	if !verifyPreimage(custPub.SerializeCompressed(), preimage, custSig) {
		return zkerrors.New(zkerrors.CryptoVerifyFail, "customer's merch-close co-signature does not verify")
	}

	c.closeCache = &closeTxCacheEntry{
		escrowTxID: escrowTxID,
		custPub:    custPub.SerializeCompressed(),
		custSig:    custSig,
		custBal:    custBal,
		merchBal:   merchBal,
		feeMC:      feeMC,
		selfDelay:  selfDelay,
	}
	return nil
}

// ValidateChannelParams implements the four checks spec.md §4.2 assigns to
// Establish: pubkey agreement, prevout recomputation, the initial state
// hash, and unlink-set registration of nonce_0.
func (c *Core) ValidateChannelParams(db statedb.StateDatabase, token *zkchan.ChannelToken, initCustState zkchan.State, initHash [32]byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	custPub, err := token.CustPubKey()
	if err != nil {
		return false, zkerrors.Wrap(zkerrors.InputMalformed, err)
	}
	if string(token.PkMerch) != string(c.skMerch.PubKey().SerializeCompressed()) {
		return false, zkerrors.New(zkerrors.ProtocolViolation, "channel token pk_m does not match this merchant instance")
	}

	escrowPrevout := zkchan.ComputePrevout(initCustState.EscrowTxID, 0)
	merchPrevout := zkchan.ComputePrevout(initCustState.MerchTxID, 0)
	if escrowPrevout != initCustState.EscrowPrevout || merchPrevout != initCustState.MerchPrevout {
		return false, zkerrors.New(zkerrors.ProtocolViolation, "recomputed prevouts do not match the presented initial state")
	}

	gotHash := initCustState.Hash()
	if gotHash != initHash {
		return false, zkerrors.New(zkerrors.ProtocolViolation, "initial state hash mismatch")
	}

	if err := db.AddUnlink(initCustState.Nonce); err != nil {
		return false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}

	c.custPub = custPub
	c.channelStatus = zkchan.ChannelOpen
	return true, nil
}

// ActivateChannel looks up the channel, re-derives s_0's hash, requires
// equality with the stored copy, and returns pay_token_0.
func (c *Core) ActivateChannel(s0 zkchan.State, storedHash [32]byte) ([32]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channelStatus != zkchan.ChannelOpen {
		return [32]byte{}, zkerrors.New(zkerrors.ProtocolViolation, "expected channel_status Open, have %s", c.channelStatus)
	}
	if s0.Hash() != storedHash {
		return [32]byte{}, zkerrors.New(zkerrors.ProtocolViolation, "s_0 hash does not match the hash recorded at validate_channel_params")
	}

	return zkcrypto.HMACSHA256(c.hmacKey[:], s0.Serialize()), nil
}

// PayPrepare validates a proposed pay round and commits to a fresh
// pay_mask/pay_mask_r, per spec.md §4.2's three amount-sign cases.
func (c *Core) PayPrepare(rng io.Reader, db statedb.StateDatabase, sessionID zkchan.SessionID, nonceOld zkchan.Nonce, revLockCom [32]byte, amount int64, justification string, dustLimit int64) (payMaskCom [32]byte, err error) {
	if rng == nil {
		rng = rand.Reader
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case amount == 0:
		member, err := db.IsUnlinkMember(nonceOld)
		if err != nil {
			return [32]byte{}, zkerrors.Wrap(zkerrors.Irrecoverable, err)
		}
		if !member {
			return [32]byte{}, zkerrors.New(zkerrors.ProtocolViolation, "amount is zero but nonce is not in the unlink-set")
		}
	case amount > 0:
		if amount < dustLimit {
			return [32]byte{}, zkerrors.New(zkerrors.EconomicPolicy, "amount %d below dust limit %d", amount, dustLimit)
		}
	default: // amount < 0
		if justification == "" {
			return [32]byte{}, zkerrors.New(zkerrors.EconomicPolicy, "negative payment requires justification")
		}
	}

	_, spent, err := db.CheckSpent(nonceOld)
	if err != nil {
		return [32]byte{}, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	if spent {
		return [32]byte{}, zkerrors.New(zkerrors.ProtocolViolation, "nonce already spent")
	}

	payMaskBytes, err := zkcrypto.RandomBytes(rng, 32)
	if err != nil {
		return [32]byte{}, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	payMaskRBytes, err := zkcrypto.RandomBytes(rng, 16)
	if err != nil {
		return [32]byte{}, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	var payMask, payMaskR [32]byte
	copy(payMask[:], payMaskBytes)
	copy(payMaskR[:], payMaskRBytes)

	if err := db.PutNonceMask(nonceOld, statedb.PayMaskRecord{PayMask: payMask, PayMaskR: payMaskR}); err != nil {
		return [32]byte{}, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	if err := db.PutSession(sessionID, zkchan.SessionState{
		Status:     zkchan.SessionPrepare,
		Nonce:      nonceOld,
		RevLockCom: revLockCom,
		Amount:     amount,
	}); err != nil {
		return [32]byte{}, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}

	payMaskCom = zkcrypto.SHA256(append(append([]byte{}, payMask[:]...), payMaskR[:]...))
	return payMaskCom, nil
}

// PayUpdate drives the merchant's side of F_pay: sign the new closing
// preimages (inside the simulated circuit), mask them, and on success
// persist the mask record (the two masks, their raw forms, and the two
// signatures' r values) keyed by rev_lock_com, transitioning the session
// Prepare -> Update.
func (c *Core) PayUpdate(ctx context.Context, rng io.Reader, db statedb.StateDatabase, cfg mpcbridge.NetworkConfig, transport mpcbridge.MpcTransport, sessionID zkchan.SessionID, mpcState zkchan.ChannelMPCState) error {
	if rng == nil {
		rng = rand.Reader
	}
	c.mu.Lock()
	session, ok, err := db.GetSession(sessionID)
	if err != nil {
		c.mu.Unlock()
		return zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	if !ok || session.Status != zkchan.SessionPrepare {
		c.mu.Unlock()
		return zkerrors.New(zkerrors.ProtocolViolation, "pay_update requires a session in Prepare, have %v", session.Status)
	}
	maskRec, ok, err := db.GetNonceMask(session.Nonce)
	if err != nil {
		c.mu.Unlock()
		return zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	if !ok {
		c.mu.Unlock()
		return zkerrors.New(zkerrors.ProtocolViolation, "no pay-mask recorded for this session's nonce")
	}

	keyComR := c.keyComR32()

	escrowMaskRaw, err := zkcrypto.RandomMask32(rng)
	if err != nil {
		c.mu.Unlock()
		return zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	merchMaskRaw, err := zkcrypto.RandomMask32(rng)
	if err != nil {
		c.mu.Unlock()
		return zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}

	if c.custPub == nil || c.custClosePub == nil {
		c.mu.Unlock()
		return zkerrors.New(zkerrors.ProtocolViolation, "pay_update requires an established channel with known customer keys")
	}

	in := mpcbridge.MerchantMPCInputs{
		HmacKey:        c.hmacKey,
		SkMerch:        c.skMerch.Serialize(),
		EscrowMask:     escrowMaskRaw,
		MerchMask:      merchMaskRaw,
		PayMask:        maskRec.PayMask,
		PayMaskCom:     zkcrypto.SHA256(append(append([]byte{}, maskRec.PayMask[:]...), maskRec.PayMaskR[:]...)),
		RevLockCom:     session.RevLockCom,
		KeyComR:        keyComR,
		Nonce:          session.Nonce,
		Amount:         session.Amount,
		BalMinCust:     mpcState.BalMinCust,
		BalMinMerch:    mpcState.BalMinMerch,
		FeeCC:          mpcState.FeeCC,
		FeeMC:          mpcState.FeeMC,
		ValCPFP:        mpcState.ValCPFP,
		SelfDelay:      mpcState.SelfDelay,
		KeyCom:         mpcState.KeyCom[:],
		CustPub:        c.custPub.SerializeCompressed(),
		CustClosePub:   c.custClosePub.SerializeCompressed(),
		MerchPayoutPk:  mpcState.MerchPayoutPk,
		MerchDisputePk: mpcState.MerchDisputePk,
		MerchChildPk:   mpcState.MerchChildPk,
	}
	c.mu.Unlock()

	result, ok2, err := mpcbridge.MerchantPay(ctx, cfg, transport, in)
	if err != nil {
		db.PutSession(sessionID, zkchan.SessionState{Status: zkchan.SessionError, Nonce: session.Nonce, RevLockCom: session.RevLockCom, Amount: session.Amount})
		return err
	}
	if !ok2 {
		db.PutSession(sessionID, zkchan.SessionState{Status: zkchan.SessionError, Nonce: session.Nonce, RevLockCom: session.RevLockCom, Amount: session.Amount})
		return zkerrors.New(zkerrors.MPCAbort, "merchant observed an abort signal from F_pay")
	}

	if err := db.PutMPCMask(session.RevLockCom, statedb.MPCMaskRecord{
		EscrowMask:    result.EscrowMask,
		MerchMask:     result.MerchMask,
		REscrowSig:    result.REscrowSig,
		RMerchSig:     result.RMerchSig,
		EscrowMaskRaw: escrowMaskRaw,
		MerchMaskRaw:  merchMaskRaw,
	}); err != nil {
		return zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	return db.PutSession(sessionID, zkchan.SessionState{
		Status:     zkchan.SessionUpdate,
		Nonce:      session.Nonce,
		RevLockCom: session.RevLockCom,
		Amount:     session.Amount,
	})
}

// PayConfirmMPCResult checks the merchant's own verification tag against
// reported_success; on match it returns the tx-mask portion of the stored
// record, on mismatch it sets the session to Error and returns an error.
func (c *Core) PayConfirmMPCResult(db statedb.StateDatabase, sessionID zkchan.SessionID, reportedSuccess bool) (zkchan.MaskedTxMPCInputs, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, ok, err := db.GetSession(sessionID)
	if err != nil {
		return zkchan.MaskedTxMPCInputs{}, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	if !ok {
		return zkchan.MaskedTxMPCInputs{}, zkerrors.New(zkerrors.ProtocolViolation, "unknown session")
	}
	ownSuccess := session.Status == zkchan.SessionUpdate
	if ownSuccess != reportedSuccess {
		db.PutSession(sessionID, zkchan.SessionState{Status: zkchan.SessionError, Nonce: session.Nonce, RevLockCom: session.RevLockCom, Amount: session.Amount})
		return zkchan.MaskedTxMPCInputs{}, zkerrors.New(zkerrors.MPCAbort, "reported MPC result disagrees with the merchant's own verification tag")
	}

	rec, ok, err := db.GetMPCMask(session.RevLockCom)
	if err != nil {
		return zkchan.MaskedTxMPCInputs{}, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	if !ok {
		return zkchan.MaskedTxMPCInputs{}, zkerrors.New(zkerrors.Irrecoverable, "no masked record stored for this rev_lock_com")
	}

	return zkchan.MaskedTxMPCInputs{
		EscrowMask: rec.EscrowMask,
		MerchMask:  rec.MerchMask,
		REscrowSig: rec.REscrowSig,
		RMerchSig:  rec.RMerchSig,
	}, nil
}

// PayValidateRevLock checks the revealed RevokedState against rev_lock_com
// and rev_lock, and on success marks the old nonce spent, stores the
// revocation evidence, and removes it from the unlink-set. On failure the
// nonce is still burned (marked spent with a zero rev_lock) so it can never
// again be used to extract a valid pay-mask. The returned escrowMask/
// merchMask are the one-time pads PayUpdate chose for this round; only
// after the customer has surrendered the old state's secret is it safe to
// let them XOR these against the masked signature PayUpdate produced and
// recover a closing transaction the merchant will honor.
func (c *Core) PayValidateRevLock(db statedb.StateDatabase, sessionID zkchan.SessionID, revoked zkchan.RevokedState) (payMask, payMaskR, escrowMask, merchMask [32]byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, ok, err := db.GetSession(sessionID)
	if err != nil {
		return [32]byte{}, [32]byte{}, [32]byte{}, [32]byte{}, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	if !ok {
		return [32]byte{}, [32]byte{}, [32]byte{}, [32]byte{}, zkerrors.New(zkerrors.ProtocolViolation, "unknown session")
	}

	check := zkcrypto.SHA256(append(append([]byte{}, revoked.RevLock[:]...), revoked.T[:]...))
	revLockOK := check == session.RevLockCom
	secretOK := zkcrypto.SHA256(revoked.RevSecret[:]) == revoked.RevLock

	if !revLockOK || !secretOK {
		if err := db.MarkSpent(revoked.Nonce, zkchan.RevLock{}); err != nil {
			return [32]byte{}, [32]byte{}, [32]byte{}, [32]byte{}, zkerrors.Wrap(zkerrors.Irrecoverable, err)
		}
		return [32]byte{}, [32]byte{}, [32]byte{}, [32]byte{}, zkerrors.New(zkerrors.CryptoVerifyFail, "revealed revocation evidence failed verification; nonce burned")
	}

	if err := db.MarkSpent(revoked.Nonce, revoked.RevLock); err != nil {
		return [32]byte{}, [32]byte{}, [32]byte{}, [32]byte{}, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	if err := db.PutRevocation(revoked.RevLock, revoked.RevSecret); err != nil {
		return [32]byte{}, [32]byte{}, [32]byte{}, [32]byte{}, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	if err := db.RemoveUnlink(revoked.Nonce); err != nil {
		return [32]byte{}, [32]byte{}, [32]byte{}, [32]byte{}, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}

	maskRec, ok, err := db.GetNonceMask(revoked.Nonce)
	if err != nil {
		return [32]byte{}, [32]byte{}, [32]byte{}, [32]byte{}, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	if !ok {
		return [32]byte{}, [32]byte{}, [32]byte{}, [32]byte{}, zkerrors.New(zkerrors.Irrecoverable, "no pay-mask recorded for this nonce at prepare time")
	}

	mpcRec, ok, err := db.GetMPCMask(session.RevLockCom)
	if err != nil {
		return [32]byte{}, [32]byte{}, [32]byte{}, [32]byte{}, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	if !ok {
		return [32]byte{}, [32]byte{}, [32]byte{}, [32]byte{}, zkerrors.New(zkerrors.Irrecoverable, "no MPC mask record stored for this rev_lock_com")
	}

	return maskRec.PayMask, maskRec.PayMaskR, mpcRec.EscrowMaskRaw, mpcRec.MerchMaskRaw, nil
}

// ForceClose looks up the cached merch-close tuple, combines it with a
// fresh merchant signature, and finalizes the merch-close transaction.
// Transitions channel_status to MerchantInitClose.
func (c *Core) ForceClose() (signedTx []byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closeCache == nil {
		return nil, zkerrors.New(zkerrors.Irrecoverable, "no merch-close tuple cached; store_merch_close_tx was never called")
	}
	entry := c.closeCache

	merchParams := txbuilder.MerchCloseParams{
		EscrowTxID:    entry.escrowTxID,
		EscrowIndex:   0,
		EscrowAmount:  entry.custBal + entry.merchBal + entry.feeMC,
		MerchPayoutPk: c.skMerch.PubKey(),
		FeeMC:         entry.feeMC,
		SelfDelay:     entry.selfDelay,
		CustBalance:   entry.custBal,
		MerchBalance:  entry.merchBal,
		CustPayoutPk:  c.custClosePub,
	}
	escrowRedeem, err := txbuilder.EscrowMultiSigScript(entry.custPub, c.skMerch.PubKey().SerializeCompressed())
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	preimage, err := txbuilder.BuildMerchClosePreimage(merchParams, escrowRedeem)
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	merchSig, err := signPreimage(c.skMerch, preimage)
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}

	tx, err := txbuilder.BuildMerchCloseTx(merchParams)
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	txbuilder.FinalizeMerchCloseTx(tx, escrowRedeem, entry.custPub, entry.custSig, c.skMerch.PubKey().SerializeCompressed(), merchSig)

	buf, err := serializeTx(tx)
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}

	c.channelStatus = zkchan.ChannelMerchantInitClose
	return buf, nil
}

// SignDispute checks SHA256(rev_secret) == rev_lock and that revocation
// evidence for it is on record, then signs a sweep of the contested
// cust-close output via its revocation branch.
func (c *Core) SignDispute(db statedb.StateDatabase, revLock zkchan.RevLock, revSecret zkchan.RevSecret, custCloseTxID [32]byte, custCloseIndex uint32, custCloseAmount, fee int64, custCloseScript []byte) (signedTx []byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if zkcrypto.SHA256(revSecret[:]) != revLock {
		return nil, zkerrors.New(zkerrors.CryptoVerifyFail, "rev_secret does not hash to rev_lock")
	}
	stored, ok, err := db.GetRevocation(revLock)
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	if !ok || stored != revSecret {
		return nil, zkerrors.New(zkerrors.ProtocolViolation, "no matching revocation evidence on record for this rev_lock")
	}

	params := txbuilder.DisputeParams{
		CustCloseTxID:   custCloseTxID,
		CustCloseIndex:  custCloseIndex,
		CustCloseAmount: custCloseAmount,
		CustCloseScript: custCloseScript,
		DisputePayoutPk: c.disputeSk.PubKey(),
		Fee:             fee,
	}
	tx, err := txbuilder.BuildDisputeTx(params)
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	preimage, err := txbuilder.BuildDisputePreimage(tx, params)
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	sig, err := signPreimage(c.disputeSk, preimage)
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	txbuilder.FinalizeDisputeTx(tx, custCloseScript, sig)

	buf, err := serializeTx(tx)
	if err != nil {
		return nil, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}

	c.channelStatus = zkchan.ChannelDisputed
	return buf, nil
}

// ChannelStatus returns the current channel status.
func (c *Core) ChannelStatus() zkchan.ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelStatus
}

func (c *Core) custCloseParams(spendTxID zkchan.TxID, custBal, merchBal int64, mpcState zkchan.ChannelMPCState, custClosePub *btcec.PublicKey) (txbuilder.CustCloseParams, error) {
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
		SpendAmount:   custBal + merchBal + mpcState.FeeCC + mpcState.ValCPFP,
		SelfDelay:     mpcState.SelfDelay,
		CustBalance:   custBal,
		MerchBalance:  merchBal,
		Fee:           mpcState.FeeCC,
		ValCPFP:       mpcState.ValCPFP,
		CustPayoutPk:  custClosePub,
		RevocationPk:  revokePk,
		MerchPayoutPk: merchPayoutPk,
		MerchChildPk:  merchChildPk,
	}, nil
}

// keyComR32 is the merchant's copy of key_com_r zero-extended to the
// circuit's 32-byte field width: in this simulated F_pay realization
// key_com_r is simply hmac_key_r itself rather than an independently
// sampled commitment-opening value, since the two serve the same binding
// purpose and the merchant is the only party that ever presents it to the
// circuit. New and PayUpdate must derive it identically or the key
// commitment check in mpcbridge's checkCircuitInvariants never matches.
func (c *Core) keyComR32() [32]byte {
	var out [32]byte
	copy(out[:], c.hmacKeyR[:])
	return out
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
