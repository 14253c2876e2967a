package merchant

import (
	"context"
	"crypto/rand"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/zkchannels/zkchanneld/zkchan"
	"github.com/zkchannels/zkchanneld/zkchan/mpcbridge"
	"github.com/zkchannels/zkchanneld/zkchan/statedb"
	"github.com/zkchannels/zkchanneld/zkchan/statedb/memstate"
	"github.com/zkchannels/zkchanneld/zkchan/txbuilder"
	"github.com/zkchannels/zkchanneld/zkchan/zkcrypto"
)

const (
	testCustBal   = int64(10000)
	testMerchBal  = int64(10000)
	testFeeCC     = int64(1000)
	testValCPFP   = int64(1000)
	testSelfDelay = uint16(1487)
	testDustLimit = int64(546)
)

// testChannel bundles a freshly opened merchant Core with the counterparty
// material a standalone test needs to act as "the customer" without pulling
// in the customer package -- mirroring the way mpcbridge/fpay_test.go drives
// MerchantPay directly rather than through a full customer.Core.
type testChannel struct {
	core     *Core
	mpcState zkchan.ChannelMPCState
	token    *zkchan.ChannelToken
	db       statedb.StateDatabase

	custPriv      *btcec.PrivateKey
	custClosePriv *btcec.PrivateKey

	initState     zkchan.State
	initRevSecret zkchan.RevSecret
}

func newTestChannel(t *testing.T) *testChannel {
	t.Helper()

	mpcState := zkchan.ChannelMPCState{
		SelfDelay: testSelfDelay,
		ValCPFP:   testValCPFP,
		FeeCC:     testFeeCC,
		FeeMC:     testFeeCC,
	}
	core, err := New(rand.Reader, "merchant-1", &mpcState)
	require.NoError(t, err)
	require.Equal(t, zkchan.ChannelNone, core.ChannelStatus())

	custPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	custClosePriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	token := &zkchan.ChannelToken{
		PkCust:     custPriv.PubKey().SerializeCompressed(),
		PkMerch:    mpcState.MerchPayoutPk,
		EscrowTxID: zkchan.TxID{1, 2, 3},
		MerchTxID:  zkchan.TxID{4, 5, 6},
	}

	revSecret := zkchan.RevSecret{0xdd}
	revLock := zkchan.RevLock(zkcrypto.SHA256(revSecret[:]))

	initState := zkchan.State{
		Nonce:         zkchan.Nonce{0xaa},
		RevLock:       revLock,
		CustBalance:   testCustBal,
		MerchBalance:  testMerchBal,
		EscrowTxID:    token.EscrowTxID,
		MerchTxID:     token.MerchTxID,
		EscrowPrevout: zkchan.ComputePrevout(token.EscrowTxID, 0),
		MerchPrevout:  zkchan.ComputePrevout(token.MerchTxID, 0),
	}

	return &testChannel{
		core:          core,
		mpcState:      mpcState,
		token:         token,
		db:            memstate.New(),
		custPriv:      custPriv,
		custClosePriv: custClosePriv,
		initState:     initState,
		initRevSecret: revSecret,
	}
}

// signInitialClosing drives sign_initial_closing_transaction and returns the
// merchant's two signatures, already checked against independently rebuilt
// preimages the way the customer would check them.
func (tc *testChannel) signInitialClosing(t *testing.T) (escrowSig, merchSig []byte) {
	t.Helper()

	funding := zkchan.FundingTxInfo{
		EscrowTxID:   tc.token.EscrowTxID,
		MerchTxID:    tc.token.MerchTxID,
		InitCustBal:  testCustBal,
		InitMerchBal: testMerchBal,
	}
	escrowSig, merchSig, err := tc.core.SignInitialClosingTransaction(funding, tc.initState.RevLock, tc.custPriv.PubKey(), tc.custClosePriv.PubKey(), tc.mpcState)
	require.NoError(t, err)
	require.Equal(t, zkchan.ChannelPendingOpen, tc.core.ChannelStatus())

	params, err := tc.core.custCloseParams(tc.token.EscrowTxID, testCustBal, testMerchBal, tc.mpcState, tc.custClosePriv.PubKey())
	require.NoError(t, err)

	escrowRedeem, err := txbuilder.EscrowMultiSigScript(tc.custPriv.PubKey().SerializeCompressed(), tc.mpcState.MerchPayoutPk)
	require.NoError(t, err)
	escrowPreimage, err := txbuilder.BuildCustCloseFromEscrowPreimage(params, escrowRedeem)
	require.NoError(t, err)
	require.True(t, verifyPreimage(tc.mpcState.MerchPayoutPk, escrowPreimage, escrowSig))

	merchPayoutPk, err := btcec.ParsePubKey(tc.mpcState.MerchPayoutPk)
	require.NoError(t, err)
	merchCloseScript, err := txbuilder.MerchCloseOutputScript(tc.mpcState.SelfDelay, tc.custClosePriv.PubKey(), merchPayoutPk)
	require.NoError(t, err)
	merchParams, err := tc.core.custCloseParams(tc.token.MerchTxID, testCustBal, testMerchBal, tc.mpcState, tc.custClosePriv.PubKey())
	require.NoError(t, err)
	merchPreimage, err := txbuilder.BuildCustCloseFromMerchPreimage(merchParams, merchCloseScript)
	require.NoError(t, err)
	require.True(t, verifyPreimage(tc.mpcState.MerchPayoutPk, merchPreimage, merchSig))

	return escrowSig, merchSig
}

// custMerchCloseCoSig signs the merch-close preimage with the customer's
// escrow key, the co-signature store_merch_close_tx expects.
func (tc *testChannel) custMerchCloseCoSig(t *testing.T, custBal, merchBal int64) []byte {
	t.Helper()

	merchPayoutPk, err := btcec.ParsePubKey(tc.mpcState.MerchPayoutPk)
	require.NoError(t, err)
	merchParams := txbuilder.MerchCloseParams{
		EscrowTxID:    tc.token.EscrowTxID,
		EscrowIndex:   0,
		EscrowAmount:  custBal + merchBal + testFeeCC,
		MerchPayoutPk: merchPayoutPk,
		FeeMC:         testFeeCC,
		SelfDelay:     testSelfDelay,
		CustBalance:   custBal,
		MerchBalance:  merchBal,
		CustPayoutPk:  tc.custClosePriv.PubKey(),
	}
	escrowRedeem, err := txbuilder.EscrowMultiSigScript(tc.custPriv.PubKey().SerializeCompressed(), tc.mpcState.MerchPayoutPk)
	require.NoError(t, err)
	preimage, err := txbuilder.BuildMerchClosePreimage(merchParams, escrowRedeem)
	require.NoError(t, err)
	return zkcrypto.Sign(tc.custPriv, zkcrypto.DoubleSHA256(preimage))
}

// openChannel drives the channel through sign_initial_closing_transaction,
// store_merch_close_tx, validate_channel_params, and activate_channel,
// returning the HMAC'd pay_token_0.
func (tc *testChannel) openChannel(t *testing.T) (payToken0 [32]byte) {
	t.Helper()

	tc.signInitialClosing(t)

	custSig := tc.custMerchCloseCoSig(t, testCustBal, testMerchBal)
	require.NoError(t, tc.core.StoreMerchCloseTx(tc.token.EscrowTxID, tc.custPriv.PubKey(), testCustBal, testMerchBal, testFeeCC, testSelfDelay, custSig))

	ok, err := tc.core.ValidateChannelParams(tc.db, tc.token, tc.initState, tc.initState.Hash())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, zkchan.ChannelOpen, tc.core.ChannelStatus())

	member, err := tc.db.IsUnlinkMember(tc.initState.Nonce)
	require.NoError(t, err)
	require.True(t, member)

	payToken0, err = tc.core.ActivateChannel(tc.initState, tc.initState.Hash())
	require.NoError(t, err)
	return payToken0
}

func TestNewWritesChannelMPCState(t *testing.T) {
	var mpcState zkchan.ChannelMPCState
	core, err := New(rand.Reader, "merchant-1", &mpcState)
	require.NoError(t, err)
	require.NotNil(t, core)
	require.NotEmpty(t, mpcState.MerchPayoutPk)
	require.NotEmpty(t, mpcState.MerchDisputePk)
	require.NotEmpty(t, mpcState.MerchChildPk)
	require.NotEqual(t, [32]byte{}, mpcState.KeyCom)
	require.NotEqual(t, mpcState.MerchPayoutPk, mpcState.MerchDisputePk)
}

func TestSignInitialClosingTransactionRejectsWrongStatus(t *testing.T) {
	tc := newTestChannel(t)
	tc.signInitialClosing(t)

	funding := zkchan.FundingTxInfo{EscrowTxID: tc.token.EscrowTxID, MerchTxID: tc.token.MerchTxID, InitCustBal: testCustBal, InitMerchBal: testMerchBal}
	_, _, err := tc.core.SignInitialClosingTransaction(funding, tc.initState.RevLock, tc.custPriv.PubKey(), tc.custClosePriv.PubKey(), tc.mpcState)
	require.Error(t, err)
}

func TestStoreMerchCloseTxRejectsBadCoSig(t *testing.T) {
	tc := newTestChannel(t)
	tc.signInitialClosing(t)

	garbage := make([]byte, 70)
	err := tc.core.StoreMerchCloseTx(tc.token.EscrowTxID, tc.custPriv.PubKey(), testCustBal, testMerchBal, testFeeCC, testSelfDelay, garbage)
	require.Error(t, err)
}

func TestValidateChannelParamsRejectsMismatchedPrevouts(t *testing.T) {
	tc := newTestChannel(t)
	tc.signInitialClosing(t)

	bad := tc.initState
	bad.EscrowPrevout = zkchan.Prevout{0xff}

	ok, err := tc.core.ValidateChannelParams(tc.db, tc.token, bad, bad.Hash())
	require.Error(t, err)
	require.False(t, ok)
}

func TestValidateChannelParamsRejectsWrongMerchPubkey(t *testing.T) {
	tc := newTestChannel(t)
	tc.signInitialClosing(t)

	badToken := &zkchan.ChannelToken{PkCust: tc.token.PkCust, PkMerch: tc.custPriv.PubKey().SerializeCompressed(), EscrowTxID: tc.token.EscrowTxID, MerchTxID: tc.token.MerchTxID}
	ok, err := tc.core.ValidateChannelParams(tc.db, badToken, tc.initState, tc.initState.Hash())
	require.Error(t, err)
	require.False(t, ok)
}

func TestActivateChannelRequiresMatchingHash(t *testing.T) {
	tc := newTestChannel(t)
	tc.signInitialClosing(t)
	custSig := tc.custMerchCloseCoSig(t, testCustBal, testMerchBal)
	require.NoError(t, tc.core.StoreMerchCloseTx(tc.token.EscrowTxID, tc.custPriv.PubKey(), testCustBal, testMerchBal, testFeeCC, testSelfDelay, custSig))
	ok, err := tc.core.ValidateChannelParams(tc.db, tc.token, tc.initState, tc.initState.Hash())
	require.NoError(t, err)
	require.True(t, ok)

	_, err = tc.core.ActivateChannel(tc.initState, [32]byte{0xff})
	require.Error(t, err)
}

func TestPayPrepareRequiresUnlinkMembershipForZeroAmount(t *testing.T) {
	tc := newTestChannel(t)
	tc.openChannel(t)

	sessionID := zkchan.SessionID{1}
	_, err := tc.core.PayPrepare(rand.Reader, tc.db, sessionID, zkchan.Nonce{0xee}, [32]byte{1}, 0, "", testDustLimit)
	require.Error(t, err)
}

func TestPayPrepareRejectsBelowDustLimit(t *testing.T) {
	tc := newTestChannel(t)
	tc.openChannel(t)

	sessionID := zkchan.SessionID{1}
	_, err := tc.core.PayPrepare(rand.Reader, tc.db, sessionID, tc.initState.Nonce, [32]byte{1}, 100, "", testDustLimit)
	require.Error(t, err)
}

func TestPayPrepareRejectsNegativeWithoutJustification(t *testing.T) {
	tc := newTestChannel(t)
	tc.openChannel(t)

	sessionID := zkchan.SessionID{1}
	_, err := tc.core.PayPrepare(rand.Reader, tc.db, sessionID, tc.initState.Nonce, [32]byte{1}, -500, "", testDustLimit)
	require.Error(t, err)
}

// TestFullPayRoundTrip drives a complete Establish -> Activate -> Pay
// prepare/update/confirm -> reveal -> force-close sequence against a single
// merchant Core, exercising both its own mpcbridge.MerchantPay leg and a
// hand-built counterpart CustomerPay leg over a loopback transport.
func TestFullPayRoundTrip(t *testing.T) {
	tc := newTestChannel(t)
	payToken0 := tc.openChannel(t)

	amount := int64(1000)
	newState := tc.initState
	newState.Nonce = zkchan.Nonce{0xcc}
	newState.CustBalance = tc.initState.CustBalance - amount
	newState.MerchBalance = tc.initState.MerchBalance + amount

	var t16 [16]byte
	revLockCom := zkcrypto.SHA256(append(append([]byte{}, tc.initState.RevLock[:]...), t16[:]...))

	sessionID := zkchan.SessionID{7}
	payMaskCom, err := tc.core.PayPrepare(rand.Reader, tc.db, sessionID, tc.initState.Nonce, revLockCom, amount, "", testDustLimit)
	require.NoError(t, err)

	a, b := mpcbridge.NewLoopbackPair()

	custIn := mpcbridge.CustomerMPCInputs{
		SkCust:         tc.custPriv.Serialize(),
		OldPayToken:    payToken0,
		OldState:       tc.initState,
		NewState:       newState,
		T:              t16,
		PayMaskCom:     payMaskCom,
		RevLockCom:     revLockCom,
		KeyCom:         tc.mpcState.KeyCom,
		MerchPayoutPk:  tc.mpcState.MerchPayoutPk,
		MerchDisputePk: tc.mpcState.MerchDisputePk,
		MerchChildPk:   tc.mpcState.MerchChildPk,
		Amount:         amount,
	}

	var wg sync.WaitGroup
	wg.Add(2)

	var custOut zkchan.MaskedTxMPCInputs
	var custPtMask mpcbridge.PayTokenMask
	var custErr, payUpdateErr error

	go func() {
		defer wg.Done()
		custOut, custPtMask, custErr = mpcbridge.CustomerPay(context.Background(), mpcbridge.NetworkConfig{}, a, custIn)
	}()
	go func() {
		defer wg.Done()
		payUpdateErr = tc.core.PayUpdate(context.Background(), rand.Reader, tc.db, mpcbridge.NetworkConfig{}, b, sessionID, tc.mpcState)
	}()
	wg.Wait()

	require.NoError(t, custErr)
	require.NoError(t, payUpdateErr)

	masked, err := tc.core.PayConfirmMPCResult(tc.db, sessionID, true)
	require.NoError(t, err)
	require.Equal(t, custOut.EscrowMask, masked.EscrowMask)
	require.Equal(t, custOut.MerchMask, masked.MerchMask)
	require.Equal(t, custOut.REscrowSig, masked.REscrowSig)
	require.Equal(t, custOut.RMerchSig, masked.RMerchSig)

	revoked := zkchan.RevokedState{
		Nonce:     tc.initState.Nonce,
		RevLock:   tc.initState.RevLock,
		RevSecret: tc.initRevSecret,
		T:         t16,
	}

	payMask, payMaskR, escrowMask, merchMask, err := tc.core.PayValidateRevLock(tc.db, sessionID, revoked)
	require.NoError(t, err)

	check := zkcrypto.SHA256(append(append([]byte{}, payMask[:]...), payMaskR[:]...))
	require.Equal(t, payMaskCom, check)

	// The customer can now recover a real signature from the masked 's'
	// both legs agreed on, using the pads the merchant just revealed.
	escrowSig := zkcrypto.ReconstructSignature(custOut.REscrowSig, custOut.EscrowMask, escrowMask)
	merchSig := zkcrypto.ReconstructSignature(custOut.RMerchSig, custOut.MerchMask, merchMask)

	custPub, err := tc.token.CustPubKey()
	require.NoError(t, err)
	params, err := tc.core.custCloseParams(tc.token.EscrowTxID, newState.CustBalance, newState.MerchBalance, tc.mpcState, tc.custClosePriv.PubKey())
	require.NoError(t, err)
	escrowRedeem, err := txbuilder.EscrowMultiSigScript(custPub.SerializeCompressed(), tc.core.skMerch.PubKey().SerializeCompressed())
	require.NoError(t, err)
	escrowPreimage, err := txbuilder.BuildCustCloseFromEscrowPreimage(params, escrowRedeem)
	require.NoError(t, err)
	require.True(t, verifyPreimage(tc.core.skMerch.PubKey().SerializeCompressed(), escrowPreimage, escrowSig))

	merchCloseScript, err := txbuilder.MerchCloseOutputScript(tc.mpcState.SelfDelay, tc.custClosePriv.PubKey(), tc.core.skMerch.PubKey())
	require.NoError(t, err)
	merchParams, err := tc.core.custCloseParams(tc.token.MerchTxID, newState.CustBalance, newState.MerchBalance, tc.mpcState, tc.custClosePriv.PubKey())
	require.NoError(t, err)
	merchPreimage, err := txbuilder.BuildCustCloseFromMerchPreimage(merchParams, merchCloseScript)
	require.NoError(t, err)
	require.True(t, verifyPreimage(tc.core.skMerch.PubKey().SerializeCompressed(), merchPreimage, merchSig))

	_, spent, err := tc.db.CheckSpent(revoked.Nonce)
	require.NoError(t, err)
	require.True(t, spent)

	member, err := tc.db.IsUnlinkMember(revoked.Nonce)
	require.NoError(t, err)
	require.False(t, member)

	stored, ok, err := tc.db.GetRevocation(revoked.RevLock)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, revoked.RevSecret, stored)

	_ = custPtMask

	custSig := tc.custMerchCloseCoSig(t, newState.CustBalance, newState.MerchBalance)
	require.NoError(t, tc.core.StoreMerchCloseTx(tc.token.EscrowTxID, tc.custPriv.PubKey(), newState.CustBalance, newState.MerchBalance, testFeeCC, testSelfDelay, custSig))

	signedTx, err := tc.core.ForceClose()
	require.NoError(t, err)
	require.NotEmpty(t, signedTx)
	require.Equal(t, zkchan.ChannelMerchantInitClose, tc.core.ChannelStatus())
}

func TestPayUpdateRequiresSessionInPrepare(t *testing.T) {
	tc := newTestChannel(t)
	tc.openChannel(t)

	sessionID := zkchan.SessionID{9}
	_, b := mpcbridge.NewLoopbackPair()
	err := tc.core.PayUpdate(context.Background(), rand.Reader, tc.db, mpcbridge.NetworkConfig{}, b, sessionID, tc.mpcState)
	require.Error(t, err)
}

func TestPayConfirmMPCResultRejectsDisagreement(t *testing.T) {
	tc := newTestChannel(t)
	tc.openChannel(t)

	sessionID := zkchan.SessionID{9}
	require.NoError(t, tc.db.PutSession(sessionID, zkchan.SessionState{Status: zkchan.SessionUpdate, Nonce: tc.initState.Nonce, RevLockCom: [32]byte{1}, Amount: 1000}))
	require.NoError(t, tc.db.PutMPCMask([32]byte{1}, statedb.MPCMaskRecord{}))

	_, err := tc.core.PayConfirmMPCResult(tc.db, sessionID, false)
	require.Error(t, err)
}

func TestPayValidateRevLockBurnsNonceOnBadEvidence(t *testing.T) {
	tc := newTestChannel(t)
	tc.openChannel(t)

	sessionID := zkchan.SessionID{9}
	revLockCom := zkcrypto.SHA256(append(append([]byte{}, tc.initState.RevLock[:]...), [16]byte{}[:]...))
	require.NoError(t, tc.db.PutSession(sessionID, zkchan.SessionState{Status: zkchan.SessionUpdate, Nonce: tc.initState.Nonce, RevLockCom: revLockCom, Amount: 1000}))

	bad := zkchan.RevokedState{
		Nonce:     tc.initState.Nonce,
		RevLock:   tc.initState.RevLock,
		RevSecret: zkchan.RevSecret{0x01}, // does not hash to RevLock
	}
	_, _, _, _, err := tc.core.PayValidateRevLock(tc.db, sessionID, bad)
	require.Error(t, err)

	_, spent, err := tc.db.CheckSpent(bad.Nonce)
	require.NoError(t, err)
	require.True(t, spent)
}

func TestForceCloseRequiresStoredCloseTuple(t *testing.T) {
	tc := newTestChannel(t)
	tc.signInitialClosing(t)

	_, err := tc.core.ForceClose()
	require.Error(t, err)
}

func TestSignDisputeRequiresMatchingRevocationEvidence(t *testing.T) {
	tc := newTestChannel(t)
	tc.openChannel(t)

	revSecret := zkchan.RevSecret{0x42}
	revLock := zkchan.RevLock(zkcrypto.SHA256(revSecret[:]))

	_, err := tc.core.SignDispute(tc.db, revLock, revSecret, [32]byte{1}, 0, 5000, 500, []byte{0x51})
	require.Error(t, err) // no revocation recorded yet

	require.NoError(t, tc.db.PutRevocation(revLock, revSecret))

	custPub, err := btcec.ParsePubKey(tc.token.PkCust)
	require.NoError(t, err)
	custCloseScript, err := txbuilder.CustCloseScript(testSelfDelay, tc.custClosePriv.PubKey(), custPub)
	require.NoError(t, err)

	signedTx, err := tc.core.SignDispute(tc.db, revLock, revSecret, zkchan.TxID{9, 9}, 0, 5000, 500, custCloseScript)
	require.NoError(t, err)
	require.NotEmpty(t, signedTx)
	require.Equal(t, zkchan.ChannelDisputed, tc.core.ChannelStatus())
}

func TestSignDisputeRejectsWrongSecret(t *testing.T) {
	tc := newTestChannel(t)
	tc.openChannel(t)

	revSecret := zkchan.RevSecret{0x42}
	revLock := zkchan.RevLock(zkcrypto.SHA256(revSecret[:]))
	require.NoError(t, tc.db.PutRevocation(revLock, revSecret))

	wrongSecret := zkchan.RevSecret{0x43}
	_, err := tc.core.SignDispute(tc.db, revLock, wrongSecret, zkchan.TxID{9, 9}, 0, 5000, 500, []byte{0x51})
	require.Error(t, err)
}
