package protocol

import (
	"context"
	"crypto/rand"
	"net"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/zkchannels/zkchanneld/zkchan"
	"github.com/zkchannels/zkchanneld/zkchan/customer"
	"github.com/zkchannels/zkchanneld/zkchan/merchant"
	"github.com/zkchannels/zkchanneld/zkchan/mpcbridge"
	"github.com/zkchannels/zkchanneld/zkchan/statedb"
	"github.com/zkchannels/zkchanneld/zkchan/statedb/memstate"
	"github.com/zkchannels/zkchanneld/zkchan/zkcrypto"
)

const (
	e2eCustBal   = int64(10000)
	e2eMerchBal  = int64(10000)
	e2eDust      = int64(546)
	e2eFee       = int64(1000)
	e2eSelfDelay = uint16(1487)
)

// e2eHarness wires one CustomerDriver and one MerchantDriver over an
// in-memory net.Pipe() for the plaintext protocol frames.
type e2eHarness struct {
	t   *testing.T
	db  statedb.StateDatabase
	cc  *customer.Core
	mc  *merchant.Core
	cd  *CustomerDriver
	md  *MerchantDriver
	tok *zkchan.ChannelToken

	mpcState zkchan.ChannelMPCState
	funding  zkchan.FundingTxInfo
}

func newE2EHarness(t *testing.T) *e2eHarness {
	t.Helper()

	db := memstate.New()
	md := NewMerchantDriver(db, rand.Reader)

	merchPayoutSk, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	merchDisputeSk, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	merchChildSk, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	seedParams := zkchan.ChannelMPCState{
		SelfDelay:      e2eSelfDelay,
		BalMinCust:     e2eDust,
		BalMinMerch:    e2eDust,
		ValCPFP:        e2eFee,
		FeeCC:          e2eFee,
		FeeMC:          e2eFee,
		MerchPayoutPk:  merchPayoutSk.PubKey().SerializeCompressed(),
		MerchDisputePk: merchDisputeSk.PubKey().SerializeCompressed(),
		MerchChildPk:   merchChildSk.PubKey().SerializeCompressed(),
	}
	mc, mpcState, err := md.OpenChannel("channel-1", seedParams)
	require.NoError(t, err)

	cc, err := customer.New(rand.Reader, e2eCustBal, e2eMerchBal, e2eFee, "alice")
	require.NoError(t, err)

	custConn, merchConn := net.Pipe()
	cd := NewCustomerDriver(cc, NewFrameConn(custConn), nil, rand.Reader)

	funding := zkchan.FundingTxInfo{
		EscrowTxID:   zkchan.TxID{1, 2, 3},
		MerchTxID:    zkchan.TxID{4, 5, 6},
		InitCustBal:  e2eCustBal,
		InitMerchBal: e2eMerchBal,
	}
	funding.EscrowPrevout = zkchan.ComputePrevout(funding.EscrowTxID, 0)
	funding.MerchPrevout = zkchan.ComputePrevout(funding.MerchTxID, 0)

	h := &e2eHarness{t: t, db: db, cc: cc, mc: mc, cd: cd, md: md, mpcState: mpcState, funding: funding}

	var wg sync.WaitGroup
	wg.Add(2)
	var custErr, merchErr error
	var token *zkchan.ChannelToken
	go func() {
		defer wg.Done()
		token, custErr = cd.Establish(funding)
	}()
	go func() {
		defer wg.Done()
		merchErr = md.Establish(NewFrameConn(merchConn), mc, mpcState)
	}()
	wg.Wait()
	require.NoError(t, custErr)
	require.NoError(t, merchErr)
	h.tok = token

	custConn2, merchConn2 := net.Pipe()
	h.cd = NewCustomerDriver(cc, NewFrameConn(custConn2), nil, rand.Reader)

	wg.Add(2)
	go func() {
		defer wg.Done()
		custErr = h.cd.Activate()
	}()
	go func() {
		defer wg.Done()
		merchErr = md.Activate(NewFrameConn(merchConn2))
	}()
	wg.Wait()
	require.NoError(t, custErr)
	require.NoError(t, merchErr)

	return h
}

// runPay drives one Pay (or Unlink, for amount == 0) round across fresh
// pipes for the plaintext frames and a fresh loopback pair for the MPC leg.
func (h *e2eHarness) runPay(amount int64) (custErr, merchErr error) {
	custConn, merchConn := net.Pipe()
	custMPC, merchMPC := mpcbridge.NewLoopbackPair()

	h.cd = NewCustomerDriver(h.cc, NewFrameConn(custConn), custMPC, rand.Reader)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		custErr = h.cd.Pay(context.Background(), amount)
	}()
	go func() {
		defer wg.Done()
		merchErr = h.md.Pay(context.Background(), NewFrameConn(merchConn), merchMPC, h.tok)
	}()
	wg.Wait()
	return custErr, merchErr
}

// Scenario 1: Open+Activate+Unlink.
func TestE2E_OpenActivateUnlink(t *testing.T) {
	h := newE2EHarness(t)
	require.Equal(t, zkchan.ProtocolActivated, h.cc.ProtocolStatus())

	nonceBeforeUnlink := h.cc.CurrentState().Nonce
	member, err := h.db.IsUnlinkMember(nonceBeforeUnlink)
	require.NoError(t, err)
	require.True(t, member)

	custErr, merchErr := h.runPay(0)
	require.NoError(t, custErr)
	require.NoError(t, merchErr)

	require.Equal(t, zkchan.ProtocolEstablished, h.cc.ProtocolStatus())
	member, err = h.db.IsUnlinkMember(nonceBeforeUnlink)
	require.NoError(t, err)
	require.False(t, member)
}

// Scenario 2: single Pay of amount=1000.
func TestE2E_SinglePay(t *testing.T) {
	h := newE2EHarness(t)

	custErr, merchErr := h.runPay(1000)
	require.NoError(t, custErr)
	require.NoError(t, merchErr)

	state := h.cc.CurrentState()
	require.Equal(t, int64(9000), state.CustBalance)
	require.Equal(t, int64(11000), state.MerchBalance)
}

// Scenario 3: negative Pay without justification is rejected with no state
// change.
func TestE2E_NegativePayWithoutJustificationRejected(t *testing.T) {
	h := newE2EHarness(t)

	before := h.cc.CurrentState()
	_, _, _, _, err := h.cc.PayPrepare(rand.Reader, -100)
	require.Error(t, err)
	require.True(t, before.Equal(ptr(h.cc.CurrentState())))
}

// Scenario 4: replaying a Pay-prepare frame with the same nonce_old is
// rejected as a protocol violation after a successful pay.
func TestE2E_ReplayedPayPrepareRejected(t *testing.T) {
	h := newE2EHarness(t)

	nonceOld := h.cc.CurrentState().Nonce

	custErr, merchErr := h.runPay(1000)
	require.NoError(t, custErr)
	require.NoError(t, merchErr)

	sessionID := zkchan.SessionID{0xaa}
	_, err := h.mc.PayPrepare(rand.Reader, h.db, sessionID, nonceOld, [32]byte{2}, 500, "", e2eDust)
	require.Error(t, err)
}

// Scenario 5: double-spend / dispute detection. After a successful pay,
// the customer force-closes on the *initial* state (from right after
// Activate); the merchant recovers rev_secret_0 from rev_lock_0 and
// verifies it.
func TestE2E_DisputeOnOldState(t *testing.T) {
	h := newE2EHarness(t)

	initialRevLock := h.cc.CurrentState().RevLock

	custErr, merchErr := h.runPay(1000)
	require.NoError(t, custErr)
	require.NoError(t, merchErr)

	revSecret, ok, err := h.db.GetRevocation(initialRevLock)
	require.NoError(t, err)
	require.True(t, ok)

	check := zkcrypto.SHA256(revSecret[:])
	require.Equal(t, initialRevLock, zkchan.RevLock(check))
}

// Scenario 6: a session whose rev_lock_com never matched a prepared pay
// (e.g. the customer supplied a commitment that matches no merchant
// record, so the merchant's own MPC never reached SessionUpdate) must be
// rejected at pay_confirm_mpc_result, before any mask is ever revealed.
func TestE2E_UnmatchedRevLockCommitmentRejected(t *testing.T) {
	h := newE2EHarness(t)

	sessionID := zkchan.SessionID{0xbb}
	badCom := [32]byte{}
	for i := range badCom {
		badCom[i] = 11
	}

	require.NoError(t, h.db.PutSession(sessionID, zkchan.SessionState{
		Status:     zkchan.SessionPrepare,
		Nonce:      h.cc.CurrentState().Nonce,
		RevLockCom: badCom,
		Amount:     1000,
	}))

	_, err := h.mc.PayConfirmMPCResult(h.db, sessionID, true)
	require.Error(t, err)

	_, _, _, _, err = h.mc.PayValidateRevLock(h.db, sessionID, zkchan.RevokedState{})
	require.Error(t, err)
}

func ptr(s zkchan.State) *zkchan.State { return &s }
