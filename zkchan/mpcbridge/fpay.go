package mpcbridge

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/zkchannels/zkchanneld/zkchan"
	"github.com/zkchannels/zkchanneld/zkchan/txbuilder"
	"github.com/zkchannels/zkchanneld/zkchan/zkcrypto"
	"github.com/zkchannels/zkchanneld/zkchan/zkerrors"
)

// CustomerMPCInputs are the customer's private inputs to F_pay.
type CustomerMPCInputs struct {
	SkCust      []byte
	OldPayToken [32]byte
	OldState    zkchan.State
	NewState    zkchan.State
	T           [16]byte
	PayMaskCom  [32]byte
	RevLockCom  [32]byte

	KeyCom        [32]byte
	MerchPayoutPk []byte
	MerchDisputePk []byte
	MerchChildPk  []byte
	Amount        int64

	EscrowPreimage []byte
	MerchPreimage  []byte
}

// MerchantMPCInputs are the merchant's private inputs to F_pay. EscrowMask
// and MerchMask are one-time XOR pads, freshly sampled by the caller for
// this pay round -- not the signatures themselves. MerchantPay signs the two
// new closing preimages with SkMerch inside the circuit (using NewState
// as revealed to it over the wire by CustomerPay, exactly as the real
// circuit would compute it from both parties' joint inputs) and only ever
// lets the masked 's' components and the clear 'r' components leave, the
// same way a garbled circuit's customer-output wires would leave the
// circuit pre-masked. The merchant's own code never sees a complete,
// usable closing signature.
type MerchantMPCInputs struct {
	HmacKey    [64]byte
	SkMerch    []byte
	EscrowMask [32]byte
	MerchMask  [32]byte
	PayMask    [32]byte
	PayMaskCom [32]byte
	RevLockCom [32]byte
	KeyComR    [32]byte
	Nonce      zkchan.Nonce
	Amount     int64

	BalMinCust  int64
	BalMinMerch int64
	FeeCC       int64
	FeeMC       int64
	ValCPFP     int64
	SelfDelay   uint16

	KeyCom []byte

	// Ingredients for the two cust-close preimages the circuit signs.
	// None of these are secret: they are the same channel-identifying
	// values the merchant already holds from Establish.
	CustPub        []byte
	CustClosePub   []byte
	MerchPayoutPk  []byte
	MerchDisputePk []byte
	MerchChildPk   []byte
}

// MerchantPayResult carries F_pay's masked outputs back to the merchant's
// caller so they can be persisted (PutMPCMask) for later reveal once the
// customer has produced its revocation.
type MerchantPayResult struct {
	EscrowMask [32]byte
	MerchMask  [32]byte
	REscrowSig [32]byte
	RMerchSig  [32]byte
}

// PayTokenMask is the masked new pay-token the customer recovers after
// F_pay succeeds.
type PayTokenMask struct {
	PtMask  [32]byte
	PtMaskR [32]byte
}

// wire messages exchanged between CustomerPay and MerchantPay. These are
// simulation-only plumbing: in a real garbled-circuit realization neither
// side would see the other's raw inputs on the wire at all.
type custHello struct {
	OldState    zkchan.State
	NewState    zkchan.State
	T           [16]byte
	OldPayToken [32]byte
	PayMaskCom  [32]byte
	RevLockCom  [32]byte
	Amount      int64
}

type merchResult struct {
	Abort        bool
	AbortMsg     string
	PtMasked     [32]byte
	EscrowMasked [32]byte
	MerchMasked  [32]byte
	REscrowSig   [32]byte
	RMerchSig    [32]byte
}

// CustomerPay drives the customer's side of F_pay: send the proposed state
// transition and return the merchant's outputs still masked. Unmasking
// happens later, once the merchant reveals the masks (customer.Core's
// PayUnmaskSigs and PayUnmaskPayToken).
func CustomerPay(ctx context.Context, cfg NetworkConfig, transport MpcTransport, in CustomerMPCInputs) (zkchan.MaskedTxMPCInputs, PayTokenMask, error) {
	hello := custHello{
		OldState:    in.OldState,
		NewState:    in.NewState,
		T:           in.T,
		OldPayToken: in.OldPayToken,
		PayMaskCom:  in.PayMaskCom,
		RevLockCom:  in.RevLockCom,
		Amount:      in.Amount,
	}
	payload, err := json.Marshal(hello)
	if err != nil {
		return zkchan.MaskedTxMPCInputs{}, PayTokenMask{}, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	if err := transport.Send("merchant", payload); err != nil {
		return zkchan.MaskedTxMPCInputs{}, PayTokenMask{}, zkerrors.Wrap(zkerrors.MPCAbort, err)
	}

	respRaw, err := transport.Recv("merchant")
	if err != nil {
		return zkchan.MaskedTxMPCInputs{}, PayTokenMask{}, zkerrors.Wrap(zkerrors.MPCAbort, err)
	}

	var resp merchResult
	if err := json.Unmarshal(respRaw, &resp); err != nil {
		return zkchan.MaskedTxMPCInputs{}, PayTokenMask{}, zkerrors.Wrap(zkerrors.MPCAbort, err)
	}
	if resp.Abort {
		return zkchan.MaskedTxMPCInputs{}, PayTokenMask{}, zkerrors.New(zkerrors.MPCAbort, "merchant aborted pay: %s", resp.AbortMsg)
	}

	out := zkchan.MaskedTxMPCInputs{
		EscrowMask: resp.EscrowMasked,
		MerchMask:  resp.MerchMasked,
		REscrowSig: resp.REscrowSig,
		RMerchSig:  resp.RMerchSig,
	}
	token := PayTokenMask{PtMask: resp.PtMasked}
	return out, token, nil
}

// MerchantPay drives the merchant's side of F_pay: receive the customer's
// proposed transition, check it with checkCircuitInvariants, then --
// standing in for the circuit itself -- sign the two new cust-close
// preimages with SkMerch, mask the results, and compute the masked new pay
// token before they ever reach the caller.
func MerchantPay(ctx context.Context, cfg NetworkConfig, transport MpcTransport, in MerchantMPCInputs) (MerchantPayResult, bool, error) {
	raw, err := transport.Recv("customer")
	if err != nil {
		return MerchantPayResult{}, false, zkerrors.Wrap(zkerrors.MPCAbort, err)
	}

	var hello custHello
	if err := json.Unmarshal(raw, &hello); err != nil {
		return MerchantPayResult{}, false, zkerrors.Wrap(zkerrors.MPCAbort, err)
	}

	if abortMsg := checkCircuitInvariants(hello, in); abortMsg != "" {
		resp := merchResult{Abort: true, AbortMsg: abortMsg}
		payload, _ := json.Marshal(resp)
		transport.Send("customer", payload)
		return MerchantPayResult{}, false, zkerrors.New(zkerrors.MPCAbort, "%s", abortMsg)
	}

	result, err := signAndMaskClosingSigs(hello.NewState, in)
	if err != nil {
		return MerchantPayResult{}, false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}

	newPayToken := hmac.New(sha256.New, in.HmacKey[:])
	newPayToken.Write(hello.NewState.Serialize())
	var ptRaw [32]byte
	copy(ptRaw[:], newPayToken.Sum(nil))
	ptMasked := zkcrypto.XOR32(ptRaw, in.PayMask)

	resp := merchResult{
		Abort:        false,
		PtMasked:     ptMasked,
		EscrowMasked: result.EscrowMask,
		MerchMasked:  result.MerchMask,
		REscrowSig:   result.REscrowSig,
		RMerchSig:    result.RMerchSig,
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return MerchantPayResult{}, false, zkerrors.Wrap(zkerrors.Irrecoverable, err)
	}
	if err := transport.Send("customer", payload); err != nil {
		return MerchantPayResult{}, false, zkerrors.Wrap(zkerrors.MPCAbort, err)
	}

	return result, true, nil
}

// signAndMaskClosingSigs builds the escrow-close and merch-close preimages
// for newState, signs each with SkMerch, and XOR-masks only the 's'
// component of each signature, leaving 'r' in the clear.
func signAndMaskClosingSigs(newState zkchan.State, in MerchantMPCInputs) (MerchantPayResult, error) {
	skMerch, _ := btcec.PrivKeyFromBytes(in.SkMerch)
	custPub, err := btcec.ParsePubKey(in.CustPub)
	if err != nil {
		return MerchantPayResult{}, err
	}
	custClosePub, err := btcec.ParsePubKey(in.CustClosePub)
	if err != nil {
		return MerchantPayResult{}, err
	}
	revokePk, err := btcec.ParsePubKey(in.MerchDisputePk)
	if err != nil {
		return MerchantPayResult{}, err
	}
	merchChildPk, err := btcec.ParsePubKey(in.MerchChildPk)
	if err != nil {
		return MerchantPayResult{}, err
	}
	merchPayoutPk, err := btcec.ParsePubKey(in.MerchPayoutPk)
	if err != nil {
		return MerchantPayResult{}, err
	}

	escrowParams := txbuilder.CustCloseParams{
		SpendTxID:     newState.EscrowTxID,
		SpendAmount:   newState.CustBalance + newState.MerchBalance + in.FeeCC + in.ValCPFP,
		SelfDelay:     in.SelfDelay,
		CustBalance:   newState.CustBalance,
		MerchBalance:  newState.MerchBalance,
		Fee:           in.FeeCC,
		ValCPFP:       in.ValCPFP,
		CustPayoutPk:  custClosePub,
		RevocationPk:  revokePk,
		MerchPayoutPk: merchPayoutPk,
		MerchChildPk:  merchChildPk,
	}
	// merchParams differs from escrowParams only in SpendTxID: the
	// cust-close-from-merch variant spends the merch-close output instead
	// of the escrow output, but both parties must derive byte-identical
	// preimages from the same (balances, self_delay, pubkeys) otherwise
	// (spec.md §4.5).
	merchParams := escrowParams
	merchParams.SpendTxID = newState.MerchTxID

	escrowRedeem, err := txbuilder.EscrowMultiSigScript(custPub.SerializeCompressed(), skMerch.PubKey().SerializeCompressed())
	if err != nil {
		return MerchantPayResult{}, err
	}
	escrowPreimage, err := txbuilder.BuildCustCloseFromEscrowPreimage(escrowParams, escrowRedeem)
	if err != nil {
		return MerchantPayResult{}, err
	}
	escrowR, escrowS := zkcrypto.SignCompactParts(skMerch, zkcrypto.DoubleSHA256(escrowPreimage))

	merchCloseScript, err := txbuilder.MerchCloseOutputScript(in.SelfDelay, custClosePub, merchPayoutPk)
	if err != nil {
		return MerchantPayResult{}, err
	}
	merchPreimage, err := txbuilder.BuildCustCloseFromMerchPreimage(merchParams, merchCloseScript)
	if err != nil {
		return MerchantPayResult{}, err
	}
	merchR, merchS := zkcrypto.SignCompactParts(skMerch, zkcrypto.DoubleSHA256(merchPreimage))

	return MerchantPayResult{
		EscrowMask: zkcrypto.XOR32(escrowS, in.EscrowMask),
		MerchMask:  zkcrypto.XOR32(merchS, in.MerchMask),
		REscrowSig: escrowR,
		RMerchSig:  merchR,
	}, nil
}

// checkCircuitInvariants enforces, in-process, the circuit's input checks:
// invariants 1-4 plus agreement on the amount and the pay-mask commitment.
// Invariants 5 and 6 (the masked signatures and the masked pay token) are
// outputs that MerchantPay computes afterwards, not checks made here.
// Returns a non-empty abort reason on the first failed check, or "" if all
// hold.
func checkCircuitInvariants(hello custHello, in MerchantMPCInputs) string {
	// Invariant 2: SHA256(hmac_key || key_com_r) == key_com.
	h := sha256.New()
	h.Write(in.HmacKey[:])
	h.Write(in.KeyComR[:])
	var keyCom [32]byte
	copy(keyCom[:], h.Sum(nil))
	if len(in.KeyCom) != 32 || string(keyCom[:]) != string(in.KeyCom) {
		return "key commitment mismatch"
	}

	// Invariant 3: SHA256(old_state.rev_lock || t) == rev_lock_com.
	h = sha256.New()
	h.Write(hello.OldState.RevLock[:])
	h.Write(hello.T[:])
	var revLockCom [32]byte
	copy(revLockCom[:], h.Sum(nil))
	if revLockCom != in.RevLockCom || revLockCom != hello.RevLockCom {
		return "revocation-lock commitment mismatch"
	}

	// Invariant 1: HMAC(hmac_key, serialize(old_state)) == old_pay_token.
	mac := hmac.New(sha256.New, in.HmacKey[:])
	mac.Write(hello.OldState.Serialize())
	expected := mac.Sum(nil)
	if !hmac.Equal(expected, hello.OldPayToken[:]) {
		return "stale or forged pay token presented for old state"
	}

	// Invariant 4: nonce/balance/txid transition rules.
	if hello.NewState.Nonce == hello.OldState.Nonce {
		return "new state reuses old nonce"
	}
	if hello.NewState.EscrowTxID != hello.OldState.EscrowTxID ||
		hello.NewState.MerchTxID != hello.OldState.MerchTxID {
		return "new state does not carry forward the same funding txids"
	}
	if hello.NewState.CustBalance != hello.OldState.CustBalance-hello.Amount {
		return "customer balance delta does not match amount"
	}
	if hello.NewState.MerchBalance != hello.OldState.MerchBalance+hello.Amount {
		return "merchant balance delta does not match amount"
	}
	if hello.NewState.CustBalance < in.BalMinCust+in.FeeCC+in.ValCPFP {
		return "customer balance would fall below dust/fee/cpfp floor"
	}
	if hello.NewState.MerchBalance < in.BalMinMerch {
		return "merchant balance would fall below dust floor"
	}

	if hello.Amount != in.Amount {
		return "customer and merchant disagree on payment amount"
	}
	if hello.PayMaskCom != in.PayMaskCom {
		return "pay-mask commitment mismatch"
	}

	return ""
}
