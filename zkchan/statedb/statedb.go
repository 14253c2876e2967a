// Package statedb defines the persistent per-session state store (C7): the
// replay/reuse invariants that guard the unlink-set, spent-nonce map,
// revocation-lock map, and in-flight MPC/session state across restarts.
// Four backends implement StateDatabase: memstate (tests, ephemeral),
// bolt (embedded, the production default), postgres, and etcdkv (clustered
// merchant deployments). The shape follows original_source/src/database.rs's
// six stores and the teacher's channeldb/db.go open/close/bucket idiom.
package statedb

import "github.com/zkchannels/zkchanneld/zkchan"

// PayMaskRecord is the per-nonce MPC output the merchant stores at prepare
// time so it can be returned verbatim to the customer's retry of pay on the
// same nonce (idempotent replay per spec.md §5).
type PayMaskRecord struct {
	PayMask  [32]byte
	PayMaskR [32]byte
}

// MPCMaskRecord records the masked signature components the merchant
// produced for a given rev_lock_com, keyed so a crashed-and-restarted
// merchant can still answer a customer's retried unmask request.
type MPCMaskRecord struct {
	EscrowMask [32]byte
	MerchMask  [32]byte
	REscrowSig [32]byte
	RMerchSig  [32]byte

	// EscrowMaskRaw/MerchMaskRaw are the one-time pads the merchant chose
	// before the MPC ran (escrow_mask_raw/merch_mask_raw in PayUpdate);
	// EscrowMask/MerchMask above are the circuit's masked 's' outputs, not
	// these. They stay secret until PayValidateRevLock's caller reveals
	// them to the customer, who XORs them against the masked 's' values to
	// recover a signature the merchant's own pubkey will verify.
	EscrowMaskRaw [32]byte
	MerchMaskRaw  [32]byte
}

// StateDatabase is the merchant's persistent store. All methods must be
// safe for concurrent use; callers serialize per-channel access via
// zkchan/protocol's keyed mutex, but the store itself still must not
// corrupt under concurrent calls for distinct channels.
type StateDatabase interface {
	// AddUnlink records nonce as a member of the unlink-set: a nonce that
	// has been issued by Unlink but not yet consumed (or expired) by Pay.
	AddUnlink(nonce zkchan.Nonce) error
	// IsUnlinkMember reports whether nonce is currently in the unlink-set.
	IsUnlinkMember(nonce zkchan.Nonce) (bool, error)
	// RemoveUnlink deletes nonce from the unlink-set; a no-op if absent.
	RemoveUnlink(nonce zkchan.Nonce) error

	// CheckSpent reports whether nonce has already been spent by Pay, and
	// if so, the rev_lock recorded at that spend.
	CheckSpent(nonce zkchan.Nonce) (revLock zkchan.RevLock, spent bool, err error)
	// MarkSpent records nonce as spent with the given rev_lock. A zero
	// rev_lock burns the nonce outright (spec.md's "reveal-without-valid-
	// rev_lock" sentinel: the nonce becomes permanently unusable without
	// granting dispute evidence for any real state).
	MarkSpent(nonce zkchan.Nonce, revLock zkchan.RevLock) error

	// PutRevocation stores the (rev_lock, rev_secret) pair once a Pay
	// reveals rev_secret for the customer's previous state.
	PutRevocation(revLock zkchan.RevLock, revSecret zkchan.RevSecret) error
	// GetRevocation looks up rev_secret for a rev_lock, for use building
	// dispute evidence.
	GetRevocation(revLock zkchan.RevLock) (zkchan.RevSecret, bool, error)

	// PutNonceMask/GetNonceMask persist the zkproofs-variant's pay-token
	// mask record for a nonce.
	PutNonceMask(nonce zkchan.Nonce, mask PayMaskRecord) error
	GetNonceMask(nonce zkchan.Nonce) (PayMaskRecord, bool, error)

	// PutMPCMask/GetMPCMask persist the MPC variant's masked-signature
	// record, keyed by the commitment to rev_lock exchanged at prepare.
	PutMPCMask(revLockCom [32]byte, mask MPCMaskRecord) error
	GetMPCMask(revLockCom [32]byte) (MPCMaskRecord, bool, error)

	// PutSession/GetSession persist in-flight pay-session state across a
	// prepare/update round trip.
	PutSession(sessionID zkchan.SessionID, s zkchan.SessionState) error
	GetSession(sessionID zkchan.SessionID) (zkchan.SessionState, bool, error)

	// Close releases any underlying resources (file handles, connection
	// pools). Implementations must tolerate a second Close call.
	Close() error
}
