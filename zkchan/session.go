package zkchan

// SessionID is the 16-byte value the customer selects in Pay prepare.
type SessionID [16]byte

// SessionState is the merchant's per-session-id record stored in the
// session-map store (C7).
type SessionState struct {
	Status     SessionStatus
	Nonce      Nonce
	RevLockCom [32]byte
	Amount     int64
}
