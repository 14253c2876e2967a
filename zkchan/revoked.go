package zkchan

// RevokedState is the evidence package the customer hands to the merchant
// during Pay prepare for the state being superseded: the nonce and rev-lock
// of the old state, the rev-secret that opens it, and the randomness t that
// opens the commitment SHA256(rev_lock || t) revealed at prepare time.
type RevokedState struct {
	Nonce     Nonce
	RevLock   RevLock
	RevSecret RevSecret
	T         [16]byte
}
