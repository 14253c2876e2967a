package zkchan

// InitCustState is the customer-side half of the opening handshake, sent to
// the merchant during Establish so it can validate the channel parameters
// and assemble its own copy of the opening State.
type InitCustState struct {
	PkCust     []byte
	ClosePk    []byte
	Nonce0     Nonce
	RevLock0   RevLock
	CustBal    int64
	MerchBal   int64
}
