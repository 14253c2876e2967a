package zkchan

// ChannelMPCState holds the merchant-chosen public parameters, frozen once
// the channel is opened. It is written once and is read-only thereafter
// (SPEC_FULL.md §5).
type ChannelMPCState struct {
	// SelfDelay is the CSV value (in blocks) a customer must wait before
	// sweeping their own cust-close output.
	SelfDelay uint16

	// BalMinCust and BalMinMerch are the per-party dust minimums enforced
	// after every successful update.
	BalMinCust  int64
	BalMinMerch int64

	// ValCPFP is the value, in satoshis, reserved for the CPFP child
	// output on cust-close transactions.
	ValCPFP int64

	// FeeCC and FeeMC are the fixed fees subtracted from the customer's
	// and merchant's close transactions respectively.
	FeeCC int64
	FeeMC int64

	// MerchPayoutPk, MerchDisputePk, MerchChildPk are merchant-controlled
	// public keys used by the transaction builder.
	MerchPayoutPk  []byte
	MerchDisputePk []byte
	MerchChildPk   []byte

	// KeyCom = SHA256(hmac_key || key_com_r), binding the merchant's HMAC
	// key without revealing it until the MPC circuit is run.
	KeyCom [32]byte
}
