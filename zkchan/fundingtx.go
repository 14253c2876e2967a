package zkchan

// FundingTxInfo carries the initial balances plus the escrow and merchant
// transaction identifiers once the escrow outpoints are known. Produced by
// the transaction builder (C2) and consumed by both cores to populate the
// first State.
type FundingTxInfo struct {
	EscrowTxID    TxID
	EscrowPrevout Prevout
	MerchTxID     TxID
	MerchPrevout  Prevout
	InitCustBal   int64
	InitMerchBal  int64
}
