package zkcrypto

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger lets a calling application specify a custom logger for the
// zkcrypto package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
