package protocol

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger lets a calling application specify a custom logger for the
// protocol package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
