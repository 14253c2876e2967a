package zkchan

import (
	"github.com/btcsuite/btclog"
)

// log is the package-level logger used throughout the zkchan root package.
// It defaults to the disabled logger so library consumers who never call
// UseLogger don't pay for or see any log output.
var log = btclog.Disabled

// UseLogger lets a calling application specify a custom logger for the
// zkchan package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
