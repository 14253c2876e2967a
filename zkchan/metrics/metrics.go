// Package metrics implements the protocol-driver instrumentation (new:
// metrics): prometheus counters and histograms for the operation counts
// and MPC round latency of zkchan/protocol, grounded on the same
// promauto/prometheus.*Vec pattern used for payment-channel metrics in the
// examples pack. Not excluded by any spec.md Non-goal (those name
// watchtower/routing/on-chain-privacy only).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every metric this package exposes so a caller can
// register it against a non-default prometheus.Registerer (tests,
// multiple daemons in one process) instead of relying on promauto's
// package-global DefaultRegisterer.
type Registry struct {
	ChannelsOpenedTotal prometheus.Counter
	ChannelsClosedTotal *prometheus.CounterVec

	EstablishTotal *prometheus.CounterVec
	ActivateTotal  *prometheus.CounterVec
	PayTotal       *prometheus.CounterVec

	PayAmountTotal  prometheus.Counter
	MPCRoundSeconds prometheus.Histogram

	ChannelBalance *prometheus.GaugeVec

	SessionErrorsTotal *prometheus.CounterVec
}

// NewRegistry constructs and registers every metric against reg. Pass
// prometheus.DefaultRegisterer to use promauto's usual global registry, or
// a fresh prometheus.NewRegistry() for isolated tests.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		ChannelsOpenedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "zkchannel",
			Name:      "channels_opened_total",
			Help:      "Total number of channels that completed Establish.",
		}),
		ChannelsClosedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zkchannel",
			Name:      "channels_closed_total",
			Help:      "Total number of channels closed, labeled by how.",
		}, []string{"reason"}), // cooperative | cust_unilateral | merch_unilateral | dispute

		EstablishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zkchannel",
			Name:      "establish_total",
			Help:      "Establish attempts, labeled by outcome.",
		}, []string{"outcome"}), // ok | rejected | error
		ActivateTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zkchannel",
			Name:      "activate_total",
			Help:      "Activate attempts, labeled by outcome.",
		}, []string{"outcome"}),
		PayTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zkchannel",
			Name:      "pay_total",
			Help:      "Pay attempts (including Unlink's amount=0 case), labeled by outcome.",
		}, []string{"outcome"}), // ok | mpc_abort | crypto_verify_fail | protocol_violation | economic_policy | error

		PayAmountTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "zkchannel",
			Name:      "pay_amount_satoshis_total",
			Help:      "Sum of all successful Pay amounts, in satoshis (can be negative-net if refunds occur).",
		}),
		MPCRoundSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "zkchannel",
			Name:      "mpc_round_seconds",
			Help:      "Wall-clock duration of one F_pay MPC round.",
			Buckets:   prometheus.DefBuckets,
		}),

		ChannelBalance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "zkchannel",
			Name:      "channel_balance_satoshis",
			Help:      "Current per-party balance of a channel.",
		}, []string{"channel_id", "party"}), // party: cust | merch

		SessionErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zkchannel",
			Name:      "session_errors_total",
			Help:      "Sessions that ended in SessionError, labeled by the zkerrors.Kind that caused it.",
		}, []string{"kind"}),
	}
}

// Outcome labels used consistently across EstablishTotal/ActivateTotal/
// PayTotal so dashboards don't have to special-case each metric.
const (
	OutcomeOK                = "ok"
	OutcomeRejected          = "rejected"
	OutcomeError             = "error"
	OutcomeMPCAbort          = "mpc_abort"
	OutcomeCryptoVerifyFail  = "crypto_verify_fail"
	OutcomeProtocolViolation = "protocol_violation"
	OutcomeEconomicPolicy    = "economic_policy"
)

// ObservePay records one Pay attempt's outcome and, for a successful
// nonzero-amount pay, the amount transferred.
func (r *Registry) ObservePay(outcome string, amount int64) {
	if r == nil {
		return
	}
	r.PayTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK && amount != 0 {
		r.PayAmountTotal.Add(float64(amount))
	}
}

// SetChannelBalance updates the balance gauge for both parties of one
// channel, keyed by its escrow-txid-derived channel id in hex.
func (r *Registry) SetChannelBalance(channelID string, custBal, merchBal int64) {
	if r == nil {
		return
	}
	r.ChannelBalance.WithLabelValues(channelID, "cust").Set(float64(custBal))
	r.ChannelBalance.WithLabelValues(channelID, "merch").Set(float64(merchBal))
}
