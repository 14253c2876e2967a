package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObservePayRecordsAmountOnlyOnSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.ObservePay(OutcomeOK, 1000)
	m.ObservePay(OutcomeMPCAbort, 500)

	require.Equal(t, float64(1000), testutil.ToFloat64(m.PayAmountTotal))
	require.Equal(t, float64(1), testutil.ToFloat64(m.PayTotal.WithLabelValues(OutcomeOK)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.PayTotal.WithLabelValues(OutcomeMPCAbort)))
}

func TestObservePayZeroAmountUnlinkNotCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.ObservePay(OutcomeOK, 0)

	require.Equal(t, float64(0), testutil.ToFloat64(m.PayAmountTotal))
	require.Equal(t, float64(1), testutil.ToFloat64(m.PayTotal.WithLabelValues(OutcomeOK)))
}

func TestSetChannelBalance(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.SetChannelBalance("deadbeef", 9000, 11000)

	require.Equal(t, float64(9000), testutil.ToFloat64(m.ChannelBalance.WithLabelValues("deadbeef", "cust")))
	require.Equal(t, float64(11000), testutil.ToFloat64(m.ChannelBalance.WithLabelValues("deadbeef", "merch")))
}

func TestNilRegistryMethodsAreNoOps(t *testing.T) {
	var m *Registry
	require.NotPanics(t, func() {
		m.ObservePay(OutcomeOK, 100)
		m.SetChannelBalance("x", 1, 2)
	})
}
