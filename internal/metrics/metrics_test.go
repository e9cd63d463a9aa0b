package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRegister_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))

	OpenStreamAttempts.WithLabelValues(ResultOK).Inc()
	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
