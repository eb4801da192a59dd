package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveAuthorization("x", "worker", nil)
	m.EventAppended("task", "created")
	m.SessionsShortened(3)
	m.ObserveKick(errors.New("boom"))
	m.ObserveToolCall("x", time.Now(), nil)
	require.NotNil(t, m.Handler())
}

type kindedErr struct{}

func (kindedErr) Error() string     { return "kinded" }
func (kindedErr) KindLabel() string { return "cli_not_found" }

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveAuthorization("assign_task", "worker", errors.New("denied"))
	m.ObserveAuthorization("assign_task", "manager", nil)
	m.EventAppended("task", "status_changed")
	m.EventAppended("task", "status_changed")
	m.SessionsShortened(2)
	m.SessionsShortened(0)
	m.ObserveKick(kindedErr{})

	require.Equal(t, 1.0, testutil.ToFloat64(m.authorizations.WithLabelValues("assign_task", "worker", "denied")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.authorizations.WithLabelValues("assign_task", "manager", "allowed")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.eventsAppended.WithLabelValues("task", "status_changed")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.sessionsShortened))
	require.Equal(t, 1.0, testutil.ToFloat64(m.kicks.WithLabelValues("cli_not_found")))
}
