package resilience

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecuteCommitsOnSuccess(t *testing.T) {
	l := New(Config{RepairInterval: time.Hour})
	defer l.Shutdown()

	outcome, err := l.Execute("create_entities", "", func() (any, error) {
		return "ok", nil
	}, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "ok", outcome.Value)
	require.Equal(t, StatusCommitted, outcome.Record.Status)
}

func TestExecuteRetriesTransientThenSucceeds(t *testing.T) {
	l := New(Config{RepairInterval: time.Hour, MaxRetries: 5, MaxElapsed: 5 * time.Second})
	defer l.Shutdown()

	var attempts int32
	outcome, err := l.Execute("create_entities", "", func() (any, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return nil, Transient(errors.New("transient failure"))
		}
		return "ok", nil
	}, nil, nil, nil)

	require.NoError(t, err)
	require.Equal(t, "ok", outcome.Value)
	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))
}

func TestExecutePermanentErrorFailsImmediately(t *testing.T) {
	l := New(Config{RepairInterval: time.Hour})
	defer l.Shutdown()

	var attempts int32
	_, err := l.Execute("create_entities", "", func() (any, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, errors.New("permanent failure")
	}, nil, nil, nil)

	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestExecuteDegradesWhenRetriesExhausted(t *testing.T) {
	l := New(Config{RepairInterval: time.Hour, MaxRetries: 1, MaxElapsed: time.Second, DegradationEnabled: true})
	defer l.Shutdown()

	outcome, err := l.Execute("create_entities", "", func() (any, error) {
		return nil, Transient(errors.New("still failing"))
	}, nil, nil, func() (any, bool) {
		return "fallback-value", true
	})

	require.NoError(t, err)
	require.True(t, outcome.Degraded)
	require.Equal(t, "fallback-value", outcome.Value)
}

func TestExecuteChecksumMismatchRollsBack(t *testing.T) {
	l := New(Config{RepairInterval: time.Hour})
	defer l.Shutdown()

	var rolledBack bool
	_, err := l.Execute("create_entities", "expected-checksum", func() (any, error) {
		return "committed-state", nil
	}, func(v any) string {
		return "different-checksum"
	}, func() error {
		rolledBack = true
		return nil
	}, nil)

	require.Error(t, err)
	require.True(t, rolledBack)
}

func TestRepairOnceRollsBackStaleTransactions(t *testing.T) {
	l := New(Config{RepairInterval: time.Hour, StaleAfter: time.Millisecond})
	defer l.Shutdown()

	var rolledBack bool
	rec := l.log.begin("long_running", "", func() error {
		rolledBack = true
		return nil
	})
	_ = rec

	time.Sleep(5 * time.Millisecond)
	l.repairOnce()

	require.True(t, rolledBack)
	got, ok := l.log.Get(rec.ID)
	require.True(t, ok)
	require.Equal(t, StatusRolledBack, got.Status)
}

func TestShutdownRollsBackActiveTransactions(t *testing.T) {
	l := New(Config{RepairInterval: time.Hour})

	var rolledBack bool
	rec := l.log.begin("in_flight", "", func() error {
		rolledBack = true
		return nil
	})

	l.Shutdown()

	require.True(t, rolledBack)
	got, _ := l.log.Get(rec.ID)
	require.Equal(t, StatusRolledBack, got.Status)
}

func TestChecksumIsDeterministic(t *testing.T) {
	a := Checksum([]byte("hello"))
	b := Checksum([]byte("hello"))
	c := Checksum([]byte("world"))
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}
