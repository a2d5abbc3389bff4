package ratelimit

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralflukner/workflow-bolt-sub011/pkg/logging"
)

func TestWaitSpacesConsecutiveCallsToSameMethod(t *testing.T) {
	l := New(map[string]time.Duration{"getAppointments": 80 * time.Millisecond}, logging.Discard())
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "getAppointments"))
	first, ok := l.LastCall("getAppointments")
	require.True(t, ok)

	require.NoError(t, l.Wait(ctx, "getAppointments"))
	second, ok := l.LastCall("getAppointments")
	require.True(t, ok)

	assert.GreaterOrEqual(t, second.Sub(first), 70*time.Millisecond)
}

func TestWaitDoesNotBlockAcrossMethods(t *testing.T) {
	l := New(map[string]time.Duration{
		"getAppointments": time.Second,
		"getProviders":    time.Second,
	}, logging.Discard())
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "getAppointments"))
	require.NoError(t, l.Wait(ctx, "getProviders"))
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestWaitUnknownMethodFailsOpen(t *testing.T) {
	var buf bytes.Buffer
	l := New(map[string]time.Duration{}, logging.NewWithWriter(&buf, "warn"))

	start := time.Now()
	require.NoError(t, l.Wait(context.Background(), "deletePatient"))
	require.NoError(t, l.Wait(context.Background(), "deletePatient"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	assert.Contains(t, buf.String(), "rate limit not configured for method")
	assert.Contains(t, buf.String(), "deletePatient")
	_, ok := l.LastCall("deletePatient")
	assert.False(t, ok, "unknown methods are not recorded")
}

func TestWaitHonoursContext(t *testing.T) {
	l := New(map[string]time.Duration{"getPatients": 5 * time.Second}, logging.Discard())
	require.NoError(t, l.Wait(context.Background(), "getPatients"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "getPatients"))
}

func TestObserverReceivesWaits(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	l := New(map[string]time.Duration{"getProviders": 10 * time.Millisecond}, logging.Discard(),
		WithObserver(func(method string, waited time.Duration) {
			mu.Lock()
			seen[method]++
			mu.Unlock()
		}))

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(context.Background(), "getProviders"))
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, seen["getProviders"])
}

func TestDefaultBudgets(t *testing.T) {
	l := New(nil, nil)
	for method, want := range map[string]time.Duration{
		MethodGetPatient:      250 * time.Millisecond,
		MethodGetAppointments: time.Second,
		MethodGetProviders:    500 * time.Millisecond,
		MethodGetPatients:     5 * time.Second,
	} {
		got, ok := l.Budget(method)
		require.True(t, ok, method)
		assert.Equal(t, want, got, method)
	}
}

func TestInstancesDoNotShareState(t *testing.T) {
	budgets := map[string]time.Duration{"getAppointments": time.Second}
	a := New(budgets, logging.Discard())
	b := New(budgets, logging.Discard())

	require.NoError(t, a.Wait(context.Background(), "getAppointments"))

	start := time.Now()
	require.NoError(t, b.Wait(context.Background(), "getAppointments"))
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}
