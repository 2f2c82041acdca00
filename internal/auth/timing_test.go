package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimingDelay_TargetStaysWithinJitter(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelayMs: 40, RandomDelayMs: 15})

	for i := 0; i < 200; i++ {
		got := td.target()
		require.GreaterOrEqual(t, got, 40*time.Millisecond)
		require.Less(t, got, 55*time.Millisecond)
	}
}

func TestTimingDelay_TargetWithoutJitterIsBase(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelayMs: 25})
	assert.Equal(t, 25*time.Millisecond, td.target())

	assert.Zero(t, NewTimingDelay(TimingConfig{}).target())
}

func TestCryptoRandIntn(t *testing.T) {
	n, err := cryptoRandIntn(0)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = cryptoRandIntn(-3)
	require.NoError(t, err)
	assert.Zero(t, n)

	for i := 0; i < 100; i++ {
		n, err = cryptoRandIntn(3)
		require.NoError(t, err)
		require.True(t, n >= 0 && n < 3, "got %d", n)
	}
}

func TestTimingDelay_NilIsNoop(t *testing.T) {
	var td *TimingDelay

	start := time.Now()
	td.Wait(false)
	td.WaitFrom(start, false)

	assert.Less(t, time.Since(start), 5*time.Millisecond)
}

func TestTimingDelay_WhenItSleeps(t *testing.T) {
	tests := []struct {
		name      string
		onSuccess bool
		success   bool
		wantDelay bool
	}{
		{"failure always padded", false, false, true},
		{"success skipped by default", false, true, false},
		{"success padded when configured", true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			td := NewTimingDelay(TimingConfig{BaseDelayMs: 30, DelayOnSuccess: tt.onSuccess})

			start := time.Now()
			td.WaitFrom(start, tt.success)
			elapsed := time.Since(start)

			if tt.wantDelay {
				assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
			} else {
				assert.Less(t, elapsed, 5*time.Millisecond)
			}
		})
	}
}

func TestTimingDelay_WaitFromCountsWorkAlreadyDone(t *testing.T) {
	td := NewTimingDelay(TimingConfig{BaseDelayMs: 30})

	// work that already took longer than the target adds nothing
	start := time.Now().Add(-time.Second)
	before := time.Now()
	td.WaitFrom(start, false)
	assert.Less(t, time.Since(before), 5*time.Millisecond)

	// partial work only waits for the rest
	start = time.Now().Add(-20 * time.Millisecond)
	before = time.Now()
	td.WaitFrom(start, false)
	waited := time.Since(before)
	assert.GreaterOrEqual(t, waited, 5*time.Millisecond)
	assert.Less(t, waited, 25*time.Millisecond)
}
