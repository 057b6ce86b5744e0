package jobqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff(t *testing.T) {
	b := NewBackoff(BackoffExponential, 100*time.Millisecond, 0)
	assert.Equal(t, 100*time.Millisecond, b.Delay(1))
	assert.Equal(t, 200*time.Millisecond, b.Delay(2))
	assert.Equal(t, 400*time.Millisecond, b.Delay(3))
	assert.Equal(t, 800*time.Millisecond, b.Delay(4))
}

func TestExponentialBackoffCap(t *testing.T) {
	b := NewBackoff(BackoffExponential, 100*time.Millisecond, 300*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, b.Delay(1))
	assert.Equal(t, 200*time.Millisecond, b.Delay(2))
	assert.Equal(t, 300*time.Millisecond, b.Delay(3))
	assert.Equal(t, 300*time.Millisecond, b.Delay(10))
}

func TestLinearBackoff(t *testing.T) {
	b := NewBackoff(BackoffLinear, 50*time.Millisecond, 0)
	assert.Equal(t, 50*time.Millisecond, b.Delay(1))
	assert.Equal(t, 100*time.Millisecond, b.Delay(2))
	assert.Equal(t, 150*time.Millisecond, b.Delay(3))
}

func TestFixedBackoff(t *testing.T) {
	b := NewBackoff(BackoffFixed, 75*time.Millisecond, 0)
	assert.Equal(t, 75*time.Millisecond, b.Delay(1))
	assert.Equal(t, 75*time.Millisecond, b.Delay(9))
}

func TestUnknownKindFallsBackToExponential(t *testing.T) {
	b := NewBackoff("jitterish", 100*time.Millisecond, 0)
	assert.Equal(t, 400*time.Millisecond, b.Delay(3))
}

func TestZeroBaseGetsDefault(t *testing.T) {
	b := NewBackoff(BackoffFixed, 0, 0)
	assert.Equal(t, 500*time.Millisecond, b.Delay(1))
}
