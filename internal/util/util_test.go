package util

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPtr(t *testing.T) {
	p := Ptr(42)
	assert.Equal(t, 42, *p)
	*p = 7
	assert.Equal(t, 7, *Ptr(*p))
}

func TestAbsFloat64(t *testing.T) {
	assert.Equal(t, 3.5, AbsFloat64(-3.5))
	assert.Equal(t, 3.5, AbsFloat64(3.5))
	assert.Equal(t, 0.0, AbsFloat64(0))
}

func TestClampUnit(t *testing.T) {
	assert.Equal(t, 0.0, ClampUnit(-1))
	assert.Equal(t, 1.0, ClampUnit(1.2))
	assert.Equal(t, 0.5, ClampUnit(0.5))
	assert.Equal(t, 0.0, ClampUnit(math.NaN()))
}

func TestCalculateBackoff(t *testing.T) {
	assert.Zero(t, CalculateBackoff(time.Second, 0))
	assert.Zero(t, CalculateBackoff(0, 3))

	for attempt := 1; attempt <= 4; attempt++ {
		want := time.Second * time.Duration(1<<attempt)
		got := CalculateBackoff(time.Second, attempt)
		assert.GreaterOrEqual(t, got, want*3/4, "attempt %d", attempt)
		assert.LessOrEqual(t, got, want*5/4, "attempt %d", attempt)
	}

	// Far attempts stay within the cap plus jitter
	got := CalculateBackoff(time.Second, 100)
	assert.LessOrEqual(t, got, MaxBackoff*5/4)
	assert.GreaterOrEqual(t, got, MaxBackoff*3/4)
}

func TestCalculateBackoffCapped(t *testing.T) {
	got := CalculateBackoffCapped(time.Second, 10, 5*time.Second)
	assert.LessOrEqual(t, got, 5*time.Second*5/4)
}
