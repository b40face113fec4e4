package backoff_test

import (
	"testing"
	"time"

	"github.com/XavierBriggs/Iris/internal/backoff"
	"github.com/stretchr/testify/assert"
)

func TestDelay_Defaults(t *testing.T) {
	c := backoff.New(backoff.Config{})

	assert.Equal(t, time.Duration(0), c.Delay(0))
	assert.Equal(t, 2*time.Second, c.Delay(1))
	assert.Equal(t, 4*time.Second, c.Delay(2))
	assert.Equal(t, 8*time.Second, c.Delay(3))
	assert.Equal(t, 60*time.Second, c.Delay(10))
}

func TestDelay_MonotonicAndCapped(t *testing.T) {
	c := backoff.New(backoff.Config{Initial: 300 * time.Millisecond, Max: 20 * time.Second, Multiplier: 1.7})

	prev := c.Delay(0)
	for n := 1; n <= 200; n++ {
		d := c.Delay(n)
		assert.GreaterOrEqual(t, d, prev, "failures=%d", n)
		assert.LessOrEqual(t, d, 20*time.Second, "failures=%d", n)
		prev = d
	}
	assert.Equal(t, 20*time.Second, c.Delay(5000))
}

func TestJittered_NeverShorter(t *testing.T) {
	c := backoff.New(backoff.Config{Initial: time.Second, Max: 10 * time.Second, JitterFraction: 0.5})

	for n := 1; n <= 8; n++ {
		for i := 0; i < 50; i++ {
			d := c.Jittered(n)
			assert.GreaterOrEqual(t, d, c.Delay(n))
			assert.LessOrEqual(t, d, c.Delay(n)+c.Delay(n)/2)
		}
	}
	assert.Equal(t, time.Duration(0), c.Jittered(0))
}

func TestNew_FixesInvalidConfig(t *testing.T) {
	c := backoff.New(backoff.Config{Initial: 5 * time.Second, Max: time.Second, Multiplier: 0.5})

	assert.Equal(t, 5*time.Second, c.Max())
	assert.Equal(t, 5*time.Second, c.Delay(1))
	assert.Equal(t, 5*time.Second, c.Delay(4))
}
