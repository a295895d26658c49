package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_real_clock(t *testing.T) {
	now := Real{}.Now()
	assert.WithinDuration(t, time.Now(), now, time.Second)

	select {
	case <-Real{}.After(10 * time.Millisecond):
	case <-time.After(time.Second):
		t.Error("real clock after never fired")
	}
}

func Test_manual_clock_advance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := NewManual(start)
	assert.Equal(t, start, clk.Now())

	ch := clk.After(5 * time.Second)
	assert.Equal(t, 1, clk.Waiters())

	clk.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Error("fired before deadline")
	default:
	}

	now := clk.Advance(time.Second)
	assert.Equal(t, start.Add(5*time.Second), now)
	select {
	case got := <-ch:
		assert.Equal(t, now, got)
	default:
		t.Error("did not fire at deadline")
	}
	assert.Equal(t, 0, clk.Waiters())
}

func Test_manual_clock_after_zero(t *testing.T) {
	clk := NewManual(time.Now())
	select {
	case <-clk.After(0):
	default:
		t.Error("zero duration should fire immediately")
	}
}
