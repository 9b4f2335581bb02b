// Lamport logical clocks
package clock

import (
	"math"

	"go.uber.org/atomic"
)

// Max is the largest time a clock can hold. Times are carried in a single
// signed byte on the wire, so a clock saturates here instead of wrapping.
const Max = math.MaxInt8

// A Lamport represents the scalar logical time of a single process.
//
// The zero value is a clock at time 0 ready to use.
// Only the owning process advances the clock, but Now can be called from any goroutine.
type Lamport struct {
	time atomic.Int32
}

// Now returns the current time without advancing the clock
func (l *Lamport) Now() int {
	return int(l.time.Load())
}

// Tick advances the clock for a send event and returns the new time.
func (l *Lamport) Tick() int {
	return l.advance(func(cur int32) int32 { return cur + 1 })
}

// Observe advances the clock for the receipt of a message stamped with received.
//
// The clock is set to max{local, received} + 1. The new time is returned.
func (l *Lamport) Observe(received int) int {
	return l.advance(func(cur int32) int32 {
		if r := clamp(received); r > cur {
			cur = r
		}
		return cur + 1
	})
}

func (l *Lamport) advance(next func(int32) int32) int {
	for {
		cur := l.time.Load()
		n := next(cur)
		if n > Max {
			n = Max
		}
		if l.time.CompareAndSwap(cur, n) {
			return int(n)
		}
	}
}

func clamp(t int) int32 {
	switch {
	case t < 0:
		return 0
	case t > Max:
		return Max
	}
	return int32(t)
}
