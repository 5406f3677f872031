package engine

import "time"

func durationTick(fn func(float64) bool) func(time.Duration) bool {
	return func(d time.Duration) bool {
		return fn(d.Seconds())
	}
}
