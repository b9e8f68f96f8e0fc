package pipeline

import "time"

// Clock abstracts monotonic time so the pacing loop can be driven by a fake
// in tests. The default implementation is the process clock.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
