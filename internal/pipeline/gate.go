package pipeline

// ReceiverCounter reports how many receivers are currently connected and
// playing. The transport collaborator implements it; calls are non-blocking
// point-in-time snapshots.
type ReceiverCounter interface {
	ReceiverCount() int
}

// Gate is the demand policy deciding whether encoding effort is worth
// spending on a tick: open iff at least one receiver is connected. The count
// is re-sampled on every call — no caching, no hysteresis — so the first
// frame after a receiver joins is delayed by at most one tick, and no encode
// work happens while nobody is watching.
type Gate struct {
	counter ReceiverCounter
}

// NewGate creates a gate sampling the given counter.
func NewGate(counter ReceiverCounter) Gate {
	return Gate{counter: counter}
}

// Open reports whether frame production should happen this tick.
func (g Gate) Open() bool {
	return g.counter.ReceiverCount() > 0
}
