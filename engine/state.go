package engine

// State is the lifecycle state of a query execution.
type State int

const (
	// Uninitialized: no pull yet; nothing has been planned or opened.
	Uninitialized State = iota
	// FanningOut: pipes are being opened and primed.
	FanningOut
	// Draining: at least one page was produced and more may follow.
	Draining
	// Exhausted: every partition is drained and every item emitted.
	Exhausted
	// Faulted: a pull failed; the error is returned by every later pull.
	Faulted
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case FanningOut:
		return "FanningOut"
	case Draining:
		return "Draining"
	case Exhausted:
		return "Exhausted"
	case Faulted:
		return "Faulted"
	}
	return "Unknown"
}
