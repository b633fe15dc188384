package operator

import "time"

// State is the operator lifecycle: ready, running, terminating, terminated.
type State string

const (
	// StateReady means a run can be started.
	StateReady State = "ready"
	// StateRunning means the tick loop is active.
	StateRunning State = "running"
	// StateTerminating means a stop was requested and the current tick is finishing.
	StateTerminating State = "terminating"
	// StateTerminated means the loop has exited; the operator does not run again.
	StateTerminated State = "terminated"
)

func (s State) String() string { return string(s) }

// Observer receives operator activity; metrics.Metrics implements it.
type Observer interface {
	ObserveTick(d time.Duration)
	ObserveCycle(status string)
	ObserveRetry()
	ObserveScore(returnPct float64)
	ObserveState(state string)
}

type nopObserver struct{}

func (nopObserver) ObserveTick(time.Duration) {}
func (nopObserver) ObserveCycle(string)       {}
func (nopObserver) ObserveRetry()             {}
func (nopObserver) ObserveScore(float64)      {}
func (nopObserver) ObserveState(string)       {}
