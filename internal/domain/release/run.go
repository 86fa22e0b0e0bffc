package release

import (
	"time"

	"github.com/google/uuid"
)

// State is a phase of the promotion pipeline. Runs move strictly forward
// through the states below; a failure in any phase moves the run to
// StateFailed and nothing later executes.
type State string

// Pipeline states, in execution order.
const (
	StateDiscovering   State = "discovering"
	StateVerifying     State = "verifying"
	StateSigning       State = "signing"
	StateManifestBuild State = "manifest_building"
	StatePublishing    State = "publishing"
	StateCutover       State = "cutover"
	StateComplete      State = "complete"
	StateFailed        State = "failed"
)

// stateOrder fixes the forward sequence for transition checks.
//
//nolint:gochecknoglobals // Shared immutable state table.
var stateOrder = map[State]int{
	StateDiscovering:   0,
	StateVerifying:     1,
	StateSigning:       2,
	StateManifestBuild: 3,
	StatePublishing:    4,
	StateCutover:       5,
	StateComplete:      6,
}

// CanAdvance reports whether moving from current to next is a legal forward
// transition. StateFailed is reachable from every non-terminal state.
func CanAdvance(current, next State) bool {
	if next == StateFailed {
		return current != StateComplete && current != StateFailed
	}

	currentIdx, ok := stateOrder[current]
	if !ok {
		return false
	}

	nextIdx, ok := stateOrder[next]
	if !ok {
		return false
	}

	return nextIdx == currentIdx+1
}

// Run is one promotion attempt for a channel. The ID tags every log line
// and the run report so interleaved runs can be told apart.
type Run struct {
	// ID uniquely identifies this attempt.
	ID string
	// Channel is the channel being promoted.
	Channel string
	// State is the current pipeline phase.
	State State
	// Release is filled in after discovery.
	Release *Release
	// StartedAt is when the run began.
	StartedAt time.Time
	// FinishedAt is when the run reached a terminal state.
	FinishedAt time.Time
	// Err holds the failure when State is StateFailed.
	Err error
}

// NewRun starts a run record in the discovery phase.
func NewRun(channel string) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Channel:   channel,
		State:     StateDiscovering,
		StartedAt: time.Now().UTC(),
	}
}

// Advance moves the run to next if the transition is legal and reports
// whether it did.
func (r *Run) Advance(next State) bool {
	if !CanAdvance(r.State, next) {
		return false
	}

	r.State = next

	if next == StateComplete {
		r.FinishedAt = time.Now().UTC()
	}

	return true
}

// Fail moves the run to StateFailed and records the cause. Calling Fail on
// a completed run is a no-op.
func (r *Run) Fail(err error) {
	if !r.Advance(StateFailed) {
		return
	}

	r.Err = err
	r.FinishedAt = time.Now().UTC()
}

// Duration is the wall time the run has consumed so far, or the total time
// for a finished run.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}

	return r.FinishedAt.Sub(r.StartedAt)
}
