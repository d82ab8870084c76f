package domain

// State is the lifecycle state of a job
type State string

// Job status constants
const (
	JobStatusPending State = "PENDING"
	JobStatusRunning State = "RUNNING"
	JobStatusSuccess State = "SUCCESS"
	JobStatusFailure State = "FAILURE"
)

// States lists every lifecycle state in order
var States = []State{JobStatusPending, JobStatusRunning, JobStatusSuccess, JobStatusFailure}

// Terminal reports whether s is SUCCESS or FAILURE
func (s State) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailure
}

// Valid reports whether s is one of the known states
func (s State) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusSuccess, JobStatusFailure:
		return true
	}
	return false
}

// CanTransition reports whether a job may move from one state to another.
// RUNNING -> RUNNING covers redelivery of the same job; PENDING -> FAILURE
// covers jobs that never made it onto the queue.
func CanTransition(from, to State) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusRunning || to == JobStatusFailure
	case JobStatusRunning:
		return to == JobStatusRunning || to == JobStatusSuccess || to == JobStatusFailure
	default:
		return false
	}
}

// SourcesOf returns the states from which a job may move to the given state
func SourcesOf(to State) []State {
	var from []State
	for _, s := range States {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}
