package controller

// State is the lifecycle state of the controller's current run.
type State string

const (
	StateNotStarted        State = "not_started"
	StateLoggingIn         State = "logging_in"
	StateAwaitingTwoFactor State = "awaiting_two_factor"
	StateAwaitingChallenge State = "awaiting_challenge"
	StatePosting           State = "posting"
	StatePaused            State = "paused"
	StateStopping          State = "stopping"
	StateFinished          State = "finished"
	StateStopped           State = "stopped"
)

var allowedTransitions = map[State]map[State]bool{
	StateNotStarted: {
		StateLoggingIn: true,
	},
	StateLoggingIn: {
		StateAwaitingTwoFactor: true,
		StateAwaitingChallenge: true,
		StatePosting:           true,
		StatePaused:            true, // re-login finished under a pause
		StateStopping:          true,
		StateFinished:          true,
		StateStopped:           true,
	},
	StateAwaitingTwoFactor: {
		StateLoggingIn: true,
		StateStopping:  true,
		StateFinished:  true,
		StateStopped:   true,
	},
	StateAwaitingChallenge: {
		StateLoggingIn: true,
		StateStopping:  true,
		StateFinished:  true,
		StateStopped:   true,
	},
	StatePosting: {
		StatePaused:    true,
		StateLoggingIn: true, // session invalidated mid-run
		StateStopping:  true,
		StateFinished:  true,
		StateStopped:   true,
	},
	StatePaused: {
		StatePosting:   true,
		StateLoggingIn: true, // session invalidated by the failure before the pause
		StateStopping:  true,
		StateFinished:  true,
		StateStopped:   true,
	},
	StateStopping: {
		StateStopped:  true,
		StateFinished: true,
	},
	StateFinished: {
		StateLoggingIn: true,
	},
	StateStopped: {
		StateLoggingIn: true,
	},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to State) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Active reports whether a run in state s still owns a worker.
func (s State) Active() bool {
	switch s {
	case StateNotStarted, StateFinished, StateStopped:
		return false
	}
	return true
}
