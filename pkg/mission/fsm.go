package mission

import (
	"errors"
	"fmt"
	"time"

	"github.com/aegiskernel/aegis/pkg/types"
)

// ErrIllegalTransition is returned for a transition the state machine
// does not admit
var ErrIllegalTransition = errors.New("mission: illegal state transition")

// transitions is the full mission state machine. Terminal states admit
// nothing; abort is reachable from every non-terminal state.
var transitions = map[types.MissionState][]types.MissionState{
	types.MissionStateCreated: {
		types.MissionStateQueued,
		types.MissionStateRejected,
		types.MissionStateAborted,
	},
	types.MissionStateQueued: {
		types.MissionStateRunning,
		types.MissionStateAborted,
	},
	types.MissionStateRunning: {
		types.MissionStateSuccess,
		types.MissionStateFailure,
		types.MissionStatePaused,
		types.MissionStateAborted,
	},
	types.MissionStatePaused: {
		types.MissionStateRunning,
		types.MissionStateAborted,
	},
}

// CanTransition reports whether the state machine admits from → to
func CanTransition(from, to types.MissionState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves a mission to the next state, appending to its history.
// State is always the fold of history; this is the only mutation point.
func Transition(m *types.Mission, to types.MissionState, reason string, now time.Time) error {
	if !CanTransition(m.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.State, to)
	}
	m.State = to
	m.UpdatedAt = now
	m.History = append(m.History, types.StateChange{
		State:     to,
		Timestamp: now,
		Reason:    reason,
	})
	return nil
}

// FoldHistory replays a history through the state machine and returns the
// resulting state. A history that violates the machine returns an error
// naming the offending step.
func FoldHistory(history []types.StateChange) (types.MissionState, error) {
	state := types.MissionStateCreated
	for i, change := range history {
		if i == 0 && change.State == types.MissionStateCreated {
			continue
		}
		if !CanTransition(state, change.State) {
			return state, fmt.Errorf("%w: history[%d] %s -> %s", ErrIllegalTransition, i, state, change.State)
		}
		state = change.State
	}
	return state, nil
}
