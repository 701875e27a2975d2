package orchestrator

import "fmt"

// State is the pipeline's position in a run.
type State uint32

const (
	Idle State = iota
	Recording
	Transcribing
	Translating
	Synthesizing
	Done
	EarlyExit
	Failed
)

var stateNames = [...]string{"idle", "recording", "transcribing", "translating", "synthesizing", "done", "early_exit", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint32(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Terminal reports whether a run has ended in s.
func (s State) Terminal() bool {
	return s == Done || s == EarlyExit || s == Failed
}

// transitions lists the legal moves. Idle may skip straight to Translating
// when a run starts from a given transcript.
var transitions = map[State][]State{
	Idle:         {Recording, Translating, EarlyExit, Failed},
	Recording:    {Transcribing, Failed},
	Transcribing: {Translating, EarlyExit, Failed},
	Translating:  {Synthesizing, Failed},
	Synthesizing: {Done, Failed},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
