package action

import "fmt"

// State is a Feature Action state.
type State int

const (
	Inactive State = iota
	Loading
	Active
	Unloading
	Failed
)

var stateNames = [...]string{
	Inactive:  "Inactive",
	Loading:   "Loading",
	Active:    "Active",
	Unloading: "Unloading",
	Failed:    "Failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState converts a state name back into a State.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("unknown state %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Transition is one observed state change.
type Transition struct {
	FeatureID    string `json:"feature_id"`
	ActivationID string `json:"activation_id,omitempty"`
	From         State  `json:"from"`
	To           State  `json:"to"`
	Err          error  `json:"-"`
}

// ErrText returns the transition's error text, or "".
func (t Transition) ErrText() string {
	if t.Err == nil {
		return ""
	}
	return t.Err.Error()
}

// Observer receives transitions on the owner goroutine, in order.
type Observer func(Transition)
