package engine

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by Drain when the engine has been stopped.
var ErrStopped = errors.New("engine stopped")

// CommandError reports a command that could not be applied.
// Command errors are logged and the loop continues.
type CommandError struct {
	Command   CommandType
	FeatureID string
	Err       error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Command, e.FeatureID, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// errUnknownFeature is wrapped for commands naming a feature that was never
// registered or activated.
var errUnknownFeature = errors.New("feature not registered")

// IsUnknownFeature reports whether err names an unregistered feature.
func IsUnknownFeature(err error) bool {
	return errors.Is(err, errUnknownFeature)
}
