package connector

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownType means no connector type is registered under a name.
	ErrUnknownType = errors.New("unknown connector type")
	// ErrNoStateType means a connector type cannot build its default state.
	ErrNoStateType = errors.New("no default state")
	// ErrDuplicate is returned when a type or connector id is registered twice.
	ErrDuplicate = errors.New("already registered")
	// ErrCycle is returned by the hierarchy checker when a parent or
	// children assignment would make a connector its own ancestor.
	ErrCycle = errors.New("connector hierarchy cycle")
	// ErrForeign is returned when connectors of different maps are linked.
	ErrForeign = errors.New("connector belongs to another map")
)

// ConfigError reports missing build or registration metadata: the
// client and server disagree about which connector types, states or
// RPC interfaces exist. It is a deployment bug and is never retried.
type ConfigError struct {
	Kind string // "type", "state" or "proxy"
	Name string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("connector: configuration error: %s %q: %v", e.Kind, e.Name, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err carries a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
