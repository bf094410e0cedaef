package connector

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
)

// SharedState holds the fields every connector state has. Concrete
// states embed it and squash it when decoding:
//
//	type ButtonState struct {
//		connector.SharedState `state:",squash"`
//		Caption string        `state:"caption"`
//	}
type SharedState struct {
	Enabled                  bool     `state:"enabled"`
	RegisteredEventListeners []string `state:"registeredEventListeners"`
}

// DefaultSharedState returns the state of a freshly created connector.
func DefaultSharedState() SharedState {
	return SharedState{Enabled: true}
}

// Shared gives access to the common part of any state.
func (s *SharedState) Shared() *SharedState { return s }

// Shared is implemented by every connector state.
type Shared interface {
	Shared() *SharedState
}

// Type is the registration metadata of one kind of connector.
type Type struct {
	// Name is the server-side component tag the type answers to.
	Name string

	// NewState builds the default state. Required.
	NewState func() Shared

	// New optionally builds the concrete connector wrapping c. The
	// returned value may implement Initializer, Unregisterer,
	// StateChangeReactor and WidgetEnabler.
	New func(c *Connector) any
}

// Types is the table of known connector types. It is safe for
// concurrent use.
type Types struct {
	mu    sync.RWMutex
	types map[string]*Type
}

// NewTypes creates an empty type table.
func NewTypes() *Types {
	return &Types{types: make(map[string]*Type)}
}

// Register adds t to the table.
func (ts *Types) Register(t Type) error {
	if t.Name == "" {
		return fmt.Errorf("connector: register type: empty name")
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, exists := ts.types[t.Name]; exists {
		return fmt.Errorf("connector: type %q: %w", t.Name, ErrDuplicate)
	}
	ts.types[t.Name] = &t
	return nil
}

// Lookup returns the type registered under name.
func (ts *Types) Lookup(name string) (*Type, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	t, ok := ts.types[name]
	if !ok {
		return nil, &ConfigError{Kind: "type", Name: name, Err: ErrUnknownType}
	}
	return t, nil
}

// Names returns the registered type names, sorted.
func (ts *Types) Names() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	names := make([]string, 0, len(ts.types))
	for n := range ts.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DecodeState applies a flat property map, as carried by one update,
// to an existing state. Dotted keys address nested structs
// ("caption.text"). Only the given keys are touched. Values are weakly
// typed: "1"/"true" decode into bools and comma-separated text into
// string slices.
func DecodeState(state Shared, props map[string]string) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           state,
		TagName:          "state",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("connector: state decoder: %w", err)
	}
	if err := dec.Decode(nest(props)); err != nil {
		return fmt.Errorf("connector: decode state: %w", err)
	}
	return nil
}

// nest turns dotted keys into nested maps.
func nest(props map[string]string) map[string]any {
	out := make(map[string]any)
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	// shorter keys first so "a.b" lands inside an existing "a" map
	slices.SortFunc(keys, func(a, b string) int { return len(a) - len(b) })
	for _, k := range keys {
		parts := strings.Split(k, ".")
		m := out
		for _, p := range parts[:len(parts)-1] {
			sub, ok := m[p].(map[string]any)
			if !ok {
				sub = make(map[string]any)
				m[p] = sub
			}
			m = sub
		}
		m[parts[len(parts)-1]] = props[k]
	}
	return out
}
