package checks

import (
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"
)

// Registry maps test kind strings to check factories. The catalog is
// populated at startup; configuration then declares tests by kind name
// without any runtime reflection.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds a factory for a kind.
func (r *Registry) Register(kind string, f Factory) error {
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("duplicate check kind %q", kind)
	}
	r.factories[kind] = f
	return nil
}

// Lookup returns the factory for a kind.
func (r *Registry) Lookup(kind string) (Factory, bool) {
	f, ok := r.factories[kind]
	return f, ok
}

// Kinds returns the registered kind names, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Defaults returns a registry with the built-in check catalog.
func Defaults() *Registry {
	reg := NewRegistry()
	for kind, f := range map[string]Factory{
		"http":    NewHTTPCheck,
		"dns":     NewDNSCheck,
		"ping":    NewPingCheck,
		"tls":     NewTLSCheck,
		"command": NewCommandCheck,
		"metrics": NewMetricsCheck,
	} {
		if err := reg.Register(kind, f); err != nil {
			panic(err)
		}
	}
	return reg
}

// decode maps a raw option map onto a typed option struct. Weak typing and
// the duration hook keep YAML-sourced values ("5s", port numbers as strings)
// ergonomic for operators.
func decode(input map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		Result:           target,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
