package intent

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed data/intents.yaml
var defaultRegistry []byte

// ErrEmptyRegistry is returned when a registry document defines no intents.
var ErrEmptyRegistry = errors.New("intent: registry is empty")

// Registry is an ordered, read-only collection of intent schemas.
// Order is match precedence.
type Registry struct {
	schemas []Schema
	byName  map[string]int
}

type registryFile struct {
	Intents []Schema `yaml:"intents"`
}

// NewRegistry builds a registry from schemas, in order. Duplicate names are
// rejected; entries without a name are rejected.
func NewRegistry(schemas []Schema) (*Registry, error) {
	if len(schemas) == 0 {
		return nil, ErrEmptyRegistry
	}
	r := &Registry{
		schemas: make([]Schema, 0, len(schemas)),
		byName:  make(map[string]int, len(schemas)),
	}
	for i, s := range schemas {
		s.Name = strings.TrimSpace(strings.ToLower(s.Name))
		if s.Name == "" {
			return nil, fmt.Errorf("intent: entry %d has no name", i)
		}
		if _, dup := r.byName[s.Name]; dup {
			return nil, fmt.Errorf("intent: duplicate intent %q", s.Name)
		}
		r.byName[s.Name] = len(r.schemas)
		r.schemas = append(r.schemas, s)
	}
	return r, nil
}

// Parse decodes a YAML registry document.
func Parse(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("intent: parse registry: %w", err)
	}
	return NewRegistry(f.Intents)
}

// LoadFile reads a YAML registry from disk.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("intent: read registry: %w", err)
	}
	return Parse(data)
}

// Default returns the embedded registry.
func Default() *Registry {
	r, err := Parse(defaultRegistry)
	if err != nil {
		panic(fmt.Sprintf("intent: embedded registry is invalid: %v", err))
	}
	return r
}

// Load returns the registry at path, or the embedded default when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// Schemas returns the schemas in precedence order.
func (r *Registry) Schemas() []Schema {
	out := make([]Schema, len(r.schemas))
	copy(out, r.schemas)
	return out
}

// Lookup returns the schema for name.
func (r *Registry) Lookup(name string) (Schema, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Schema{}, false
	}
	return r.schemas[i], true
}

// Names returns intent names in precedence order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.schemas))
	for i, s := range r.schemas {
		names[i] = s.Name
	}
	return names
}

// Len returns the number of intents.
func (r *Registry) Len() int {
	return len(r.schemas)
}

// RequiresConfirmation reports whether the intent is marked confirmation_required.
func (r *Registry) RequiresConfirmation(name string) bool {
	s, ok := r.Lookup(name)
	return ok && s.ConfirmationRequired
}
