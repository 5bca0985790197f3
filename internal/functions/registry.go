// Package functions holds the registry of callable geospatial functions and
// their implementations. Each function declares a JSON Schema for its
// parameters; the dispatcher validates against it before execution.
package functions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Handler executes one function call. Domain-level failures (missing file,
// upstream API error) are reported inside the returned payload with
// status "failure"; the error return is reserved for faults the caller
// should treat as execution errors.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// ValidationError reports parameters rejected by a function's schema.
type ValidationError struct {
	Function string
	Detail   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameters for %s: %s", e.Function, e.Detail)
}

// Descriptor is one registered function.
type Descriptor struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Handler     Handler

	compiled *jsonschema.Schema
}

// ValidateParams checks the given parameters against the function's schema.
func (d *Descriptor) ValidateParams(params map[string]any) error {
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return &ValidationError{Function: d.Name, Detail: err.Error()}
	}
	// Round-trip through jsonschema.UnmarshalJSON for correct number
	// handling (json.Number), which the validator requires.
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &ValidationError{Function: d.Name, Detail: err.Error()}
	}
	if err := d.compiled.Validate(inst); err != nil {
		return &ValidationError{Function: d.Name, Detail: err.Error()}
	}
	return nil
}

// Summary is the catalog form of a function exposed on the listing endpoint.
type Summary struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Registry maps function names to descriptors. Registration happens at
// startup; lookups are concurrent.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Descriptor
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Descriptor)}
}

// Register compiles the schema and adds the function. Duplicate names and
// invalid schemas are rejected.
func (r *Registry) Register(name, description string, schemaJSON json.RawMessage, h Handler) error {
	if name == "" {
		return fmt.Errorf("register function: empty name")
	}
	if h == nil {
		return fmt.Errorf("register %s: nil handler", name)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return fmt.Errorf("register %s: unmarshal schema: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return fmt.Errorf("register %s: add schema resource: %w", name, err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("register %s: compile schema: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("register %s: already registered", name)
	}
	r.byName[name] = &Descriptor{
		Name:        name,
		Description: description,
		Schema:      schemaJSON,
		Handler:     h,
		compiled:    compiled,
	}
	return nil
}

// Lookup returns the descriptor for a function name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// List returns all registered functions sorted by name.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Summary, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, Summary{Name: d.Name, Description: d.Description, Parameters: d.Schema})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
