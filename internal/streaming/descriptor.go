// Package streaming implements the incremental structured-data pipeline that
// turns a growing model-output buffer into discrete, validated records.
//
// The pipeline has three parts: a registry of data-type descriptors describing
// where each record kind lives in the parsed payload, a completeness and
// de-duplication engine that decides which array elements are newly ready to
// emit, and a dispatcher that drives the chunk-accumulation loop and event
// emission for one request.
package streaming

import (
	"fmt"

	"github.com/culinara/v2/pkg/errors"
)

// Descriptor describes one supported record kind: where its array lives in the
// parsed payload, which fields make an element complete, which field identifies
// an element, and which fields survive into the emitted record.
type Descriptor struct {
	// Name is the data-type name carried on emitted events.
	Name string

	// Path is the sequence of object keys from the payload root to the record
	// array. Wrapper objects are expressed as extra segments, not special cases.
	Path []string

	// Required lists the fields an element must carry, non-null, to count as
	// complete.
	Required []string

	// MinLength holds per-field minimum lengths for string fields. A required
	// field shorter than its minimum is treated as not yet complete.
	MinLength map[string]int

	// IDField is the field holding the element's stable identifier. Dotted
	// paths reach into nested objects. An element whose identifier is absent
	// falls back to its array index.
	IDField string

	// Retain lists the fields kept in the emitted payload. Absent retained
	// fields are substituted with an empty value rather than failing.
	Retain []string

	// SingleObject marks descriptors whose path resolves to one nested object
	// rather than an array. The object is treated as a one-element array.
	SingleObject bool
}

// Registry is a read-only table of descriptors keyed by data-type name.
// It is built once at startup and shared across requests.
type Registry struct {
	order  []string
	byName map[string]Descriptor
}

// NewRegistry builds a registry from the given descriptors. Only structural
// shape is validated; semantic mistakes surface at lookup or collection time.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if d.Name == "" {
			return nil, fmt.Errorf("descriptor with empty name")
		}
		if len(d.Path) == 0 {
			return nil, fmt.Errorf("descriptor %q: empty path", d.Name)
		}
		if len(d.Required) == 0 {
			return nil, fmt.Errorf("descriptor %q: no required fields", d.Name)
		}
		if d.IDField == "" {
			return nil, fmt.Errorf("descriptor %q: no identifier field", d.Name)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("descriptor %q: duplicate name", d.Name)
		}
		r.byName[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	return r, nil
}

// MustNewRegistry is NewRegistry for static tables known correct at compile time.
func MustNewRegistry(descriptors ...Descriptor) *Registry {
	r, err := NewRegistry(descriptors...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, errors.NewDataTypeNotFoundError(name)
	}
	return d, nil
}

// Descriptors returns all descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// DefaultRegistry returns the descriptor table for the recipe creation wizard.
// Adding a record kind means adding one entry here; the engine and dispatcher
// need no changes.
func DefaultRegistry() *Registry {
	return MustNewRegistry(
		Descriptor{
			Name:     "causes",
			Path:     []string{"data", "potential_causes"},
			Required: []string{"id", "name", "suggestion", "explanation"},
			IDField:  "id",
			Retain:   []string{"id", "name", "suggestion", "explanation"},
		},
		Descriptor{
			Name:     "ingredients",
			Path:     []string{"data", "ingredients"},
			Required: []string{"id", "name", "amount", "unit"},
			IDField:  "id",
			Retain:   []string{"id", "name", "amount", "unit", "notes"},
		},
		Descriptor{
			Name:      "steps",
			Path:      []string{"data", "steps"},
			Required:  []string{"id", "description"},
			MinLength: map[string]int{"description": 10},
			IDField:   "id",
			Retain:    []string{"id", "description", "duration_minutes"},
		},
		Descriptor{
			Name:     "equipment",
			Path:     []string{"data", "equipment"},
			Required: []string{"id", "name"},
			IDField:  "id",
			Retain:   []string{"id", "name", "optional"},
		},
		// The suggestion list is nested one level inside a singular wrapper
		// object; the extra path segment expresses that.
		Descriptor{
			Name:     "recipe_suggestions",
			Path:     []string{"data", "recipe", "suggestions"},
			Required: []string{"id", "title", "summary"},
			IDField:  "id",
			Retain:   []string{"id", "title", "summary", "cuisine"},
		},
		Descriptor{
			Name:         "summary",
			Path:         []string{"data", "summary"},
			Required:     []string{"title", "description"},
			MinLength:    map[string]int{"description": 20},
			IDField:      "title",
			Retain:       []string{"title", "description", "servings"},
			SingleObject: true,
		},
	)
}
