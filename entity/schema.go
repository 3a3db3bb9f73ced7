package entity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jacentio/arbor/store"
)

// ErrValidation is wrapped by every schema validation failure.
var ErrValidation = errors.New("arbor: validation failed")

// Attribute describes one field of an entity type.
type Attribute struct {
	// Name is the stored attribute name.
	Name string

	// Required attributes must be present at write time; their absence is a
	// validation error, never a silent coercion.
	Required bool

	// Default is applied when the attribute is absent. Required attributes
	// with a default are filled in before the required check runs.
	Default any
}

// Schema is the compile-time descriptor for one logical entity type. A Schema
// is pure configuration: applying it performs no I/O and is deterministic for
// a given input.
type Schema struct {
	// Name is the entity type name. It doubles as the hierarchy root token
	// for tree-structured entities.
	Name string

	// IDPrefix prefixes generated entity identifiers (e.g. "TASK" yields
	// "TASK_<uuid>").
	IDPrefix string

	// Attributes are the type-specific fields beyond the common base record.
	Attributes []Attribute

	// AlternateKey derives the secondary lookup attribute from the entity
	// properties, or returns "" when the entity has none.
	AlternateKey func(props map[string]any) string
}

// NewID generates a prefixed entity identifier.
func (s *Schema) NewID() string {
	prefix := s.IDPrefix
	if prefix == "" {
		prefix = strings.ToUpper(s.Name)
	}
	return prefix + "_" + uuid.NewString()
}

// OwnsID reports whether an entity identifier carries this schema's prefix.
func (s *Schema) OwnsID(entityID string) bool {
	prefix := s.IDPrefix
	if prefix == "" {
		prefix = strings.ToUpper(s.Name)
	}
	return strings.HasPrefix(entityID, prefix+"_")
}

// Apply translates logical properties into the physical record layout:
// defaults filled in, required attributes enforced, the type discriminator
// stamped, and the alternate key derived. The input map is not mutated.
func (s *Schema) Apply(props map[string]any) (store.Item, error) {
	item := make(store.Item, len(props)+4)
	for k, v := range props {
		item[k] = v
	}

	for _, attr := range s.Attributes {
		if _, ok := item[attr.Name]; !ok && attr.Default != nil {
			item[attr.Name] = attr.Default
		}
	}
	for _, attr := range s.Attributes {
		if !attr.Required {
			continue
		}
		if v, ok := item[attr.Name]; !ok || v == nil || v == "" {
			return nil, fmt.Errorf("%w: missing required field %q for %s", ErrValidation, attr.Name, s.Name)
		}
	}

	item[FieldItemType] = s.Name
	if s.AlternateKey != nil {
		if ak := s.AlternateKey(props); ak != "" {
			item[store.AttrAlternateKey] = ak
		}
	}

	return item, nil
}

// StatusFilter matches records in the given soft-delete state.
func StatusFilter(status Status) store.Filter {
	return store.Filter{Attr: FieldStatus, Eq: string(status)}
}

// TypeFilter matches records of the given entity type.
func TypeFilter(entityType string) store.Filter {
	return store.Filter{Attr: FieldItemType, Eq: entityType}
}
