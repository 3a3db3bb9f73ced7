package store

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// CondKind identifies the shape of a Condition.
type CondKind string

const (
	CondExists    CondKind = "exists"
	CondNotExists CondKind = "not_exists"
	CondEq        CondKind = "eq"
	CondContains  CondKind = "contains"
)

// Condition is a declarative predicate gating a write. It is rendered to a
// DynamoDB condition expression at call time; keeping the structured form
// lets fakes evaluate it without parsing expression strings.
type Condition struct {
	Kind    CondKind
	Name    string
	Value   any
	Negated bool
}

// AttributeExists gates a write on the named attribute being present.
func AttributeExists(name string) *Condition {
	return &Condition{Kind: CondExists, Name: name}
}

// AttributeNotExists gates a write on the named attribute being absent.
func AttributeNotExists(name string) *Condition {
	return &Condition{Kind: CondNotExists, Name: name}
}

// Eq gates a write on the named attribute equalling value.
func Eq(name string, value any) *Condition {
	return &Condition{Kind: CondEq, Name: name, Value: value}
}

// Contains gates a write on the named attribute containing value.
func Contains(name string, value any) *Condition {
	return &Condition{Kind: CondContains, Name: name, Value: value}
}

// Not negates a condition.
func Not(c *Condition) *Condition {
	neg := *c
	neg.Negated = !c.Negated
	return &neg
}

// render produces the condition expression with its attribute names and
// values. Placeholders are suffixed with "_c" to avoid colliding with update
// expression placeholders.
func (c *Condition) render() (string, map[string]string, map[string]types.AttributeValue, error) {
	names := map[string]string{"#n_c": c.Name}
	values := map[string]types.AttributeValue{}

	var expr string
	switch c.Kind {
	case CondExists:
		expr = "attribute_exists(#n_c)"
	case CondNotExists:
		expr = "attribute_not_exists(#n_c)"
	case CondEq:
		av, err := attributevalue.Marshal(c.Value)
		if err != nil {
			return "", nil, nil, fmt.Errorf("marshal condition value: %w", err)
		}
		values[":v_c"] = av
		expr = "#n_c = :v_c"
	case CondContains:
		av, err := attributevalue.Marshal(c.Value)
		if err != nil {
			return "", nil, nil, fmt.Errorf("marshal condition value: %w", err)
		}
		values[":v_c"] = av
		expr = "contains(#n_c, :v_c)"
	default:
		return "", nil, nil, fmt.Errorf("arbor: unknown condition kind %q", c.Kind)
	}

	if c.Negated {
		expr = "NOT (" + expr + ")"
	}
	return expr, names, values, nil
}
