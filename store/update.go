package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// OpKind identifies a field-level update operator.
type OpKind int

const (
	// OpSet assigns a value to an attribute.
	OpSet OpKind = iota

	// OpRemove deletes an attribute from the item.
	OpRemove

	// OpAdd adds a number to a numeric attribute.
	OpAdd

	// OpSetAdd adds members to a string-set attribute.
	OpSetAdd

	// OpSetDelete removes members from a string-set attribute.
	OpSetDelete
)

// Op is one field-level operation within an Update.
type Op struct {
	Kind  OpKind
	Name  string
	Value any
}

// Set assigns value to the named attribute.
func Set(name string, value any) Op {
	return Op{Kind: OpSet, Name: name, Value: value}
}

// Remove deletes the named attribute.
func Remove(name string) Op {
	return Op{Kind: OpRemove, Name: name}
}

// Add adds delta to the named numeric attribute, treating an absent attribute
// as zero.
func Add(name string, delta int64) Op {
	return Op{Kind: OpAdd, Name: name, Value: delta}
}

// SetAdd adds members to the named string-set attribute.
func SetAdd(name string, members ...string) Op {
	return Op{Kind: OpSetAdd, Name: name, Value: members}
}

// SetDelete removes members from the named string-set attribute.
func SetDelete(name string, members ...string) Op {
	return Op{Kind: OpSetDelete, Name: name, Value: members}
}

// Update applies the given field operations to one item and returns the
// attributes as they stand after the write. A rejected condition surfaces as
// ErrConditionFailed.
func (s *Store) Update(ctx context.Context, table string, key Item, ops []Op, cond *Condition) (Item, error) {
	if len(ops) == 0 {
		return nil, errors.New("arbor: update requires at least one operation")
	}

	keyAttr, err := attributevalue.MarshalMap(map[string]any(key))
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}

	expr, names, values, err := buildUpdateExpression(ops)
	if err != nil {
		return nil, err
	}

	input := &ddb.UpdateItemInput{
		TableName:                aws.String(table),
		Key:                      keyAttr,
		UpdateExpression:         aws.String(expr),
		ExpressionAttributeNames: names,
		ReturnValues:             types.ReturnValueAllNew,
	}
	if len(values) > 0 {
		input.ExpressionAttributeValues = values
	}
	if cond != nil {
		condExpr, condNames, condValues, err := cond.render()
		if err != nil {
			return nil, err
		}
		input.ConditionExpression = aws.String(condExpr)
		input.ExpressionAttributeNames = mergeExprNames(names, condNames)
		input.ExpressionAttributeValues = mergeExprValues(values, condValues)
	}

	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, ErrConditionFailed
		}
		return nil, err
	}

	return unmarshalItem(out.Attributes)
}

// buildUpdateExpression renders ops into SET/REMOVE/ADD/DELETE clauses with
// positional name and value placeholders.
func buildUpdateExpression(ops []Op) (string, map[string]string, map[string]types.AttributeValue, error) {
	var setClauses, removeClauses, addClauses, deleteClauses []string
	names := map[string]string{}
	values := map[string]types.AttributeValue{}

	for i, op := range ops {
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		names[nameKey] = op.Name

		switch op.Kind {
		case OpSet:
			av, err := attributevalue.Marshal(op.Value)
			if err != nil {
				return "", nil, nil, fmt.Errorf("marshal %s: %w", op.Name, err)
			}
			values[valueKey] = av
			setClauses = append(setClauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
		case OpRemove:
			removeClauses = append(removeClauses, nameKey)
		case OpAdd:
			av, err := attributevalue.Marshal(op.Value)
			if err != nil {
				return "", nil, nil, fmt.Errorf("marshal %s: %w", op.Name, err)
			}
			values[valueKey] = av
			addClauses = append(addClauses, fmt.Sprintf("%s %s", nameKey, valueKey))
		case OpSetAdd, OpSetDelete:
			members, ok := op.Value.([]string)
			if !ok || len(members) == 0 {
				return "", nil, nil, fmt.Errorf("arbor: set operation on %s requires string members", op.Name)
			}
			values[valueKey] = &types.AttributeValueMemberSS{Value: members}
			clause := fmt.Sprintf("%s %s", nameKey, valueKey)
			if op.Kind == OpSetAdd {
				addClauses = append(addClauses, clause)
			} else {
				deleteClauses = append(deleteClauses, clause)
			}
		default:
			return "", nil, nil, fmt.Errorf("arbor: unknown op kind %d", op.Kind)
		}
	}

	expr := ""
	if len(setClauses) > 0 {
		expr += "SET " + joinStrings(setClauses, ", ")
	}
	if len(removeClauses) > 0 {
		if expr != "" {
			expr += " "
		}
		expr += "REMOVE " + joinStrings(removeClauses, ", ")
	}
	if len(addClauses) > 0 {
		if expr != "" {
			expr += " "
		}
		expr += "ADD " + joinStrings(addClauses, ", ")
	}
	if len(deleteClauses) > 0 {
		if expr != "" {
			expr += " "
		}
		expr += "DELETE " + joinStrings(deleteClauses, ", ")
	}
	return expr, names, values, nil
}

// mergeExprNames merges multiple expression attribute name maps.
func mergeExprNames(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// mergeExprValues merges multiple expression attribute value maps.
func mergeExprValues(maps ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// joinStrings joins strings with a separator (avoiding strings package import).
func joinStrings(strs []string, sep string) string {
	if len(strs) == 0 {
		return ""
	}
	result := strs[0]
	for _, s := range strs[1:] {
		result += sep + s
	}
	return result
}
