// Package predicate parses and evaluates the {field, operator, value} expressions stored on form fields
// (visibility) and on condition nodes of approval flows (routing).
package predicate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Operator string

const (
	OpEq    Operator = "=="
	OpNe    Operator = "!="
	OpGt    Operator = ">"
	OpLt    Operator = "<"
	OpGte   Operator = ">="
	OpLte   Operator = "<="
	OpIn    Operator = "in"
	OpNotIn Operator = "notIn"
)

var aliases = map[string]Operator{
	"==": OpEq, "=": OpEq, "eq": OpEq,
	"!=": OpNe, "<>": OpNe, "ne": OpNe,
	">": OpGt, "gt": OpGt,
	"<": OpLt, "lt": OpLt,
	">=": OpGte, "gte": OpGte,
	"<=": OpLte, "lte": OpLte,
	"in": OpIn,
	"notin": OpNotIn, "not_in": OpNotIn, "nin": OpNotIn,
}

var ErrInvalid = errors.New("invalid predicate")

// Predicate compares the value of Field in a value set against Value.
type Predicate struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Parse decodes a stored predicate. An empty document yields (nil, nil): no predicate.
func Parse(raw []byte) (*Predicate, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return nil, nil
	}

	var doc struct {
		Field    string `json:"field"`
		Operator string `json:"operator"`
		Value    any    `json:"value"`
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	op, err := ParseOperator(doc.Operator)
	if err != nil {
		return nil, err
	}
	p := &Predicate{Field: strings.TrimSpace(doc.Field), Operator: op, Value: doc.Value}
	if p.Field == "" {
		return nil, fmt.Errorf("%w: field is required", ErrInvalid)
	}
	return p, nil
}

func ParseOperator(raw string) (Operator, error) {
	op, ok := aliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", fmt.Errorf("%w: unsupported operator %q", ErrInvalid, raw)
	}
	return op, nil
}

// IsVisibilityOperator reports whether the operator is allowed in a form show_condition.
func (p *Predicate) IsVisibilityOperator() bool {
	switch p.Operator {
	case OpEq, OpNe, OpIn, OpNotIn:
		return true
	}
	return false
}

// Evaluate is pure: identical values always produce the same result.
func (p *Predicate) Evaluate(values map[string]any) bool {
	actual := values[p.Field]

	switch p.Operator {
	case OpEq:
		return equal(actual, p.Value)
	case OpNe:
		return !equal(actual, p.Value)
	case OpGt, OpLt, OpGte, OpLte:
		c, ok := compare(actual, p.Value)
		if !ok {
			return false
		}
		switch p.Operator {
		case OpGt:
			return c > 0
		case OpLt:
			return c < 0
		case OpGte:
			return c >= 0
		default:
			return c <= 0
		}
	case OpIn:
		return member(actual, p.Value)
	case OpNotIn:
		return !member(actual, p.Value)
	}
	return false
}

func (p *Predicate) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Field    string   `json:"field"`
		Operator Operator `json:"operator"`
		Value    any      `json:"value"`
	}{p.Field, p.Operator, p.Value})
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return toString(a) == toString(b)
}

func compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	if ta, ok := toTime(a); ok {
		if tb, ok := toTime(b); ok {
			return ta.Compare(tb), true
		}
		return 0, false
	}
	sa, sb := toString(a), toString(b)
	if sa == "" || sb == "" {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

// member reports whether any of actual's values is in set. Only the set operand is split on
// commas; a scalar actual value is one element even when it contains a comma.
func member(actual, set any) bool {
	candidates := toList(set)
	for _, a := range valuesOf(actual) {
		for _, c := range candidates {
			if equal(a, c) {
				return true
			}
		}
	}
	return false
}

func valuesOf(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any, []string:
		return toList(t)
	default:
		return []any{v}
	}
}

func toList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		parts := strings.Split(t, ",")
		out := make([]any, 0, len(parts))
		for _, part := range parts {
			out = append(out, strings.TrimSpace(part))
		}
		return out
	default:
		return []any{v}
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"}

func toTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
