package form

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/core/predicate"
)

const dateLayout = "2006-01-02"

var datetimeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04"}

// Submission is a validated set of form values. Fields lists the visible fields in render order; Values holds
// their normalized values keyed by field name.
type Submission struct {
	Fields []*Field
	Values map[string]any
}

// Encode renders the stored representation of a normalized value.
func (s *Submission) Encode(name string) string {
	return EncodeValue(s.Values[name])
}

// Sorted returns fields ordered by sort_order, then id.
func Sorted(fields []*Field) []*Field {
	out := make([]*Field, len(fields))
	copy(out, fields)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Validate checks values against fields. Defaults fill absent values, hidden fields are skipped and left out
// of the result, and every failing field is reported at once.
func Validate(fields []*Field, values map[string]any) (*Submission, error) {
	return validate(fields, values, true)
}

// ValidateDraft is Validate without the required check. Drafts may be saved incomplete.
func ValidateDraft(fields []*Field, values map[string]any) (*Submission, error) {
	return validate(fields, values, false)
}

func validate(fields []*Field, values map[string]any, required bool) (*Submission, error) {
	env := make(map[string]any, len(values))
	for k, v := range values {
		env[k] = v
	}
	ordered := Sorted(fields)
	for _, f := range ordered {
		if isEmpty(env[f.Name]) && f.DefaultValue != "" {
			env[f.Name] = f.DefaultValue
		}
	}

	var errs internal.ValidationErrors
	sub := &Submission{Values: make(map[string]any, len(ordered))}
	for _, f := range ordered {
		if !visible(f, env) {
			delete(env, f.Name)
			continue
		}
		sub.Fields = append(sub.Fields, f)

		raw := env[f.Name]
		if isEmpty(raw) {
			if required && f.Required {
				errs.Add(f.Name, fmt.Sprintf("%s is required", labelOf(f)), string(internal.ErrCodeValidationFailed))
			}
			continue
		}
		v, err := normalize(f, raw)
		if err != nil {
			errs.Add(f.Name, fmt.Sprintf("%s %s", labelOf(f), err.Error()), string(internal.ErrCodeValidationFailed))
			continue
		}
		sub.Values[f.Name] = v
		env[f.Name] = v
	}
	if err := errs.AsError(); err != nil {
		return nil, err
	}
	return sub, nil
}

// visible evaluates the show condition; a malformed condition keeps the field visible.
func visible(f *Field, env map[string]any) bool {
	cond, err := predicate.Parse(f.ShowCondition)
	if err != nil || cond == nil {
		return true
	}
	return cond.Evaluate(env)
}

func labelOf(f *Field) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	}
	return false
}

var (
	errNotText     = errors.New("must be text")
	errNotNumber   = errors.New("must be a number")
	errMoneyScale  = errors.New("must have at most 2 decimal places")
	errNotDate     = errors.New("must be a date formatted as YYYY-MM-DD")
	errNotDatetime = errors.New("must be a date and time")
	errNotOption   = errors.New("must be one of the configured options")
	errNotUser     = errors.New("must be a user id")
	errNotFileList = errors.New("must be a file key or a list of file keys")
)

// normalize coerces raw into the canonical Go value for the field type: string, float64, int64 or []string.
func normalize(f *Field, raw any) (any, error) {
	switch f.FieldType {
	case TypeText, TypeTextarea:
		switch t := raw.(type) {
		case string:
			return t, nil
		case float64, json.Number, bool:
			return EncodeValue(t), nil
		}
		return nil, errNotText
	case TypeNumber:
		n, ok := number(raw)
		if !ok {
			return nil, errNotNumber
		}
		return n, nil
	case TypeMoney:
		n, ok := number(raw)
		if !ok {
			return nil, errNotNumber
		}
		if math.Abs(n*100-math.Round(n*100)) > 1e-6 {
			return nil, errMoneyScale
		}
		return n, nil
	case TypeDate:
		s, ok := raw.(string)
		if !ok {
			return nil, errNotDate
		}
		d, err := time.Parse(dateLayout, strings.TrimSpace(s))
		if err != nil {
			return nil, errNotDate
		}
		return d.Format(dateLayout), nil
	case TypeDatetime:
		s, ok := raw.(string)
		if !ok {
			return nil, errNotDatetime
		}
		for _, layout := range datetimeLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
				return t.Format(time.RFC3339), nil
			}
		}
		return nil, errNotDatetime
	case TypeSelect:
		s, ok := raw.(string)
		if !ok || !containsOption(ParseOptions(f.Options), s) {
			return nil, errNotOption
		}
		return s, nil
	case TypeMultiselect:
		list, ok := stringList(raw)
		if !ok {
			return nil, errNotOption
		}
		options := ParseOptions(f.Options)
		for _, item := range list {
			if !containsOption(options, item) {
				return nil, errNotOption
			}
		}
		return list, nil
	case TypeUser:
		n, ok := number(raw)
		if !ok || n <= 0 || n != math.Trunc(n) {
			return nil, errNotUser
		}
		return int64(n), nil
	case TypeAttachment:
		list, ok := stringList(raw)
		if !ok {
			return nil, errNotFileList
		}
		return list, nil
	}
	return nil, fmt.Errorf("has unknown type %q", f.FieldType)
}

func number(raw any) (float64, bool) {
	switch t := raw.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}

// stringList accepts a list of strings or a comma/newline separated string.
func stringList(raw any) ([]string, bool) {
	switch t := raw.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case string:
		var out []string
		for _, part := range strings.FieldsFunc(t, func(r rune) bool { return r == ',' || r == '\n' }) {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

func containsOption(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}

// EncodeValue renders a normalized value for storage: lists as JSON arrays, numbers without exponent.
func EncodeValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case []string:
		b, _ := json.Marshal(t)
		return string(b)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// DecodeValue is the inverse of EncodeValue for a field type. Values that no longer parse are returned as
// stored.
func DecodeValue(fieldType, raw string) any {
	switch fieldType {
	case TypeNumber, TypeMoney:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case TypeUser:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	case TypeMultiselect, TypeAttachment:
		var list []string
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			return list
		}
	}
	return raw
}
