package form

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/core/common/validation"
	"github.com/frahmantamala/ssoflow/internal/core/predicate"
)

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type TemplateDTO struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     *bool  `json:"enabled"`
}

func (d TemplateDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("name", d.Name).Required().MaxLength(128)
	return v.Validate()
}

type FieldDTO struct {
	Name          string          `json:"name"`
	Label         string          `json:"label"`
	FieldType     string          `json:"field_type"`
	Required      bool            `json:"required"`
	SortOrder     int             `json:"sort_order"`
	Options       string          `json:"options"`
	DefaultValue  string          `json:"default_value"`
	Placeholder   string          `json:"placeholder"`
	ShowCondition json.RawMessage `json:"show_condition"`
}

type FieldsDTO struct {
	Fields []FieldDTO `json:"fields"`
}

// Validate checks every field on its own and then the set: unique names and show conditions that point at a
// sibling field with a visibility operator.
func (d FieldsDTO) Validate() error {
	var errs internal.ValidationErrors
	names := make(map[string]bool, len(d.Fields))
	for i, f := range d.Fields {
		prefix := fmt.Sprintf("fields[%d]", i)
		name := strings.TrimSpace(f.Name)
		switch {
		case name == "":
			errs.Add(prefix+".name", "name is required", string(internal.ErrCodeValidationFailed))
		case !fieldNamePattern.MatchString(name):
			errs.Add(prefix+".name", "name must start with a letter or underscore and contain only letters, digits and underscores", string(internal.ErrCodeValidationFailed))
		case names[name]:
			errs.Add(prefix+".name", fmt.Sprintf("duplicate field name %q", name), string(internal.ErrCodeDuplicate))
		}
		names[name] = true

		if strings.TrimSpace(f.Label) == "" {
			errs.Add(prefix+".label", "label is required", string(internal.ErrCodeValidationFailed))
		}
		if !isFieldType(f.FieldType) {
			errs.Add(prefix+".field_type", "field_type must be one of: "+strings.Join(FieldTypes, ", "), string(internal.ErrCodeValidationFailed))
			continue
		}
		if (f.FieldType == TypeSelect || f.FieldType == TypeMultiselect) && len(ParseOptions(f.Options)) == 0 {
			errs.Add(prefix+".options", "options are required for select fields", string(internal.ErrCodeValidationFailed))
		}
		if f.DefaultValue != "" {
			field := &Field{Name: name, FieldType: f.FieldType, Options: f.Options}
			if _, err := normalize(field, f.DefaultValue); err != nil {
				errs.Add(prefix+".default_value", err.Error(), string(internal.ErrCodeValidationFailed))
			}
		}
	}

	for i, f := range d.Fields {
		cond, err := predicate.Parse(f.ShowCondition)
		prefix := fmt.Sprintf("fields[%d].show_condition", i)
		switch {
		case err != nil:
			errs.Add(prefix, err.Error(), string(internal.ErrCodeValidationFailed))
		case cond == nil:
		case !cond.IsVisibilityOperator():
			errs.Add(prefix, "operator must be one of ==, !=, in, notIn", string(internal.ErrCodeValidationFailed))
		case cond.Field == strings.TrimSpace(f.Name):
			errs.Add(prefix, "a field cannot depend on itself", string(internal.ErrCodeValidationFailed))
		case !names[cond.Field]:
			errs.Add(prefix, fmt.Sprintf("unknown field %q", cond.Field), string(internal.ErrCodeValidationFailed))
		}
	}
	return errs.AsError()
}

func isFieldType(t string) bool {
	for _, ft := range FieldTypes {
		if ft == t {
			return true
		}
	}
	return false
}

// ParseOptions splits newline delimited choices, dropping blank lines.
func ParseOptions(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if opt := strings.TrimSpace(line); opt != "" {
			out = append(out, opt)
		}
	}
	return out
}
