package form

import (
	"context"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/core/datamodel/workflow"
)

type (
	Template = workflow.FormTemplate
	Field    = workflow.FormField
)

const (
	TypeText        = "text"
	TypeTextarea    = "textarea"
	TypeNumber      = "number"
	TypeMoney       = "money"
	TypeDate        = "date"
	TypeDatetime    = "datetime"
	TypeSelect      = "select"
	TypeMultiselect = "multiselect"
	TypeUser        = "user"
	TypeAttachment  = "attachment"
)

var FieldTypes = []string{
	TypeText, TypeTextarea, TypeNumber, TypeMoney, TypeDate,
	TypeDatetime, TypeSelect, TypeMultiselect, TypeUser, TypeAttachment,
}

var (
	ErrTemplateNotFound = internal.NewNotFoundError("Form template not found", internal.ErrCodeNotFound)
	ErrTemplateInUse    = internal.NewConflictError("Form template is still bound to a ticket type", internal.ErrCodeInUse)
	ErrDuplicate        = internal.NewConflictError("A form template with the same name already exists", internal.ErrCodeDuplicate)
)

type TemplateFilter struct {
	internal.PageRequest
	Enabled *bool
}

// TemplateDetail is a template together with its ordered fields.
type TemplateDetail struct {
	*Template
	Fields []*Field `json:"fields"`
}

type Repository interface {
	CreateTemplate(ctx context.Context, t *Template) error
	UpdateTemplate(ctx context.Context, t *Template) error
	GetTemplate(ctx context.Context, id int64) (*Template, error)
	ListTemplates(ctx context.Context, f TemplateFilter) ([]*Template, int64, error)
	DeleteTemplate(ctx context.Context, id int64) error
	CountTemplateUsage(ctx context.Context, id int64) (int64, error)

	ListFields(ctx context.Context, templateID int64) ([]*Field, error)
	ReplaceFields(ctx context.Context, templateID int64, fields []*Field) error
}
