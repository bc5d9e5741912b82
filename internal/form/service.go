package form

import (
	"context"
	"log/slog"
	"strings"

	"gorm.io/datatypes"
)

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

func (s *Service) CreateTemplate(ctx context.Context, dto TemplateDTO) (*Template, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	t := &Template{Name: strings.TrimSpace(dto.Name), Description: dto.Description, Enabled: true}
	if dto.Enabled != nil {
		t.Enabled = *dto.Enabled
	}
	if err := s.repo.CreateTemplate(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info("form template created", "template_id", t.ID, "name", t.Name)
	return t, nil
}

func (s *Service) UpdateTemplate(ctx context.Context, id int64, dto TemplateDTO) (*Template, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	t, err := s.repo.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Name = strings.TrimSpace(dto.Name)
	t.Description = dto.Description
	if dto.Enabled != nil {
		t.Enabled = *dto.Enabled
	}
	if err := s.repo.UpdateTemplate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) GetTemplate(ctx context.Context, id int64) (*TemplateDetail, error) {
	t, err := s.repo.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	fields, err := s.repo.ListFields(ctx, id)
	if err != nil {
		return nil, err
	}
	return &TemplateDetail{Template: t, Fields: Sorted(fields)}, nil
}

func (s *Service) ListTemplates(ctx context.Context, f TemplateFilter) ([]*Template, int64, error) {
	return s.repo.ListTemplates(ctx, f)
}

// DeleteTemplate refuses while a ticket type still binds the template. Tickets keep their own field snapshot.
func (s *Service) DeleteTemplate(ctx context.Context, id int64) error {
	if _, err := s.repo.GetTemplate(ctx, id); err != nil {
		return err
	}
	n, err := s.repo.CountTemplateUsage(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrTemplateInUse
	}
	if err := s.repo.DeleteTemplate(ctx, id); err != nil {
		return err
	}
	s.logger.Info("form template deleted", "template_id", id)
	return nil
}

func (s *Service) GetFields(ctx context.Context, templateID int64) ([]*Field, error) {
	if _, err := s.repo.GetTemplate(ctx, templateID); err != nil {
		return nil, err
	}
	fields, err := s.repo.ListFields(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return Sorted(fields), nil
}

// ReplaceFields swaps the whole field set of a template in one transaction.
func (s *Service) ReplaceFields(ctx context.Context, templateID int64, dto FieldsDTO) ([]*Field, error) {
	if _, err := s.repo.GetTemplate(ctx, templateID); err != nil {
		return nil, err
	}
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	fields := make([]*Field, 0, len(dto.Fields))
	for i, d := range dto.Fields {
		f := &Field{
			TemplateID:   templateID,
			Name:         strings.TrimSpace(d.Name),
			Label:        strings.TrimSpace(d.Label),
			FieldType:    d.FieldType,
			Required:     d.Required,
			SortOrder:    d.SortOrder,
			Options:      strings.Join(ParseOptions(d.Options), "\n"),
			DefaultValue: d.DefaultValue,
			Placeholder:  d.Placeholder,
		}
		if f.SortOrder == 0 {
			f.SortOrder = i + 1
		}
		if len(d.ShowCondition) > 0 && string(d.ShowCondition) != "null" {
			f.ShowCondition = datatypes.JSON(d.ShowCondition)
		}
		fields = append(fields, f)
	}
	if err := s.repo.ReplaceFields(ctx, templateID, fields); err != nil {
		return nil, err
	}
	s.logger.Info("form fields replaced", "template_id", templateID, "count", len(fields))
	return Sorted(fields), nil
}

// ValidateSubmission validates values against the template's current fields.
func (s *Service) ValidateSubmission(ctx context.Context, templateID int64, values map[string]any) (*Submission, error) {
	fields, err := s.repo.ListFields(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return Validate(fields, values)
}

// ValidateDraft is ValidateSubmission without required checks.
func (s *Service) ValidateDraft(ctx context.Context, templateID int64, values map[string]any) (*Submission, error) {
	fields, err := s.repo.ListFields(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return ValidateDraft(fields, values)
}
