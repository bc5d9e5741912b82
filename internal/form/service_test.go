package form_test

import (
	"context"
	"log/slog"
	"os"

	"github.com/frahmantamala/ssoflow/internal/core/datamodel/sqlitetest"
	"github.com/frahmantamala/ssoflow/internal/core/datamodel/workflow"
	"github.com/frahmantamala/ssoflow/internal/form"
	formPostgres "github.com/frahmantamala/ssoflow/internal/form/postgres"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("Form Service", func() {
	var (
		ctx      context.Context
		db       *gorm.DB
		service  *form.Service
		template *form.Template
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		db, err = sqlitetest.Open(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = sqlitetest.Close(db) })

		slogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		service = form.NewService(formPostgres.NewFormRepository(db), slogger)

		template, err = service.CreateTemplate(ctx, form.TemplateDTO{Name: "Expense claim"})
		Expect(err).NotTo(HaveOccurred())
		Expect(template.Enabled).To(BeTrue())
	})

	It("replaces the field set and returns it ordered", func() {
		// Given
		_, err := service.ReplaceFields(ctx, template.ID, form.FieldsDTO{Fields: []form.FieldDTO{
			{Name: "old", Label: "Old", FieldType: form.TypeText},
		}})
		Expect(err).NotTo(HaveOccurred())

		// When
		fields, err := service.ReplaceFields(ctx, template.ID, form.FieldsDTO{Fields: []form.FieldDTO{
			{Name: "reason", Label: "Reason", FieldType: form.TypeTextarea, SortOrder: 20},
			{Name: "amount", Label: "Amount", FieldType: form.TypeMoney, Required: true, SortOrder: 10},
		}})

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(fields).To(HaveLen(2))
		detail, err := service.GetTemplate(ctx, template.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(detail.Fields).To(HaveLen(2))
		Expect(detail.Fields[0].Name).To(Equal("amount"))
		Expect(detail.Fields[1].Name).To(Equal("reason"))
	})

	It("leaves the old fields untouched when the new set is invalid", func() {
		_, err := service.ReplaceFields(ctx, template.ID, form.FieldsDTO{Fields: []form.FieldDTO{
			{Name: "amount", Label: "Amount", FieldType: form.TypeMoney},
		}})
		Expect(err).NotTo(HaveOccurred())

		_, err = service.ReplaceFields(ctx, template.ID, form.FieldsDTO{Fields: []form.FieldDTO{
			{Name: "amount", Label: "Amount", FieldType: "bogus"},
		}})
		Expect(err).To(HaveOccurred())

		fields, err := service.GetFields(ctx, template.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(fields).To(HaveLen(1))
		Expect(fields[0].FieldType).To(Equal(form.TypeMoney))
	})

	It("validates a submission against the stored fields", func() {
		_, err := service.ReplaceFields(ctx, template.ID, form.FieldsDTO{Fields: []form.FieldDTO{
			{Name: "amount", Label: "Amount", FieldType: form.TypeMoney, Required: true},
		}})
		Expect(err).NotTo(HaveOccurred())

		_, err = service.ValidateSubmission(ctx, template.ID, map[string]any{})
		Expect(fieldErrors(err)).To(ConsistOf("amount"))

		sub, err := service.ValidateSubmission(ctx, template.ID, map[string]any{"amount": 99.9})
		Expect(err).NotTo(HaveOccurred())
		Expect(sub.Encode("amount")).To(Equal("99.9"))
	})

	It("refuses to delete a template bound to a ticket type", func() {
		Expect(db.Create(&workflow.TicketType{Name: "Claim", TemplateID: &template.ID, Enabled: true}).Error).To(Succeed())
		Expect(service.DeleteTemplate(ctx, template.ID)).To(MatchError(form.ErrTemplateInUse))
	})

	It("deletes an unused template with its fields", func() {
		_, err := service.ReplaceFields(ctx, template.ID, form.FieldsDTO{Fields: []form.FieldDTO{
			{Name: "amount", Label: "Amount", FieldType: form.TypeMoney},
		}})
		Expect(err).NotTo(HaveOccurred())

		Expect(service.DeleteTemplate(ctx, template.ID)).To(Succeed())
		_, err = service.GetTemplate(ctx, template.ID)
		Expect(err).To(MatchError(form.ErrTemplateNotFound))
		var n int64
		Expect(db.Model(&workflow.FormField{}).Count(&n).Error).To(Succeed())
		Expect(n).To(BeZero())
	})

	It("filters listings by keyword and enabled flag", func() {
		disabled := false
		_, err := service.CreateTemplate(ctx, form.TemplateDTO{Name: "Leave request", Enabled: &disabled})
		Expect(err).NotTo(HaveOccurred())

		list, total, err := service.ListTemplates(ctx, form.TemplateFilter{Enabled: &disabled})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(BeEquivalentTo(1))
		Expect(list[0].Name).To(Equal("Leave request"))

		list, _, err = service.ListTemplates(ctx, form.TemplateFilter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(2))
	})
})
