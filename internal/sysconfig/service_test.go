package sysconfig_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/core/datamodel/sqlitetest"
	"github.com/frahmantamala/ssoflow/internal/sysconfig"
	sysconfigPostgres "github.com/frahmantamala/ssoflow/internal/sysconfig/postgres"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSysconfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Sysconfig Suite")
}

var _ = Describe("Sysconfig Service", func() {
	var (
		ctx     context.Context
		service *sysconfig.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		db, err := sqlitetest.Open(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = sqlitetest.Close(db) })

		slogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		service = sysconfig.NewService(sysconfigPostgres.NewConfigRepository(db), slogger)
	})

	It("masks secrets on read and keeps them when the mask is written back", func() {
		// Given
		_, err := service.Put(ctx, sysconfig.KeyEmail, json.RawMessage(`{
			"enabled": true, "host": "smtp.example.com", "port": 587,
			"username": "bot", "password": "hunter2", "from": "bot@example.com"
		}`), 1)
		Expect(err).NotTo(HaveOccurred())

		// When
		doc, err := service.Get(ctx, sysconfig.KeyEmail)

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(doc).To(HaveKeyWithValue("password", sysconfig.Mask))
		Expect(doc).To(HaveKeyWithValue("host", "smtp.example.com"))

		doc["port"] = 465
		raw, err := json.Marshal(doc)
		Expect(err).NotTo(HaveOccurred())
		_, err = service.Put(ctx, sysconfig.KeyEmail, raw, 1)
		Expect(err).NotTo(HaveOccurred())

		settings, err := service.Email(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(settings.Password).To(Equal("hunter2"))
		Expect(settings.Port).To(Equal(465))
	})

	It("masks nested webhook secrets", func() {
		_, err := service.Put(ctx, sysconfig.KeyNotify, json.RawMessage(`{
			"channels": ["dingtalk"],
			"dingtalk": {"enabled": true, "webhook_url": "https://oapi.example.com/robot/send?access_token=x", "secret": "SEC1"}
		}`), 1)
		Expect(err).NotTo(HaveOccurred())

		doc, err := service.Get(ctx, sysconfig.KeyNotify)
		Expect(err).NotTo(HaveOccurred())
		Expect(doc["dingtalk"]).To(HaveKeyWithValue("secret", sysconfig.Mask))

		settings, err := service.Notify(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(settings.DingTalk.Secret).To(Equal("SEC1"))
	})

	DescribeTable("validates typed keys",
		func(key, body string) {
			_, err := service.Put(ctx, key, json.RawMessage(body), 1)
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(internal.ErrorTypeValidation))
		},
		Entry("enabled email without host", sysconfig.KeyEmail, `{"enabled": true, "port": 25, "from": "a@b.c"}`),
		Entry("unknown email field", sysconfig.KeyEmail, `{"hots": "typo"}`),
		Entry("relative webhook", sysconfig.KeyNotify, `{"wechat": {"webhook_url": "/hook"}}`),
		Entry("unknown channel", sysconfig.KeyNotify, `{"channels": ["pager"]}`),
		Entry("unknown storage provider", sysconfig.KeyStorage, `{"provider": "ftp"}`),
		Entry("code ttl too long", sysconfig.KeyOIDC, `{"code_ttl": 3600}`),
		Entry("not an object", "custom", `[1, 2]`),
	)

	It("returns zero settings for a typed key that was never written", func() {
		doc, err := service.Get(ctx, sysconfig.KeyStorage)
		Expect(err).NotTo(HaveOccurred())
		Expect(doc).To(HaveKeyWithValue("provider", ""))

		_, err = service.Get(ctx, "missing")
		Expect(err).To(MatchError(sysconfig.ErrNotFound))
	})

	It("stores free-form keys and lists everything", func() {
		_, err := service.Put(ctx, "branding", json.RawMessage(`{"title": "Helpdesk", "api_secret": "s"}`), 2)
		Expect(err).NotTo(HaveOccurred())
		_, err = service.Put(ctx, "Bad Key", json.RawMessage(`{}`), 2)
		Expect(err).To(MatchError(sysconfig.ErrInvalidKey))

		all, err := service.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveKey("branding"))
		Expect(all["branding"]).To(HaveKeyWithValue("api_secret", sysconfig.Mask))
	})
})
