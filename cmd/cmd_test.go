package cmd

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("loadConfig", func() {
	BeforeEach(func() {
		GinkgoT().Setenv("APP_ENV", "")
		GinkgoT().Setenv("DOCKER_ENV", "")
	})

	copyExample := func() string {
		body, err := os.ReadFile("../config.yml.example")
		Expect(err).NotTo(HaveOccurred())
		dir := GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, "config.yml"), body, 0o600)).To(Succeed())
		return dir
	}

	It("reads config.yml from a directory", func() {
		cfg, err := loadConfig(copyExample())

		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Server.Port).To(Equal(8080))
		Expect(cfg.SSO.CodeTTL).To(Equal(5 * time.Minute))
		Expect(cfg.Notify.Enabled).To(BeTrue())
	})

	It("accepts a file path and lets ENV_ variables override keys", func() {
		GinkgoT().Setenv("ENV_DATABASE_SOURCE", "postgres://override/ssoflow")

		cfg, err := loadConfig(filepath.Join(copyExample(), "config.yml"))

		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Database.Source).To(Equal("postgres://override/ssoflow"))
	})

	It("fails on a missing file", func() {
		_, err := loadConfig(GinkgoT().TempDir())
		Expect(err).To(MatchError(ContainSubstring("read config")))
	})
})
