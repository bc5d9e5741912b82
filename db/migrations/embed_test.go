package migrations_test

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/frahmantamala/ssoflow/db/migrations"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestMigrations(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Migrations Suite")
}

var _ = Describe("embedded migrations", func() {
	It("carries goose up and down sections in every file", func() {
		files, err := fs.Glob(migrations.FS, "*.sql")
		Expect(err).NotTo(HaveOccurred())
		Expect(files).NotTo(BeEmpty())

		for _, name := range files {
			body, err := fs.ReadFile(migrations.FS, name)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("-- +goose Up"), name)
			Expect(string(body)).To(ContainSubstring("-- +goose Down"), name)
		}
	})

	It("creates every table the application maps", func() {
		var all strings.Builder
		files, _ := fs.Glob(migrations.FS, "*.sql")
		for _, name := range files {
			body, _ := fs.ReadFile(migrations.FS, name)
			all.Write(body)
		}

		for _, table := range []string{
			"tenants", "users", "groups", "user_groups", "sessions",
			"oidc_clients", "oidc_authorization_codes", "oidc_authorized_apps", "oidc_refresh_tokens",
			"roles", "permissions", "menus", "role_permissions", "role_menus", "user_roles",
			"form_templates", "form_fields", "approval_flows", "flow_nodes", "ticket_types", "tickets",
			"ticket_field_data", "ticket_attachments", "ticket_comments", "approval_records",
			"ticket_node_approvers", "ticket_cc", "system_configs",
		} {
			Expect(all.String()).To(ContainSubstring("CREATE TABLE IF NOT EXISTS "+table+" ("), table)
		}
	})
})
