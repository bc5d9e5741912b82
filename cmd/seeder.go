package cmd

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	idmodel "github.com/frahmantamala/ssoflow/internal/core/datamodel/identity"
	rbacmodel "github.com/frahmantamala/ssoflow/internal/core/datamodel/rbac"
	"github.com/frahmantamala/ssoflow/pkg/hash"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const apiPrefix = "/api/v1"

var (
	clearData         bool
	seedAdminPassword string
	seedAdminUsername string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with the default tenant, administrator and access catalogue",
	Long:  `Seed the default tenant, an administrator account, the admin role, the API permission catalogue and the admin menus.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()

		gdb, err := initGorm(db, cfg.Env)
		if err != nil {
			log.Fatalf("failed to init gorm: %v", err)
		}
		hash.Cost = cfg.Security.BCryptCost

		if clearData {
			if err := clearSeedTables(gdb); err != nil {
				log.Fatalf("failed to clear data: %v", err)
			}
			fmt.Println("Cleared existing data")
		}

		if err := gdb.Transaction(func(tx *gorm.DB) error {
			return seed(tx, cfg.SSO.DefaultTenantID)
		}); err != nil {
			log.Fatalf("seed failed: %v", err)
		}
		fmt.Println("Seeding finished")
	},
}

func init() {
	seedCmd.Flags().BoolVar(&clearData, "clear", false, "truncate seeded tables before seeding")
	seedCmd.Flags().StringVar(&seedAdminUsername, "admin-username", "admin", "administrator login name")
	seedCmd.Flags().StringVar(&seedAdminPassword, "admin-password", "admin123", "administrator password for a newly created account")
}

var seedTables = []string{
	"ticket_cc", "ticket_node_approvers", "approval_records", "ticket_comments", "ticket_attachments",
	"ticket_field_data", "tickets", "ticket_types", "flow_nodes", "approval_flows", "form_fields", "form_templates",
	"oidc_refresh_tokens", "oidc_authorized_apps", "oidc_authorization_codes", "oidc_clients",
	"user_roles", "role_menus", "role_permissions", "menus", "permissions", "roles",
	"sessions", "user_groups", "groups", "users", "tenants", "system_configs",
}

func clearSeedTables(db *gorm.DB) error {
	return db.Exec("TRUNCATE TABLE " + strings.Join(seedTables, ", ") + " RESTART IDENTITY CASCADE").Error
}

func seed(tx *gorm.DB, tenantID int64) error {
	tenant := idmodel.Tenant{ID: tenantID, Name: "Default", Status: idmodel.StatusEnabled}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&tenant).Error; err != nil {
		return fmt.Errorf("tenant: %w", err)
	}
	// keep the sequence ahead of the explicit id
	if err := tx.Exec("SELECT setval(pg_get_serial_sequence('tenants', 'id'), GREATEST((SELECT MAX(id) FROM tenants), 1))").Error; err != nil {
		return fmt.Errorf("tenant sequence: %w", err)
	}

	var admin idmodel.User
	err := tx.Where("tenant_id = ? AND username = ?", tenantID, seedAdminUsername).First(&admin).Error
	switch {
	case err == nil:
		fmt.Println("admin user already exists; will ensure roles", seedAdminUsername)
	case errors.Is(err, gorm.ErrRecordNotFound):
		hashed, err := hash.Password(seedAdminPassword)
		if err != nil {
			return err
		}
		admin = idmodel.User{
			TenantID:     tenantID,
			Username:     seedAdminUsername,
			PasswordHash: hashed,
			DisplayName:  "Administrator",
			Status:       idmodel.StatusEnabled,
		}
		if err := tx.Create(&admin).Error; err != nil {
			return fmt.Errorf("admin user: %w", err)
		}
		fmt.Println("Seeded admin user:", seedAdminUsername)
	default:
		return err
	}

	roles := []rbacmodel.Role{
		{Code: rbacmodel.AdminRoleCode, Name: "Administrator", Description: "full access", Status: idmodel.StatusEnabled},
		{Code: "approver", Name: "Approver", Description: "decides on approval nodes", Status: idmodel.StatusEnabled},
		{Code: "operator", Name: "Operator", Description: "processes approved tickets", Status: idmodel.StatusEnabled},
	}
	for i := range roles {
		if err := tx.Where(rbacmodel.Role{Code: roles[i].Code}).FirstOrCreate(&roles[i]).Error; err != nil {
			return fmt.Errorf("role %s: %w", roles[i].Code, err)
		}
	}
	adminRole := roles[0]

	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rbacmodel.UserRole{UserID: admin.ID, RoleID: adminRole.ID}).Error; err != nil {
		return fmt.Errorf("admin role binding: %w", err)
	}

	perms := permissionCatalog()
	for i := range perms {
		if err := tx.Where(rbacmodel.Permission{Method: perms[i].Method, Path: perms[i].Path}).
			Attrs(rbacmodel.Permission{Name: perms[i].Name, Resource: perms[i].Resource}).
			FirstOrCreate(&perms[i]).Error; err != nil {
			return fmt.Errorf("permission %s %s: %w", perms[i].Method, perms[i].Path, err)
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&rbacmodel.RolePermission{RoleID: adminRole.ID, PermissionID: perms[i].ID}).Error; err != nil {
			return err
		}
	}
	fmt.Printf("Seeded %d API permissions\n", len(perms))

	if err := seedMenus(tx, adminRole.ID); err != nil {
		return err
	}
	return nil
}

// permissionCatalog lists every permission-guarded route with its full path pattern.
func permissionCatalog() []rbacmodel.Permission {
	var out []rbacmodel.Permission
	add := func(resource, method, path, name string) {
		out = append(out, rbacmodel.Permission{Resource: resource, Method: method, Path: apiPrefix + path, Name: name})
	}
	crud := func(resource, path, title string) {
		add(resource, http.MethodGet, path, "List "+title)
		add(resource, http.MethodPost, path, "Create "+title)
		add(resource, http.MethodGet, path+"/{id}", "Get "+title)
		add(resource, http.MethodPut, path+"/{id}", "Update "+title)
		add(resource, http.MethodDelete, path+"/{id}", "Delete "+title)
	}

	crud("tenant", "/sso/tenants", "tenants")
	crud("user", "/sso/users", "users")
	add("user", http.MethodPost, "/sso/users/{id}/reset-password", "Reset user password")
	add("user", http.MethodGet, "/sso/users/{id}/groups", "Get user groups")
	add("user", http.MethodPut, "/sso/users/{id}/groups", "Set user groups")
	crud("group", "/sso/groups", "groups")
	add("group", http.MethodGet, "/sso/groups/{id}/members", "List group members")
	crud("client", "/sso/clients", "OIDC clients")
	add("client", http.MethodPost, "/sso/clients/{id}/secret", "Rotate client secret")

	crud("role", "/roles", "roles")
	add("role", http.MethodGet, "/roles/{id}/permissions", "Get role permissions")
	add("role", http.MethodPut, "/roles/{id}/permissions", "Set role permissions")
	add("role", http.MethodGet, "/roles/{id}/menus", "Get role menus")
	add("role", http.MethodPut, "/roles/{id}/menus", "Set role menus")
	crud("permission", "/permissions", "permissions")
	add("permission", http.MethodGet, "/permissions/resources", "List permission resources")
	crud("permission", "/api-definitions", "API definitions")
	add("permission", http.MethodGet, "/api-definitions/resources", "List API definition resources")
	add("permission", http.MethodGet, "/api-definitions/all", "List all API definitions")
	crud("menu", "/menus", "menus")
	add("menu", http.MethodGet, "/menus/tree", "Menu tree")
	add("user", http.MethodGet, "/users", "List users with roles")
	add("user", http.MethodGet, "/users/{id}/roles", "Get user roles")
	add("user", http.MethodPut, "/users/{id}/roles", "Set user roles")

	crud("form", "/form-templates", "form templates")
	add("form", http.MethodGet, "/form-templates/{id}/fields", "Get form fields")
	add("form", http.MethodPut, "/form-templates/{id}/fields", "Replace form fields")
	crud("flow", "/approval-flows", "approval flows")
	add("flow", http.MethodGet, "/approval-flows/{id}/nodes", "Get flow nodes")
	add("flow", http.MethodPut, "/approval-flows/{id}/nodes", "Save flow nodes")
	add("flow", http.MethodPost, "/approval-flows/{id}/publish", "Publish flow")
	add("ticket_type", http.MethodPost, "/ticket-types", "Create ticket types")
	add("ticket_type", http.MethodPut, "/ticket-types/{id}", "Update ticket types")
	add("ticket_type", http.MethodDelete, "/ticket-types/{id}", "Delete ticket types")

	add("system", http.MethodGet, "/system-config", "List system config")
	for _, key := range []string{"oidc", "email", "storage", "notify"} {
		add("system", http.MethodGet, "/system-config/"+key, "Get "+key+" config")
		add("system", http.MethodPut, "/system-config/"+key, "Update "+key+" config")
	}
	add("system", http.MethodPost, "/system-config/email/test", "Send test email")
	add("system", http.MethodGet, "/system-config/{key}", "Get system config")
	add("system", http.MethodPut, "/system-config/{key}", "Update system config")
	return out
}

type menuSeed struct {
	name, title, path, icon string
	children               []menuSeed
}

var adminMenus = []menuSeed{
	{name: "tickets", title: "Tickets", path: "/tickets", icon: "ticket", children: []menuSeed{
		{name: "my-tickets", title: "My tickets", path: "/tickets/mine"},
		{name: "pending", title: "Pending approval", path: "/tickets/pending"},
		{name: "processed", title: "Processed", path: "/tickets/processed"},
		{name: "cc", title: "Copied to me", path: "/tickets/cc"},
	}},
	{name: "workflow", title: "Workflow", path: "/workflow", icon: "flow", children: []menuSeed{
		{name: "ticket-types", title: "Ticket types", path: "/workflow/ticket-types"},
		{name: "form-templates", title: "Form templates", path: "/workflow/forms"},
		{name: "approval-flows", title: "Approval flows", path: "/workflow/flows"},
	}},
	{name: "sso", title: "Identity", path: "/sso", icon: "user", children: []menuSeed{
		{name: "tenants", title: "Tenants", path: "/sso/tenants"},
		{name: "users", title: "Users", path: "/sso/users"},
		{name: "groups", title: "Groups", path: "/sso/groups"},
		{name: "clients", title: "Applications", path: "/sso/clients"},
	}},
	{name: "access", title: "Access control", path: "/access", icon: "lock", children: []menuSeed{
		{name: "roles", title: "Roles", path: "/access/roles"},
		{name: "permissions", title: "API permissions", path: "/access/permissions"},
		{name: "menus", title: "Menus", path: "/access/menus"},
	}},
	{name: "system", title: "System", path: "/system", icon: "setting"},
}

func seedMenus(tx *gorm.DB, roleID int64) error {
	var walk func(parentID int64, items []menuSeed) error
	walk = func(parentID int64, items []menuSeed) error {
		for i, item := range items {
			m := rbacmodel.Menu{ParentID: parentID, Name: item.name}
			if err := tx.Where(m).Attrs(rbacmodel.Menu{
				Title:     item.title,
				Path:      item.path,
				Icon:      item.icon,
				SortOrder: i + 1,
				Status:    idmodel.StatusEnabled,
			}).FirstOrCreate(&m).Error; err != nil {
				return fmt.Errorf("menu %s: %w", item.name, err)
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&rbacmodel.RoleMenu{RoleID: roleID, MenuID: m.ID}).Error; err != nil {
				return err
			}
			if err := walk(m.ID, item.children); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(0, adminMenus)
}
