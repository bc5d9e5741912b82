package rbac_test

import (
	"context"
	"log/slog"
	"os"

	"github.com/frahmantamala/ssoflow/internal/core/datamodel/sqlitetest"
	"github.com/frahmantamala/ssoflow/internal/identity"
	identityPostgres "github.com/frahmantamala/ssoflow/internal/identity/postgres"
	"github.com/frahmantamala/ssoflow/internal/rbac"
	rbacPostgres "github.com/frahmantamala/ssoflow/internal/rbac/postgres"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("MatchPath", func() {
	DescribeTable("permission paths",
		func(perm, path string, want bool) {
			Expect(rbac.MatchPath(perm, path)).To(Equal(want))
		},
		Entry("exact", "/api/v1/tickets", "/api/v1/tickets", true),
		Entry("param segment", "/api/v1/tickets/{id}", "/api/v1/tickets/42", true),
		Entry("param does not span segments", "/api/v1/tickets/{id}", "/api/v1/tickets/42/approve", false),
		Entry("trailing wildcard", "/api/v1/tickets/*", "/api/v1/tickets/42/approve", true),
		Entry("different resource", "/api/v1/tickets/{id}", "/api/v1/roles/1", false),
		Entry("shorter path", "/api/v1/tickets/{id}/approve", "/api/v1/tickets/1", false),
	)

	It("honours the method", func() {
		perms := []*rbac.Permission{{Method: "GET", Path: "/api/v1/tickets"}}
		Expect(rbac.Allowed(perms, "GET", "", "/api/v1/tickets")).To(BeTrue())
		Expect(rbac.Allowed(perms, "POST", "", "/api/v1/tickets")).To(BeFalse())
	})

	It("accepts the chi route pattern verbatim", func() {
		perms := []*rbac.Permission{{Method: "POST", Path: "/api/v1/tickets/{id}/approve"}}
		Expect(rbac.Allowed(perms, "POST", "/api/v1/tickets/{id}/approve", "/api/v1/tickets/7/approve")).To(BeTrue())
	})
})

var _ = Describe("BuildMenuTree", func() {
	menus := []*rbac.Menu{
		{ID: 1, ParentID: 0, Name: "system", SortOrder: 2},
		{ID: 2, ParentID: 1, Name: "users", SortOrder: 1},
		{ID: 3, ParentID: 1, Name: "roles", SortOrder: 0},
		{ID: 4, ParentID: 0, Name: "tickets", SortOrder: 1},
	}

	It("sorts siblings by sort order", func() {
		tree := rbac.BuildMenuTree(menus, nil)

		Expect(tree).To(HaveLen(2))
		Expect(tree[0].Name).To(Equal("tickets"))
		Expect(tree[1].Children[0].Name).To(Equal("roles"))
	})

	It("keeps the ancestors of a granted child", func() {
		tree := rbac.BuildMenuTree(menus, map[int64]bool{2: true})

		Expect(tree).To(HaveLen(1))
		Expect(tree[0].Name).To(Equal("system"))
		Expect(tree[0].Children).To(HaveLen(1))
		Expect(tree[0].Children[0].Name).To(Equal("users"))
	})

	It("shows a granted parent whose children are not granted", func() {
		tree := rbac.BuildMenuTree(menus, map[int64]bool{1: true})

		Expect(tree).To(HaveLen(1))
		Expect(tree[0].Children).To(BeEmpty())
	})
})

var _ = Describe("Resolver", func() {
	var (
		ctx      context.Context
		db       *gorm.DB
		service  *rbac.Service
		resolver *rbac.Resolver
		user     *identity.User
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		db, err = sqlitetest.Open(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = sqlitetest.Close(db) })

		slogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		ids := identity.NewService(identityPostgres.NewIdentityRepository(db), slogger)
		service = rbac.NewService(rbacPostgres.NewRBACRepository(db), ids, slogger)
		resolver = service.Resolver()

		tenant, err := ids.CreateTenant(ctx, identity.TenantDTO{Name: "Acme"})
		Expect(err).NotTo(HaveOccurred())
		user, err = ids.CreateUser(ctx, identity.CreateUserDTO{TenantID: tenant.ID, Username: "alice", Password: "secret123"})
		Expect(err).NotTo(HaveOccurred())
	})

	It("unions permissions across roles and narrows to the current role", func() {
		// Given
		r1, err := service.CreateRole(ctx, rbac.RoleDTO{Code: "finance", Name: "Finance"})
		Expect(err).NotTo(HaveOccurred())
		r2, err := service.CreateRole(ctx, rbac.RoleDTO{Code: "ops", Name: "Ops"})
		Expect(err).NotTo(HaveOccurred())
		p1, err := service.CreatePermission(ctx, rbac.PermissionDTO{Name: "list tickets", Method: "get", Path: "/api/v1/tickets"})
		Expect(err).NotTo(HaveOccurred())
		p2, err := service.CreatePermission(ctx, rbac.PermissionDTO{Name: "approve", Method: "POST", Path: "/api/v1/tickets/{id}/approve"})
		Expect(err).NotTo(HaveOccurred())
		Expect(service.SetRolePermissions(ctx, r1.ID, []int64{p1.ID})).To(Succeed())
		Expect(service.SetRolePermissions(ctx, r2.ID, []int64{p1.ID, p2.ID})).To(Succeed())
		Expect(service.SetUserRoles(ctx, user.ID, []int64{r1.ID, r2.ID})).To(Succeed())

		// When
		all, err := resolver.EffectivePermissions(ctx, user.ID, nil)
		Expect(err).NotTo(HaveOccurred())
		narrowed, err := resolver.EffectivePermissions(ctx, user.ID, &r1.ID)
		Expect(err).NotTo(HaveOccurred())

		// Then
		Expect(all).To(HaveLen(2))
		Expect(narrowed).To(HaveLen(1))
		Expect(narrowed[0].Resource).To(Equal("tickets"))
		Expect(narrowed[0].Method).To(Equal("GET"))
	})

	It("is deterministic", func() {
		role, err := service.CreateRole(ctx, rbac.RoleDTO{Code: "finance", Name: "Finance"})
		Expect(err).NotTo(HaveOccurred())
		p, err := service.CreatePermission(ctx, rbac.PermissionDTO{Name: "list", Method: "GET", Path: "/api/v1/tickets"})
		Expect(err).NotTo(HaveOccurred())
		Expect(service.SetRolePermissions(ctx, role.ID, []int64{p.ID})).To(Succeed())
		Expect(service.SetUserRoles(ctx, user.ID, []int64{role.ID})).To(Succeed())

		first, err := resolver.EffectivePermissions(ctx, user.ID, nil)
		Expect(err).NotTo(HaveOccurred())
		second, err := resolver.EffectivePermissions(ctx, user.ID, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first))
	})

	It("detects administrators and lists role holders", func() {
		admin, err := service.CreateRole(ctx, rbac.RoleDTO{Code: rbac.AdminRoleCode, Name: "Admin"})
		Expect(err).NotTo(HaveOccurred())

		isAdmin, err := resolver.IsAdmin(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(isAdmin).To(BeFalse())

		Expect(service.SetUserRoles(ctx, user.ID, []int64{admin.ID})).To(Succeed())
		isAdmin, err = resolver.IsAdmin(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(isAdmin).To(BeTrue())

		holders, err := resolver.UserIDsWithRole(ctx, admin.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(holders).To(ConsistOf(user.ID))
	})

	It("ignores disabled roles", func() {
		role, err := service.CreateRole(ctx, rbac.RoleDTO{Code: "ops", Name: "Ops", Status: identity.StatusDisabled})
		Expect(err).NotTo(HaveOccurred())
		Expect(service.SetUserRoles(ctx, user.ID, []int64{role.ID})).To(Succeed())

		holders, err := resolver.UserIDsWithRole(ctx, role.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(holders).To(BeEmpty())
	})

	It("builds the effective menu tree with ancestors", func() {
		parent, err := service.CreateMenu(ctx, rbac.MenuDTO{Name: "system", Title: "System"})
		Expect(err).NotTo(HaveOccurred())
		child, err := service.CreateMenu(ctx, rbac.MenuDTO{ParentID: parent.ID, Name: "users", Title: "Users"})
		Expect(err).NotTo(HaveOccurred())
		_, err = service.CreateMenu(ctx, rbac.MenuDTO{Name: "tickets", Title: "Tickets"})
		Expect(err).NotTo(HaveOccurred())
		role, err := service.CreateRole(ctx, rbac.RoleDTO{Code: "ops", Name: "Ops"})
		Expect(err).NotTo(HaveOccurred())
		Expect(service.SetRoleMenus(ctx, role.ID, []int64{child.ID})).To(Succeed())
		Expect(service.SetUserRoles(ctx, user.ID, []int64{role.ID})).To(Succeed())

		tree, err := resolver.EffectiveMenus(ctx, user.ID, nil)

		Expect(err).NotTo(HaveOccurred())
		Expect(tree).To(HaveLen(1))
		Expect(tree[0].ID).To(Equal(parent.ID))
		Expect(tree[0].Children[0].ID).To(Equal(child.ID))
	})

	It("refuses to nest a menu under its own descendant", func() {
		parent, err := service.CreateMenu(ctx, rbac.MenuDTO{Name: "system", Title: "System"})
		Expect(err).NotTo(HaveOccurred())
		child, err := service.CreateMenu(ctx, rbac.MenuDTO{ParentID: parent.ID, Name: "users", Title: "Users"})
		Expect(err).NotTo(HaveOccurred())

		_, err = service.UpdateMenu(ctx, parent.ID, rbac.MenuDTO{ParentID: child.ID, Name: "system", Title: "System"})

		Expect(err).To(HaveOccurred())
	})
})
