package identity_test

import (
	"context"
	"log/slog"
	"os"

	"github.com/frahmantamala/ssoflow/internal"
	oidcmodel "github.com/frahmantamala/ssoflow/internal/core/datamodel/oidc"
	"github.com/frahmantamala/ssoflow/internal/core/datamodel/sqlitetest"
	"github.com/frahmantamala/ssoflow/internal/identity"
	identityPostgres "github.com/frahmantamala/ssoflow/internal/identity/postgres"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("Identity Service", func() {
	var (
		ctx     context.Context
		db      *gorm.DB
		service *identity.Service
		tenant  *identity.Tenant
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		db, err = sqlitetest.Open(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = sqlitetest.Close(db) })

		slogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		service = identity.NewService(identityPostgres.NewIdentityRepository(db), slogger)

		tenant, err = service.CreateTenant(ctx, identity.TenantDTO{Name: "Acme"})
		Expect(err).NotTo(HaveOccurred())
	})

	createUser := func(username string) *identity.User {
		u, err := service.CreateUser(ctx, identity.CreateUserDTO{
			TenantID: tenant.ID,
			Username: username,
			Password: "secret123",
			Email:    username + "@acme.test",
		})
		Expect(err).NotTo(HaveOccurred())
		return u
	}

	Describe("Tenants", func() {
		It("defaults the status to enabled", func() {
			Expect(tenant.Status).To(Equal(identity.StatusEnabled))
		})

		It("refuses to delete a tenant that still owns users", func() {
			// Given
			createUser("alice")

			// When
			err := service.DeleteTenant(ctx, tenant.ID)

			// Then
			Expect(err).To(MatchError(identity.ErrTenantInUse))
		})

		It("refuses to delete a tenant that still owns clients", func() {
			Expect(db.Create(&oidcmodel.Client{TenantID: tenant.ID, ClientID: "app", Name: "App", Status: "enabled"}).Error).To(Succeed())

			Expect(service.DeleteTenant(ctx, tenant.ID)).To(MatchError(identity.ErrTenantInUse))
		})

		It("deletes an empty tenant", func() {
			Expect(service.DeleteTenant(ctx, tenant.ID)).To(Succeed())

			_, err := service.GetTenant(ctx, tenant.ID)
			Expect(err).To(MatchError(identity.ErrTenantNotFound))
		})

		It("rejects two tenants with the same domain", func() {
			domain := "acme.test"
			_, err := service.CreateTenant(ctx, identity.TenantDTO{Name: "A", Domain: &domain})
			Expect(err).NotTo(HaveOccurred())

			_, err = service.CreateTenant(ctx, identity.TenantDTO{Name: "B", Domain: &domain})
			Expect(err).To(MatchError(identity.ErrDuplicate))
		})
	})

	Describe("Users", func() {
		It("never stores the plain password", func() {
			u := createUser("alice")
			Expect(u.PasswordHash).NotTo(BeEmpty())
			Expect(u.PasswordHash).NotTo(Equal("secret123"))
		})

		It("rejects a duplicate username inside one tenant", func() {
			createUser("alice")

			_, err := service.CreateUser(ctx, identity.CreateUserDTO{TenantID: tenant.ID, Username: "alice", Password: "secret123"})

			Expect(err).To(MatchError(identity.ErrDuplicate))
		})

		It("allows the same username in another tenant", func() {
			createUser("alice")
			other, err := service.CreateTenant(ctx, identity.TenantDTO{Name: "Other"})
			Expect(err).NotTo(HaveOccurred())

			_, err = service.CreateUser(ctx, identity.CreateUserDTO{TenantID: other.ID, Username: "alice", Password: "secret123"})

			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects a short password", func() {
			_, err := service.CreateUser(ctx, identity.CreateUserDTO{TenantID: tenant.ID, Username: "bob", Password: "123"})

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeValidationFailed))
		})

		It("refuses to move a user to another tenant", func() {
			u := createUser("alice")
			otherTenant := tenant.ID + 100

			_, err := service.UpdateUser(ctx, u.ID, identity.UpdateUserDTO{TenantID: &otherTenant, DisplayName: "Alice"})

			Expect(err).To(HaveOccurred())
			reloaded, err := service.GetUser(ctx, u.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(reloaded.TenantID).To(Equal(tenant.ID))
		})

		It("lists users filtered by keyword", func() {
			createUser("alice")
			createUser("bob")

			list, total, err := service.ListUsers(ctx, identity.UserFilter{PageRequest: internal.PageRequest{Page: 1, PageSize: 10, Keyword: "ali"}})

			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(int64(1)))
			Expect(list[0].Username).To(Equal("alice"))
		})
	})

	Describe("Authenticate", func() {
		It("accepts the right password", func() {
			createUser("alice")

			u, err := service.Authenticate(ctx, tenant.ID, "alice", "secret123")

			Expect(err).NotTo(HaveOccurred())
			Expect(u.Username).To(Equal("alice"))
		})

		It("gives the same error for an unknown user and a wrong password", func() {
			createUser("alice")

			_, errUnknown := service.Authenticate(ctx, tenant.ID, "nobody", "secret123")
			_, errWrong := service.Authenticate(ctx, tenant.ID, "alice", "wrong-password")

			Expect(errUnknown).To(MatchError(internal.ErrInvalidCredentials))
			Expect(errWrong).To(MatchError(internal.ErrInvalidCredentials))
		})

		It("rejects a disabled user", func() {
			u := createUser("alice")
			_, err := service.UpdateUser(ctx, u.ID, identity.UpdateUserDTO{Status: identity.StatusDisabled})
			Expect(err).NotTo(HaveOccurred())

			_, err = service.Authenticate(ctx, tenant.ID, "alice", "secret123")

			Expect(err).To(MatchError(internal.ErrUserInactive))
		})

		It("rejects users of a disabled tenant", func() {
			createUser("alice")
			_, err := service.UpdateTenant(ctx, tenant.ID, identity.TenantDTO{Name: "Acme", Status: identity.StatusDisabled})
			Expect(err).NotTo(HaveOccurred())

			_, err = service.Authenticate(ctx, tenant.ID, "alice", "secret123")

			Expect(err).To(MatchError(identity.ErrTenantDisabled))
		})
	})

	Describe("Passwords", func() {
		It("changes the password only when the old one matches", func() {
			u := createUser("alice")

			err := service.ChangePassword(ctx, u.ID, identity.ChangePasswordDTO{OldPassword: "nope", NewPassword: "newsecret"})
			Expect(err).To(HaveOccurred())

			Expect(service.ChangePassword(ctx, u.ID, identity.ChangePasswordDTO{OldPassword: "secret123", NewPassword: "newsecret"})).To(Succeed())
			_, err = service.Authenticate(ctx, tenant.ID, "alice", "newsecret")
			Expect(err).NotTo(HaveOccurred())
		})

		It("resets a password without the old one", func() {
			u := createUser("alice")

			Expect(service.ResetPassword(ctx, u.ID, identity.ResetPasswordDTO{Password: "reset-it"})).To(Succeed())

			_, err := service.Authenticate(ctx, tenant.ID, "alice", "reset-it")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Groups", func() {
		It("replaces memberships and lists members", func() {
			u := createUser("alice")
			g1, err := service.CreateGroup(ctx, identity.GroupDTO{TenantID: tenant.ID, Name: "Finance"})
			Expect(err).NotTo(HaveOccurred())
			g2, err := service.CreateGroup(ctx, identity.GroupDTO{TenantID: tenant.ID, Name: "Ops"})
			Expect(err).NotTo(HaveOccurred())

			Expect(service.SetUserGroups(ctx, u.ID, []int64{g1.ID, g2.ID, g1.ID})).To(Succeed())
			groups, err := service.GetUserGroups(ctx, u.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(groups).To(HaveLen(2))

			Expect(service.SetUserGroups(ctx, u.ID, []int64{g2.ID})).To(Succeed())
			members, total, err := service.ListGroupMembers(ctx, g1.ID, internal.PageRequest{Page: 1, PageSize: 10})
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(BeZero())
			Expect(members).To(BeEmpty())
		})

		It("refuses a group from another tenant", func() {
			u := createUser("alice")
			other, err := service.CreateTenant(ctx, identity.TenantDTO{Name: "Other"})
			Expect(err).NotTo(HaveOccurred())
			g, err := service.CreateGroup(ctx, identity.GroupDTO{TenantID: other.ID, Name: "Foreign"})
			Expect(err).NotTo(HaveOccurred())

			Expect(service.SetUserGroups(ctx, u.ID, []int64{g.ID})).NotTo(Succeed())
		})
	})
})
