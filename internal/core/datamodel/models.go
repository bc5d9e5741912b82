package datamodel

import (
	"github.com/frahmantamala/ssoflow/internal/core/datamodel/identity"
	"github.com/frahmantamala/ssoflow/internal/core/datamodel/oidc"
	"github.com/frahmantamala/ssoflow/internal/core/datamodel/rbac"
	"github.com/frahmantamala/ssoflow/internal/core/datamodel/workflow"
)

// All lists every persisted row type. Tests AutoMigrate it into sqlite; production schema lives in db/migrations.
func All() []interface{} {
	return []interface{}{
		&identity.Tenant{},
		&identity.User{},
		&identity.Group{},
		&identity.UserGroup{},
		&identity.Session{},
		&oidc.Client{},
		&oidc.AuthorizationCode{},
		&oidc.AuthorizedApp{},
		&oidc.RefreshToken{},
		&rbac.Role{},
		&rbac.Permission{},
		&rbac.Menu{},
		&rbac.RolePermission{},
		&rbac.RoleMenu{},
		&rbac.UserRole{},
		&workflow.FormTemplate{},
		&workflow.FormField{},
		&workflow.ApprovalFlow{},
		&workflow.FlowNode{},
		&workflow.TicketType{},
		&workflow.Ticket{},
		&workflow.TicketFieldData{},
		&workflow.Attachment{},
		&workflow.TicketComment{},
		&workflow.ApprovalRecord{},
		&workflow.TicketNodeApprover{},
		&workflow.TicketCC{},
		&workflow.SystemConfig{},
	}
}
