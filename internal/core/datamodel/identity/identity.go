package identity

import "time"

const (
	StatusEnabled  = "enabled"
	StatusDisabled = "disabled"
)

type Tenant struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"column:name;size:128;not null" json:"name"`
	Domain    *string   `gorm:"column:domain;size:255;uniqueIndex" json:"domain,omitempty"`
	Status    string    `gorm:"column:status;size:16;not null;default:enabled" json:"status"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Tenant) TableName() string { return "tenants" }

type User struct {
	ID           int64      `gorm:"primaryKey" json:"id"`
	TenantID     int64      `gorm:"column:tenant_id;not null;uniqueIndex:idx_users_tenant_username" json:"tenant_id"`
	Username     string     `gorm:"column:username;size:64;not null;uniqueIndex:idx_users_tenant_username" json:"username"`
	PasswordHash string     `gorm:"column:password_hash;not null" json:"-"`
	Email        string     `gorm:"column:email;size:255" json:"email"`
	DisplayName  string     `gorm:"column:display_name;size:128" json:"display_name"`
	Phone        string     `gorm:"column:phone;size:32" json:"phone"`
	Status       string     `gorm:"column:status;size:16;not null;default:enabled" json:"status"`
	LastLoginAt  *time.Time `gorm:"column:last_login_at" json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string { return "users" }

func (u *User) Enabled() bool { return u.Status == StatusEnabled }

type Group struct {
	ID          int64     `gorm:"primaryKey" json:"id"`
	TenantID    int64     `gorm:"column:tenant_id;not null;index" json:"tenant_id"`
	Name        string    `gorm:"column:name;size:128;not null" json:"name"`
	Description string    `gorm:"column:description" json:"description"`
	Status      string    `gorm:"column:status;size:16;not null;default:enabled" json:"status"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Group) TableName() string { return "groups" }

type UserGroup struct {
	UserID    int64     `gorm:"column:user_id;primaryKey"`
	GroupID   int64     `gorm:"column:group_id;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (UserGroup) TableName() string { return "user_groups" }

// Session is one login of a user. Deleting the row revokes every token that carries its id.
type Session struct {
	ID         string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	UserID     int64     `gorm:"column:user_id;not null;index" json:"user_id"`
	TenantID   int64     `gorm:"column:tenant_id;not null" json:"tenant_id"`
	IPAddress  string    `gorm:"column:ip_address;size:64" json:"ip_address"`
	UserAgent  string    `gorm:"column:user_agent;size:512" json:"user_agent"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	LastSeenAt time.Time `gorm:"column:last_seen_at" json:"last_seen_at"`
	ExpiresAt  time.Time `gorm:"column:expires_at;not null" json:"expires_at"`
}

func (Session) TableName() string { return "sessions" }
