package models

// UserModel is the read-side persistence model for portal users.
// Accounts are managed by the portal; the settlement engine only looks up administrators.
type UserModel struct {
	BaseModel
	Email  string `gorm:"type:varchar(200);not null;uniqueIndex"`
	Name   string `gorm:"type:varchar(200)"`
	Role   string `gorm:"type:varchar(20);not null;default:'member';index"`
	Status string `gorm:"type:varchar(20);not null;default:'active'"`
}

// TableName returns the table name for GORM
func (UserModel) TableName() string {
	return "users"
}

// User roles and statuses relevant to the admin directory
const (
	UserRoleAdmin    = "admin"
	UserRoleMember   = "member"
	UserStatusActive = "active"
)
