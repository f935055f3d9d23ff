package rbac

import "time"

// Role represents a named access tier.
type Role struct {
	ID        int64
	Code      string
	Name      string
	NameLocal string
	Color     string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Permission represents an atomic grantable capability.
type Permission struct {
	ID        int64
	Code      string
	Name      string
	NameLocal string
	Category  string
	IsActive  bool
}

// Grant ties a permission to a role. An absent row is equivalent to
// Granted=false.
type Grant struct {
	RoleID       int64
	PermissionID int64
	Granted      bool
	GrantedBy    int64
	GrantedAt    time.Time
}

// Matrix is the full role × permission grant table keyed by permission code
// then role code.
type Matrix struct {
	Roles       []Role
	Permissions []Permission
	Cells       map[string]map[string]bool
}

// MatrixUpdate describes one cell change in an UpdateMatrix call.
type MatrixUpdate struct {
	RoleCode       string `json:"role"`
	PermissionCode string `json:"permission"`
	Granted        bool   `json:"granted"`
}
