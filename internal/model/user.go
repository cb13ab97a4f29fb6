package model

// Role enumerates user roles.
type Role string

const (
	RoleStudent  Role = "student"
	RoleLecturer Role = "lecturer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

// IsMonitor reports whether the role can watch the global live channel.
func (r Role) IsMonitor() bool {
	return r == RoleStaff || r == RoleAdmin
}

// User represents an authenticated account.
type User struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role"`
}

// LoginRequest is the payload for logging in.
type LoginRequest struct {
	Username string `json:"username" binding:"required,min=2,max=100"`
	Password string `json:"password" binding:"required,min=6,max=200"`
}
