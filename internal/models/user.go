package models

// UserRole represents the collection roles carried in access tokens.
type UserRole string

const (
	RoleAdmin     UserRole = "DINA_ADMIN"
	RoleSuperUser UserRole = "SUPER_USER"
	RoleUser      UserRole = "USER"
	RoleGuest     UserRole = "GUEST"
	RoleReadOnly  UserRole = "READ_ONLY"
)

// CanWrite reports whether the role may create or modify records.
func (r UserRole) CanWrite() bool {
	switch r {
	case RoleAdmin, RoleSuperUser, RoleUser:
		return true
	default:
		return false
	}
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
