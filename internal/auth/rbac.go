package auth

import "strings"

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// RoleFor maps the admin flag to the role carried in session tokens.
func RoleFor(isAdmin bool) Role {
	if isAdmin {
		return RoleAdmin
	}
	return RoleUser
}

func NormalizeRole(role string) Role {
	if strings.EqualFold(strings.TrimSpace(role), string(RoleAdmin)) {
		return RoleAdmin
	}
	return RoleUser
}

func IsAdmin(role string) bool {
	return NormalizeRole(role) == RoleAdmin
}
