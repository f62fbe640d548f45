package models

import "time"

// Role is the authority-assigned role of a user.
type Role struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Permissions map[string]bool `json:"permissions,omitempty"`
}

// Elevated role names. Elevated users may sync without approval and decide
// other users' requests.
const (
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
)

// IsElevated reports whether the role bypasses the approval gate.
func (r *Role) IsElevated() bool {
	return r != nil && (r.Name == RoleSupervisor || r.Name == RoleAdmin)
}

// User is the profile of the logged-in operator.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
	Role     *Role  `json:"role,omitempty"`
	IsActive bool   `json:"is_active"`
}

// RoleName returns the role name or "" when none is attached.
func (u *User) RoleName() string {
	if u == nil || u.Role == nil {
		return ""
	}
	return u.Role.Name
}

// TokenSet is the decrypted content of the tokens blob.
type TokenSet struct {
	Access   string    `json:"access"`
	Refresh  string    `json:"refresh"`
	IssuedAt time.Time `json:"timestamp"`
}

// CredentialBlobVersion is the only envelope version written today.
const CredentialBlobVersion = 1

// CredentialBlob is an encrypted secret as persisted in the storage port.
type CredentialBlob struct {
	Version    int    `json:"v"`
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
}
