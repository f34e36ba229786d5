package domain

type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Identity is the authenticated account of the current session, as returned by /users/me.
type Identity struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	FullName *string `json:"full_name,omitempty"`
	Role     Role    `json:"type"`
	AdminKey string  `json:"admin_key,omitempty"`
}

// IsPrivileged reports whether deleted message content stays visible to this identity.
func (i Identity) IsPrivileged() bool {
	return i.Role == RoleAdmin || i.Role == RoleSuperAdmin
}

// Is reports whether the participant refers to this identity.
func (i Identity) Is(p Participant) bool {
	return p.ID == i.ID && p.Role == i.Role
}

// Participant returns the identity in the shape used inside messages.
func (i Identity) Participant() Participant {
	return Participant{ID: i.ID, Username: i.Username, Role: i.Role}
}

// Key returns the conversation key other parties use to address this identity.
func (i Identity) Key() ConversationKey {
	return ConversationKey{Kind: Kind(i.Role), ID: i.ID}
}
