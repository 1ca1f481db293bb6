package model

// Role is the access level a user holds on a container. ROOT is created with
// the container and cannot be granted or removed through the collaborator
// endpoints, only via the role-update flow.
type Role string

const (
	RoleRoot         Role = "ROOT"
	RoleAdmin        Role = "ADMIN"
	RoleCollaborator Role = "COLLABORATOR"
)

// RootUsername is the username stored on ROOT bindings. The node agent
// provisions the in-container account under this name, so the binding keeps
// it in place of the owner's real username.
const RootUsername = "root"

// ParseRole validates a serialized role value.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleRoot, RoleAdmin, RoleCollaborator:
		return Role(s), true
	}
	return "", false
}
