package model

import "time"

// Port allocation bounds for containers; the registered-port range minus
// the well-known ports.
const (
	PortMin = 1024
	PortMax = 49151
)

// Container is a workload the controller has placed on a machine. Name is
// unique per machine, and the port is this container's reserved slot on the
// owning machine.
type Container struct {
	ID        string          `json:"id"`
	MachineID string          `json:"machine_id"`
	Name      string          `json:"name"`
	Image     string          `json:"image"`
	Status    ContainerStatus `json:"status"`
	Port      int             `json:"port"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ContainerBrief is the listing shape: enough to render a fleet overview
// without joining bindings.
type ContainerBrief struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	MachineIP string          `json:"machine_ip"`
	Port      int             `json:"port"`
	Status    ContainerStatus `json:"status"`
}

// ContainerDetail is the full read shape including the access accounts.
type ContainerDetail struct {
	Container
	MachineIP string           `json:"machine_ip"`
	Accounts  []ContainerAccount `json:"accounts"`
}

// ContainerAccount is one user's access entry on a container.
type ContainerAccount struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}
