package node

// Node agent endpoints. Every command is an HTTP POST of a sealed envelope
// to one of these paths.
const (
	EndpointCreateContainer    = "/create_container"
	EndpointRemoveContainer    = "/remove_container"
	EndpointStartContainer     = "/start_container"
	EndpointStopContainer      = "/stop_container"
	EndpointRestartContainer   = "/restart_container"
	EndpointAddCollaborator    = "/add_collaborator"
	EndpointRemoveCollaborator = "/remove_collaborator"
	EndpointUpdateRole         = "/update_role"
	EndpointContainerStatus    = "/container_status"
	EndpointMachineStatus      = "/machine_status"
)

// CreateConfig is the resource request for a new container.
type CreateConfig struct {
	ContainerName string `json:"container_name"`
	Image         string `json:"image"`
	GPUList       []int  `json:"gpu_list"`
	CPUCount      int    `json:"cpu_number"`
	MemoryGB      int    `json:"memory"`
	SwapGB        int    `json:"swap"`
	Port          int    `json:"port"`
	Username      string `json:"user_name"`
}

// CreateCommand asks the node to create and start a container.
type CreateCommand struct {
	Config    CreateConfig `json:"config"`
	OwnerName string       `json:"owner_name"`
	PublicKey string       `json:"public_key,omitempty"`
}

// ContainerRef addresses an existing container by its name on the node.
type ContainerRef struct {
	ContainerName string `json:"container_name"`
}

// RefCommand covers remove, start, stop, restart, and status queries.
type RefCommand struct {
	Config ContainerRef `json:"config"`
}

// CollaboratorConfig names a user account inside a container.
type CollaboratorConfig struct {
	ContainerName string `json:"container_name"`
	Username      string `json:"user_name"`
	Role          string `json:"role,omitempty"`
	UpdatedRole   string `json:"updated_role,omitempty"`
	PublicKey     string `json:"public_key,omitempty"`
}

// CollaboratorCommand covers add/remove collaborator and role updates.
type CollaboratorCommand struct {
	Config CollaboratorConfig `json:"config"`
}
