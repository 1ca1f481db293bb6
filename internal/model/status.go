package model

// MachineStatus is the controller-side view of a machine. Transitions happen
// only through reachability probes or explicit admin action; the maintenance
// worker is the one path that cascades a machine transition to its containers.
type MachineStatus string

const (
	MachineOnline      MachineStatus = "online"
	MachineOffline     MachineStatus = "offline"
	MachineMaintenance MachineStatus = "maintenance"
)

// ParseMachineStatus validates an admin-supplied machine status.
func ParseMachineStatus(s string) (MachineStatus, bool) {
	switch MachineStatus(s) {
	case MachineOnline, MachineOffline, MachineMaintenance:
		return MachineStatus(s), true
	}
	return "", false
}

// ContainerStatus values match the lowercase container_status strings the
// node agent reports.
type ContainerStatus string

const (
	ContainerCreating    ContainerStatus = "creating"
	ContainerOnline      ContainerStatus = "online"
	ContainerOffline     ContainerStatus = "offline"
	ContainerStopping    ContainerStatus = "stopping"
	ContainerStarting    ContainerStatus = "starting"
	ContainerFailed      ContainerStatus = "failed"
	ContainerMaintenance ContainerStatus = "maintenance"
)

// Transitioning reports whether the status is an intermediate state a
// heartbeat is still expected to move off of.
func (s ContainerStatus) Transitioning() bool {
	switch s {
	case ContainerCreating, ContainerStarting, ContainerStopping:
		return true
	}
	return false
}

// ParseContainerStatus maps a node-reported status string onto the known
// vocabulary. Unknown strings return false so callers can ignore them
// instead of persisting garbage.
func ParseContainerStatus(s string) (ContainerStatus, bool) {
	switch ContainerStatus(s) {
	case ContainerCreating, ContainerOnline, ContainerOffline,
		ContainerStopping, ContainerStarting, ContainerFailed, ContainerMaintenance:
		return ContainerStatus(s), true
	}
	return "", false
}
