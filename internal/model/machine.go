package model

import "time"

// MachineType describes what kind of hardware a machine exposes.
type MachineType string

const (
	MachineTypeGPU      MachineType = "GPU"
	MachineTypeCPU      MachineType = "CPU"
	MachineTypePhysical MachineType = "PHYSICAL"
)

// ParseMachineType validates a serialized machine type.
func ParseMachineType(s string) (MachineType, bool) {
	switch MachineType(s) {
	case MachineTypeGPU, MachineTypeCPU, MachineTypePhysical:
		return MachineType(s), true
	}
	return "", false
}

// Machine is a physical or virtual host running a node agent.
type Machine struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	IP          string        `json:"ip"`
	Type        MachineType   `json:"type"`
	Status      MachineStatus `json:"status"`
	CPUCores    int           `json:"cpu_cores"`
	MemoryGB    int           `json:"memory_gb"`
	GPUCount    int           `json:"gpu_count"`
	GPUType     string        `json:"gpu_type"`
	DiskGB      int           `json:"disk_gb"`
	Description string        `json:"description"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
