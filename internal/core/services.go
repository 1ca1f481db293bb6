package core

import (
	"time"

	"github.com/rs/zerolog"
)

// Services bundles the control-plane services over one database handle and
// one node client.
type Services struct {
	Machines   *MachineService
	Containers *ContainerService
	Users      *UserService
	Heartbeats *HeartbeatRunner
}

func NewServices(db DB, sender commandSender, probe machineProber, hbCfg HeartbeatConfig, callTimeout time.Duration, logger zerolog.Logger) *Services {
	hb := NewHeartbeatRunner(db, sender, probe, hbCfg, logger)
	return &Services{
		Machines:   NewMachineService(db, probe, hb, logger),
		Containers: NewContainerService(db, sender, probe, hb, callTimeout, logger),
		Users:      NewUserService(db, logger),
		Heartbeats: hb,
	}
}
