package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hallvard/fleet/internal/model"
	"github.com/hallvard/fleet/internal/platform"
)

// MachineDetail is a machine plus the ids of the containers placed on it.
type MachineDetail struct {
	model.Machine
	ContainerIDs []string `json:"container_ids"`
}

// MachineService manages the fleet inventory and drives machine-level
// status: reachability sweeps and the maintenance drain flow.
type MachineService struct {
	db     DB
	probe  machineProber
	hb     *HeartbeatRunner
	logger zerolog.Logger
}

func NewMachineService(db DB, probe machineProber, hb *HeartbeatRunner, logger zerolog.Logger) *MachineService {
	return &MachineService{
		db:     db,
		probe:  probe,
		hb:     hb,
		logger: logger.With().Str("component", "machines").Logger(),
	}
}

func (s *MachineService) Create(ctx context.Context, m *model.Machine) error {
	if m.Name == "" || m.IP == "" {
		return Errf(ReasonInvalidPayload, "machine name and ip are required")
	}
	if _, ok := model.ParseMachineType(string(m.Type)); !ok {
		return Errf(ReasonInvalidPayload, "unknown machine type %q", m.Type)
	}
	if m.ID == "" {
		m.ID = platform.NewID()
	}
	if m.Status == "" {
		m.Status = model.MachineOffline
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO machines (id, name, ip, type, status, cpu_cores, memory_gb, gpu_count, gpu_type, disk_gb, description, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())`,
		m.ID, m.Name, m.IP, m.Type, m.Status, m.CPUCores, m.MemoryGB, m.GPUCount, m.GPUType, m.DiskGB, m.Description)
	if err != nil {
		if isUniqueViolation(err) {
			return Errf(ReasonDuplicateEntry, "machine %s already registered", m.Name)
		}
		return fmt.Errorf("insert machine: %w", err)
	}
	s.logger.Info().Str("machine_id", m.ID).Str("ip", m.IP).Msg("machine registered")
	return nil
}

func (s *MachineService) GetByID(ctx context.Context, id string) (*model.Machine, error) {
	return fetchMachine(ctx, s.db, id)
}

// GetDetail returns the machine with the ids of its containers.
func (s *MachineService) GetDetail(ctx context.Context, id string) (*MachineDetail, error) {
	machine, err := fetchMachine(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `SELECT id FROM containers WHERE machine_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("list container ids for machine %s: %w", id, err)
	}
	defer rows.Close()

	detail := &MachineDetail{Machine: *machine}
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			return nil, fmt.Errorf("scan container id: %w", err)
		}
		detail.ContainerIDs = append(detail.ContainerIDs, cid)
	}
	return detail, rows.Err()
}

// List pages through the inventory by id cursor.
func (s *MachineService) List(ctx context.Context, limit int, cursor string) ([]model.Machine, bool, error) {
	query := `SELECT ` + machineColumns + ` FROM machines`
	args := []any{}
	if cursor != "" {
		query += ` WHERE id > $1`
		args = append(args, cursor)
	}
	query += fmt.Sprintf(` ORDER BY id LIMIT %d`, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list machines: %w", err)
	}
	defer rows.Close()

	var machines []model.Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, false, fmt.Errorf("scan machine: %w", err)
		}
		machines = append(machines, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate machines: %w", err)
	}

	hasMore := len(machines) > limit
	if hasMore {
		machines = machines[:limit]
	}
	return machines, hasMore, nil
}

// Update rewrites the mutable machine fields. Status changes go through
// SetStatus or EnterMaintenance, not here.
func (s *MachineService) Update(ctx context.Context, m *model.Machine) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE machines SET name = $1, ip = $2, type = $3, cpu_cores = $4, memory_gb = $5,
		        gpu_count = $6, gpu_type = $7, disk_gb = $8, description = $9, updated_at = now()
		 WHERE id = $10`,
		m.Name, m.IP, m.Type, m.CPUCores, m.MemoryGB, m.GPUCount, m.GPUType, m.DiskGB, m.Description, m.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return Errf(ReasonDuplicateEntry, "machine %s already registered", m.Name)
		}
		return fmt.Errorf("update machine %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return Errf(ReasonMachineNotFound, "machine %s", m.ID)
	}
	return nil
}

// Delete removes a machine; containers and bindings go with it via the
// cascading foreign keys.
func (s *MachineService) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM machines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete machine %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return Errf(ReasonMachineNotFound, "machine %s", id)
	}
	s.logger.Info().Str("machine_id", id).Msg("machine deleted")
	return nil
}

func (s *MachineService) SetStatus(ctx context.Context, id string, status model.MachineStatus) error {
	if _, ok := model.ParseMachineStatus(string(status)); !ok {
		return Errf(ReasonInvalidPayload, "unknown machine status %q", status)
	}
	if _, err := fetchMachine(ctx, s.db, id); err != nil {
		return err
	}
	return updateMachineStatus(ctx, s.db, id, status)
}

// EnterMaintenance starts the drain flow: every container on the machine is
// stopped and a background worker converges the machine to MAINTENANCE.
// Only an ONLINE machine can be drained.
func (s *MachineService) EnterMaintenance(ctx context.Context, id string) error {
	machine, err := fetchMachine(ctx, s.db, id)
	if err != nil {
		return err
	}
	switch machine.Status {
	case model.MachineMaintenance:
		return Errf(ReasonMachineMaintenance, "machine %s is already in maintenance", id)
	case model.MachineOffline:
		return Errf(ReasonMachineOffline, "machine %s is offline", id)
	}
	if !s.probe.IsOnline(ctx, machine.IP) {
		return Errf(ReasonMachineOffline, "machine %s is not reachable", id)
	}

	if err := s.hb.WatchMachineMaintenance(machine.ID, machine.IP); err != nil {
		return fmt.Errorf("start maintenance worker for machine %s: %w", id, err)
	}
	s.logger.Info().Str("machine_id", id).Msg("maintenance drain started")
	return nil
}

// RefreshStatuses probes every machine not parked in maintenance and
// reconciles: unreachable machines and their containers flip to OFFLINE,
// reachable machines previously marked OFFLINE come back ONLINE. Probes run
// concurrently; the refreshed inventory is returned.
func (s *MachineService) RefreshStatuses(ctx context.Context) ([]model.Machine, error) {
	rows, err := s.db.Query(ctx, `SELECT `+machineColumns+` FROM machines ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	machines := []model.Machine{}
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan machine: %w", err)
		}
		machines = append(machines, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate machines: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range machines {
		m := &machines[i]
		if m.Status == model.MachineMaintenance {
			continue
		}
		g.Go(func() error {
			online := s.probe.IsOnline(gctx, m.IP)
			switch {
			case !online && m.Status != model.MachineOffline:
				if err := markMachineOffline(gctx, s.db, m.ID); err != nil {
					return err
				}
				m.Status = model.MachineOffline
				s.logger.Warn().Str("machine_id", m.ID).Msg("machine unreachable, marked offline")
			case online && m.Status == model.MachineOffline:
				if err := updateMachineStatus(gctx, s.db, m.ID, model.MachineOnline); err != nil {
					return err
				}
				m.Status = model.MachineOnline
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return machines, nil
}
