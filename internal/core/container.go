package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/hallvard/fleet/internal/model"
	"github.com/hallvard/fleet/internal/node"
	"github.com/hallvard/fleet/internal/platform"
)

// uniqueViolation is the postgres error code for a unique constraint hit;
// the constraint is the source of truth behind the fast-fail pre-checks.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// CreateSpec is the resource request for a new container.
type CreateSpec struct {
	Name     string
	Image    string
	GPUList  []int
	CPUCount int
	MemoryGB int
	SwapGB   int
}

// ContainerService drives the container lifecycle: it validates requests,
// sends sealed commands to the owning machine's node agent, mutates local
// state only after the node acknowledged, and spawns a reconciliation
// worker for every state-changing operation.
type ContainerService struct {
	db          DB
	sender      commandSender
	probe       machineProber
	hb          *HeartbeatRunner
	callTimeout time.Duration
	logger      zerolog.Logger
}

func NewContainerService(db DB, sender commandSender, probe machineProber, hb *HeartbeatRunner, callTimeout time.Duration, logger zerolog.Logger) *ContainerService {
	return &ContainerService{
		db:          db,
		sender:      sender,
		probe:       probe,
		hb:          hb,
		callTimeout: callTimeout,
		logger:      logger.With().Str("component", "containers").Logger(),
	}
}

// Create provisions a container for ownerName on the given machine. On node
// acceptance the container is persisted as CREATING with a ROOT binding for
// the owner, and a starting heartbeat converges it to ONLINE or FAILED.
func (s *ContainerService) Create(ctx context.Context, ownerName, machineID string, spec CreateSpec, publicKey string) (*model.Container, error) {
	machine, err := fetchMachine(ctx, s.db, machineID)
	if err != nil {
		return nil, err
	}

	if !platform.ValidUsername(ownerName) {
		return nil, Errf(ReasonInvalidPayload, "invalid owner name")
	}
	if !platform.ValidContainerName(spec.Name) {
		return nil, Errf(ReasonInvalidPayload, "invalid container name")
	}
	if !platform.ValidImage(spec.Image) {
		return nil, Errf(ReasonInvalidPayload, "invalid image")
	}
	if !platform.ValidPublicKey(publicKey) {
		return nil, Errf(ReasonInvalidPayload, "public key too long")
	}
	if err := validateCapacity(machine, &spec); err != nil {
		return nil, err
	}

	owner, err := fetchUserByName(ctx, s.db, ownerName)
	if err != nil {
		return nil, err
	}

	// Fast-fail duplicate check; the unique constraint catches the race.
	var existing string
	err = s.db.QueryRow(ctx,
		`SELECT id FROM containers WHERE machine_id = $1 AND name = $2`, machineID, spec.Name).Scan(&existing)
	if err == nil {
		return nil, Errf(ReasonDuplicateEntry, "container %s already exists on machine %s", spec.Name, machineID)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check duplicate name: %w", err)
	}

	// Machines parked in maintenance accept creates without the gate.
	if machine.Status != model.MachineMaintenance && !s.probe.IsOnline(ctx, machine.IP) {
		return nil, Errf(ReasonMachineOffline, "machine %s is not reachable", machineID)
	}

	port, err := firstFreePort(ctx, s.db, machineID)
	if err != nil {
		return nil, err
	}

	cmd := node.CreateCommand{
		Config: node.CreateConfig{
			ContainerName: spec.Name,
			Image:         spec.Image,
			GPUList:       spec.GPUList,
			CPUCount:      spec.CPUCount,
			MemoryGB:      spec.MemoryGB,
			SwapGB:        spec.SwapGB,
			Port:          port,
			Username:      ownerName,
		},
		OwnerName: ownerName,
		PublicKey: publicKey,
	}
	resp := s.sender.Send(ctx, machine.IP, node.EndpointCreateContainer, cmd, s.callTimeout)
	if err := checkResponse(resp, opCreate); err != nil {
		return nil, err
	}

	container := &model.Container{
		ID:        platform.NewID(),
		MachineID: machineID,
		Name:      spec.Name,
		Image:     spec.Image,
		Status:    model.ContainerCreating,
		Port:      port,
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO containers (id, machine_id, name, image, status, port, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), now())`,
		container.ID, container.MachineID, container.Name, container.Image, container.Status, container.Port)
	if err != nil {
		// The node already accepted the create; a local failure here is an
		// inconsistency window, not something to roll back remotely.
		s.logger.Warn().Err(err).Str("container", spec.Name).Msg("node accepted create but local persist failed")
		if isUniqueViolation(err) {
			return nil, Errf(ReasonDuplicateEntry, "container %s already exists on machine %s", spec.Name, machineID)
		}
		return nil, fmt.Errorf("persist container: %w", err)
	}

	pk := &publicKey
	if publicKey == "" {
		pk = nil
	}
	if err := upsertBinding(ctx, s.db, &model.UserContainerBinding{
		UserID:      owner.ID,
		ContainerID: container.ID,
		Role:        model.RoleRoot,
		Username:    model.RootUsername,
		PublicKey:   pk,
	}); err != nil {
		s.logger.Warn().Err(err).Str("container_id", container.ID).Msg("persist root binding failed")
		return nil, err
	}

	if err := s.hb.WatchStarting(machine.IP, container.Name, container.ID); err != nil {
		return nil, Errf(ReasonCreateFailed, "container accepted but status watcher could not start: %v", err)
	}

	s.logger.Info().Str("container_id", container.ID).Str("machine_id", machineID).
		Int("port", port).Msg("container created")
	return container, nil
}

// validateCapacity checks the requested resources against what the machine
// actually has. Non-GPU machines silently drop any requested GPU list.
func validateCapacity(machine *model.Machine, spec *CreateSpec) error {
	if machine.Type != model.MachineTypeGPU {
		spec.GPUList = nil
	} else {
		seen := make(map[int]bool, len(spec.GPUList))
		for _, idx := range spec.GPUList {
			if idx < 0 || idx >= machine.GPUCount {
				return Errf(ReasonInvalidConfig, "gpu index %d out of range (machine has %d)", idx, machine.GPUCount)
			}
			if seen[idx] {
				return Errf(ReasonInvalidConfig, "gpu index %d requested twice", idx)
			}
			seen[idx] = true
		}
	}

	if spec.CPUCount < 0 || spec.CPUCount > machine.CPUCores {
		return Errf(ReasonInvalidConfig, "cpu request %d exceeds %d cores", spec.CPUCount, machine.CPUCores)
	}
	if spec.MemoryGB < 0 || spec.MemoryGB > machine.MemoryGB {
		return Errf(ReasonInvalidConfig, "memory request %dGB exceeds %dGB", spec.MemoryGB, machine.MemoryGB)
	}
	if spec.SwapGB < 0 || spec.SwapGB > machine.DiskGB {
		return Errf(ReasonInvalidConfig, "swap request %dGB exceeds %dGB disk", spec.SwapGB, machine.DiskGB)
	}
	return nil
}

// Remove deletes a container. A node answer of "unknown container" counts
// as success so removal stays idempotent; an explicit node failure aborts
// without touching local state.
func (s *ContainerService) Remove(ctx context.Context, containerID string) error {
	container, err := fetchContainer(ctx, s.db, containerID)
	if err != nil {
		return err
	}
	machine, err := fetchMachine(ctx, s.db, container.MachineID)
	if err != nil {
		return err
	}
	if !s.probe.IsOnline(ctx, machine.IP) {
		return Errf(ReasonMachineOffline, "machine %s is not reachable", machine.ID)
	}

	resp := s.sender.Send(ctx, machine.IP, node.EndpointRemoveContainer,
		node.RefCommand{Config: node.ContainerRef{ContainerName: container.Name}}, s.callTimeout)

	alreadyGone := resp.NotFound || resp.ErrorReason == string(ReasonContainerNotFound)
	if !alreadyGone {
		if err := checkResponse(resp, opRemove); err != nil {
			return err
		}
	}

	if err := deleteContainerRows(ctx, s.db, containerID); err != nil {
		return err
	}
	s.logger.Info().Str("container_id", containerID).Bool("already_gone", alreadyGone).Msg("container removed")
	return nil
}

// Start asks the node to start the container and spawns a heartbeat toward
// ONLINE. No local status write happens before the heartbeat observes one.
func (s *ContainerService) Start(ctx context.Context, containerID string) error {
	container, machine, err := s.containerAndReachableMachine(ctx, containerID)
	if err != nil {
		return err
	}

	resp := s.sender.Send(ctx, machine.IP, node.EndpointStartContainer,
		node.RefCommand{Config: node.ContainerRef{ContainerName: container.Name}}, s.callTimeout)
	if err := checkResponse(resp, opStart); err != nil {
		return err
	}

	return s.hb.WatchStarting(machine.IP, container.Name, container.ID)
}

// Stop mirrors Start with a heartbeat toward OFFLINE.
func (s *ContainerService) Stop(ctx context.Context, containerID string) error {
	container, machine, err := s.containerAndReachableMachine(ctx, containerID)
	if err != nil {
		return err
	}

	resp := s.sender.Send(ctx, machine.IP, node.EndpointStopContainer,
		node.RefCommand{Config: node.ContainerRef{ContainerName: container.Name}}, s.callTimeout)
	if err := checkResponse(resp, opStop); err != nil {
		return err
	}

	return s.hb.WatchStopping(machine.IP, container.Name, container.ID)
}

// Restart records the stop phase locally as soon as the node acknowledges,
// then polls for the container to come back online.
func (s *ContainerService) Restart(ctx context.Context, containerID string) error {
	container, machine, err := s.containerAndReachableMachine(ctx, containerID)
	if err != nil {
		return err
	}

	resp := s.sender.Send(ctx, machine.IP, node.EndpointRestartContainer,
		node.RefCommand{Config: node.ContainerRef{ContainerName: container.Name}}, s.callTimeout)
	if err := checkResponse(resp, opRestart); err != nil {
		return err
	}

	if err := updateContainerStatus(ctx, s.db, container.ID, model.ContainerOffline); err != nil {
		return err
	}
	return s.hb.WatchRestart(machine.IP, container.Name, container.ID)
}

func (s *ContainerService) containerAndReachableMachine(ctx context.Context, containerID string) (*model.Container, *model.Machine, error) {
	container, err := fetchContainer(ctx, s.db, containerID)
	if err != nil {
		return nil, nil, err
	}
	machine, err := fetchMachine(ctx, s.db, container.MachineID)
	if err != nil {
		return nil, nil, err
	}
	if !s.probe.IsOnline(ctx, machine.IP) {
		return nil, nil, Errf(ReasonMachineOffline, "machine %s is not reachable", machine.ID)
	}
	return container, machine, nil
}

// AddCollaborator grants a non-ROOT role on an online container. ROOT can
// never be granted through this path.
func (s *ContainerService) AddCollaborator(ctx context.Context, containerID, userID string, role model.Role) error {
	if role == model.RoleRoot {
		return Errf(ReasonInvalidPayload, "role ROOT cannot be granted to collaborators")
	}
	if _, ok := model.ParseRole(string(role)); !ok {
		return Errf(ReasonInvalidPayload, "unknown role %q", role)
	}

	container, err := fetchContainer(ctx, s.db, containerID)
	if err != nil {
		return err
	}
	if container.Status != model.ContainerOnline {
		return Errf(ReasonContainerOffline, "container %s is %s", containerID, container.Status)
	}

	user, err := fetchUser(ctx, s.db, userID)
	if err != nil {
		return err
	}
	if !platform.ValidUsername(user.Name) {
		return Errf(ReasonInvalidPayload, "username %q cannot be forwarded to the node", user.Name)
	}

	machine, err := fetchMachine(ctx, s.db, container.MachineID)
	if err != nil {
		return err
	}
	if !s.probe.IsOnline(ctx, machine.IP) {
		return Errf(ReasonMachineOffline, "machine %s is not reachable", machine.ID)
	}

	resp := s.sender.Send(ctx, machine.IP, node.EndpointAddCollaborator, node.CollaboratorCommand{
		Config: node.CollaboratorConfig{
			ContainerName: container.Name,
			Username:      user.Name,
			Role:          string(role),
		},
	}, s.callTimeout)
	if err := checkResponse(resp, opAddCollaborator); err != nil {
		return err
	}

	return upsertBinding(ctx, s.db, &model.UserContainerBinding{
		UserID:      userID,
		ContainerID: containerID,
		Role:        role,
		Username:    user.Name,
	})
}

// RemoveCollaborator revokes a user's access. ROOT bindings must be demoted
// through the role-update flow first.
func (s *ContainerService) RemoveCollaborator(ctx context.Context, containerID, userID string) error {
	container, err := fetchContainer(ctx, s.db, containerID)
	if err != nil {
		return err
	}
	if container.Status != model.ContainerOnline {
		return Errf(ReasonContainerOffline, "container %s is %s", containerID, container.Status)
	}

	binding, err := fetchBinding(ctx, s.db, userID, containerID)
	if err != nil {
		return err
	}
	if binding == nil {
		return Errf(ReasonUserNotFound, "user %s has no access to container %s", userID, containerID)
	}
	if binding.Role == model.RoleRoot {
		return Errf(ReasonInsufficientPermission, "ROOT binding cannot be removed; demote it first")
	}

	machine, err := fetchMachine(ctx, s.db, container.MachineID)
	if err != nil {
		return err
	}
	if !s.probe.IsOnline(ctx, machine.IP) {
		return Errf(ReasonMachineOffline, "machine %s is not reachable", machine.ID)
	}

	resp := s.sender.Send(ctx, machine.IP, node.EndpointRemoveCollaborator, node.CollaboratorCommand{
		Config: node.CollaboratorConfig{
			ContainerName: container.Name,
			Username:      binding.Username,
		},
	}, s.callTimeout)
	if err := checkResponse(resp, opRemoveCollab); err != nil {
		return err
	}

	return deleteBinding(ctx, s.db, userID, containerID)
}

// UpdateRole changes a user's role on a container. Promoting to ROOT forces
// the stored username to "root" per the node-side account convention.
func (s *ContainerService) UpdateRole(ctx context.Context, containerID, userID string, newRole model.Role) error {
	if _, ok := model.ParseRole(string(newRole)); !ok {
		return Errf(ReasonInvalidPayload, "unknown role %q", newRole)
	}

	container, err := fetchContainer(ctx, s.db, containerID)
	if err != nil {
		return err
	}
	if container.Status != model.ContainerOnline {
		return Errf(ReasonContainerOffline, "container %s is %s", containerID, container.Status)
	}

	binding, err := fetchBinding(ctx, s.db, userID, containerID)
	if err != nil {
		return err
	}
	if binding == nil {
		return Errf(ReasonUserNotFound, "user %s has no access to container %s", userID, containerID)
	}

	if binding.Role == model.RoleRoot && newRole != model.RoleRoot {
		// The container must keep a ROOT while any other binding exists.
		others, err := listBindingsForContainer(ctx, s.db, containerID)
		if err != nil {
			return err
		}
		hasOtherRoot := false
		hasOthers := false
		for _, b := range others {
			if b.UserID == userID {
				continue
			}
			hasOthers = true
			if b.Role == model.RoleRoot {
				hasOtherRoot = true
			}
		}
		if hasOthers && !hasOtherRoot {
			return Errf(ReasonInsufficientPermission, "cannot demote the only ROOT while other users hold access")
		}
	}

	user, err := fetchUser(ctx, s.db, userID)
	if err != nil {
		return err
	}

	machine, err := fetchMachine(ctx, s.db, container.MachineID)
	if err != nil {
		return err
	}
	if !s.probe.IsOnline(ctx, machine.IP) {
		return Errf(ReasonMachineOffline, "machine %s is not reachable", machine.ID)
	}

	resp := s.sender.Send(ctx, machine.IP, node.EndpointUpdateRole, node.CollaboratorCommand{
		Config: node.CollaboratorConfig{
			ContainerName: container.Name,
			Username:      binding.Username,
			UpdatedRole:   string(newRole),
		},
	}, s.callTimeout)
	if err := checkResponse(resp, opUpdateRole); err != nil {
		return err
	}

	username := user.Name
	if newRole == model.RoleRoot {
		username = model.RootUsername
	}
	return upsertBinding(ctx, s.db, &model.UserContainerBinding{
		UserID:      userID,
		ContainerID: containerID,
		Role:        newRole,
		Username:    username,
		PublicKey:   binding.PublicKey,
	})
}

// GetDetail returns the container with its access accounts. When the
// owning machine is reachable the node's view of the status wins: a 404
// reaps the local rows, any reported status is persisted before returning.
// An unreachable machine degrades to the last-known local state.
func (s *ContainerService) GetDetail(ctx context.Context, containerID string) (*model.ContainerDetail, error) {
	container, err := fetchContainer(ctx, s.db, containerID)
	if err != nil {
		return nil, err
	}
	machine, err := fetchMachine(ctx, s.db, container.MachineID)
	if err != nil {
		return nil, err
	}

	if machine.Status != model.MachineOffline && machine.Status != model.MachineMaintenance {
		resp := s.sender.Send(ctx, machine.IP, node.EndpointContainerStatus,
			node.RefCommand{Config: node.ContainerRef{ContainerName: container.Name}}, s.callTimeout)

		switch {
		case resp.TransportError != "":
			// Degrade to local state.
		case resp.NotFound:
			// The node no longer knows this container; reap it.
			if err := deleteContainerRows(ctx, s.db, containerID); err != nil {
				return nil, err
			}
			s.logger.Info().Str("container_id", containerID).Msg("reaped container unknown to node")
			return nil, Errf(ReasonContainerNotFound, "container %s", containerID)
		case resp.HasStatus():
			if status, ok := model.ParseContainerStatus(resp.ContainerStatus); ok && status != container.Status {
				if err := updateContainerStatus(ctx, s.db, containerID, status); err != nil {
					return nil, err
				}
				container.Status = status
			}
		}
	}

	bindings, err := listBindingsForContainer(ctx, s.db, containerID)
	if err != nil {
		return nil, err
	}

	detail := &model.ContainerDetail{
		Container: *container,
		MachineIP: machine.IP,
	}
	for _, b := range bindings {
		detail.Accounts = append(detail.Accounts, model.ContainerAccount{
			UserID:   b.UserID,
			Username: b.Username,
			Role:     b.Role,
		})
	}
	return detail, nil
}

// ListBrief pages through a machine's containers. Reachability refresh for
// listings happens at the machine level (MachineService.RefreshStatuses);
// an unreachable machine serves last-known statuses without error.
func (s *ContainerService) ListBrief(ctx context.Context, machineID string, limit int, cursor string) ([]model.ContainerBrief, bool, error) {
	machine, err := fetchMachine(ctx, s.db, machineID)
	if err != nil {
		return nil, false, err
	}

	query := `SELECT id, name, status, port FROM containers WHERE machine_id = $1`
	args := []any{machineID}
	if cursor != "" {
		query += ` AND id > $2`
		args = append(args, cursor)
	}
	query += fmt.Sprintf(` ORDER BY id LIMIT %d`, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list containers for machine %s: %w", machineID, err)
	}
	defer rows.Close()

	var briefs []model.ContainerBrief
	for rows.Next() {
		var b model.ContainerBrief
		if err := rows.Scan(&b.ID, &b.Name, &b.Status, &b.Port); err != nil {
			return nil, false, fmt.Errorf("scan container: %w", err)
		}
		b.MachineIP = machine.IP
		briefs = append(briefs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate containers: %w", err)
	}

	hasMore := len(briefs) > limit
	if hasMore {
		briefs = briefs[:limit]
	}
	return briefs, hasMore, nil
}
