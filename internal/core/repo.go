package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hallvard/fleet/internal/model"
)

const machineColumns = `id, name, ip, type, status, cpu_cores, memory_gb, gpu_count, gpu_type, disk_gb, description, created_at, updated_at`

func scanMachine(row interface{ Scan(dest ...any) error }) (model.Machine, error) {
	var m model.Machine
	err := row.Scan(&m.ID, &m.Name, &m.IP, &m.Type, &m.Status, &m.CPUCores, &m.MemoryGB,
		&m.GPUCount, &m.GPUType, &m.DiskGB, &m.Description, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

// fetchMachine loads a machine row, translating a missing row into the
// typed not-found reason.
func fetchMachine(ctx context.Context, db DB, id string) (*model.Machine, error) {
	row := db.QueryRow(ctx, `SELECT `+machineColumns+` FROM machines WHERE id = $1`, id)
	m, err := scanMachine(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, Errf(ReasonMachineNotFound, "machine %s", id)
		}
		return nil, fmt.Errorf("get machine %s: %w", id, err)
	}
	return &m, nil
}

const containerColumns = `id, machine_id, name, image, status, port, created_at, updated_at`

func scanContainer(row interface{ Scan(dest ...any) error }) (model.Container, error) {
	var c model.Container
	err := row.Scan(&c.ID, &c.MachineID, &c.Name, &c.Image, &c.Status, &c.Port, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func fetchContainer(ctx context.Context, db DB, id string) (*model.Container, error) {
	row := db.QueryRow(ctx, `SELECT `+containerColumns+` FROM containers WHERE id = $1`, id)
	c, err := scanContainer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, Errf(ReasonContainerNotFound, "container %s", id)
		}
		return nil, fmt.Errorf("get container %s: %w", id, err)
	}
	return &c, nil
}

func updateContainerStatus(ctx context.Context, db DB, id string, status model.ContainerStatus) error {
	_, err := db.Exec(ctx,
		`UPDATE containers SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update container %s status: %w", id, err)
	}
	return nil
}

func updateMachineStatus(ctx context.Context, db DB, id string, status model.MachineStatus) error {
	_, err := db.Exec(ctx,
		`UPDATE machines SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update machine %s status: %w", id, err)
	}
	return nil
}

// firstFreePort finds the lowest unallocated port on a machine within the
// allocation range. The unique constraint on (machine_id, port) remains the
// source of truth under concurrent creates.
func firstFreePort(ctx context.Context, db DB, machineID string) (int, error) {
	var port int
	err := db.QueryRow(ctx,
		`SELECT p FROM generate_series($1::int, $2::int) AS p
		 WHERE NOT EXISTS (SELECT 1 FROM containers c WHERE c.machine_id = $3 AND c.port = p)
		 ORDER BY p LIMIT 1`,
		model.PortMin, model.PortMax, machineID,
	).Scan(&port)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, Errf(ReasonInvalidConfig, "no free port on machine %s", machineID)
		}
		return 0, fmt.Errorf("allocate port on machine %s: %w", machineID, err)
	}
	return port, nil
}

// deleteContainerRows removes a container and all of its bindings. Used by
// the remove flow and by the read-path reaper when the node reports 404.
func deleteContainerRows(ctx context.Context, db DB, containerID string) error {
	if _, err := db.Exec(ctx, `DELETE FROM user_container_bindings WHERE container_id = $1`, containerID); err != nil {
		return fmt.Errorf("delete bindings for container %s: %w", containerID, err)
	}
	if _, err := db.Exec(ctx, `DELETE FROM containers WHERE id = $1`, containerID); err != nil {
		return fmt.Errorf("delete container %s: %w", containerID, err)
	}
	return nil
}

const bindingColumns = `user_id, container_id, role, username, public_key, created_at`

func scanBinding(row interface{ Scan(dest ...any) error }) (model.UserContainerBinding, error) {
	var b model.UserContainerBinding
	err := row.Scan(&b.UserID, &b.ContainerID, &b.Role, &b.Username, &b.PublicKey, &b.CreatedAt)
	return b, err
}

func fetchBinding(ctx context.Context, db DB, userID, containerID string) (*model.UserContainerBinding, error) {
	row := db.QueryRow(ctx,
		`SELECT `+bindingColumns+` FROM user_container_bindings WHERE user_id = $1 AND container_id = $2`,
		userID, containerID)
	b, err := scanBinding(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get binding (%s, %s): %w", userID, containerID, err)
	}
	return &b, nil
}

func listBindingsForContainer(ctx context.Context, db DB, containerID string) ([]model.UserContainerBinding, error) {
	rows, err := db.Query(ctx,
		`SELECT `+bindingColumns+` FROM user_container_bindings WHERE container_id = $1 ORDER BY created_at`,
		containerID)
	if err != nil {
		return nil, fmt.Errorf("list bindings for container %s: %w", containerID, err)
	}
	defer rows.Close()

	var bindings []model.UserContainerBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

// upsertBinding enforces the one-binding-per-(user,container) invariant at
// the statement level.
func upsertBinding(ctx context.Context, db DB, b *model.UserContainerBinding) error {
	_, err := db.Exec(ctx,
		`INSERT INTO user_container_bindings (user_id, container_id, role, username, public_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (user_id, container_id)
		 DO UPDATE SET role = EXCLUDED.role, username = EXCLUDED.username, public_key = EXCLUDED.public_key`,
		b.UserID, b.ContainerID, b.Role, b.Username, b.PublicKey)
	if err != nil {
		return fmt.Errorf("upsert binding (%s, %s): %w", b.UserID, b.ContainerID, err)
	}
	return nil
}

func listContainersOnMachine(ctx context.Context, db DB, machineID string) ([]model.Container, error) {
	rows, err := db.Query(ctx,
		`SELECT `+containerColumns+` FROM containers WHERE machine_id = $1 ORDER BY id`, machineID)
	if err != nil {
		return nil, fmt.Errorf("list containers on machine %s: %w", machineID, err)
	}
	defer rows.Close()

	var containers []model.Container
	for rows.Next() {
		c, err := scanContainer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan container: %w", err)
		}
		containers = append(containers, c)
	}
	return containers, rows.Err()
}

func deleteBinding(ctx context.Context, db DB, userID, containerID string) error {
	_, err := db.Exec(ctx,
		`DELETE FROM user_container_bindings WHERE user_id = $1 AND container_id = $2`,
		userID, containerID)
	if err != nil {
		return fmt.Errorf("delete binding (%s, %s): %w", userID, containerID, err)
	}
	return nil
}

const userColumns = `id, name, password_hash, created_at, updated_at`

func scanUser(row interface{ Scan(dest ...any) error }) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func fetchUser(ctx context.Context, db DB, id string) (*model.User, error) {
	row := db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, Errf(ReasonUserNotFound, "user %s", id)
		}
		return nil, fmt.Errorf("fetch user %s: %w", id, err)
	}
	return &u, nil
}

func fetchUserByName(ctx context.Context, db DB, name string) (*model.User, error) {
	row := db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE name = $1`, name)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, Errf(ReasonUserNotFound, "user %s", name)
		}
		return nil, fmt.Errorf("fetch user %s: %w", name, err)
	}
	return &u, nil
}

func listBindingsForUser(ctx context.Context, db DB, userID string) ([]model.UserContainerBinding, error) {
	rows, err := db.Query(ctx,
		`SELECT `+bindingColumns+` FROM user_container_bindings WHERE user_id = $1 ORDER BY container_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list bindings for user %s: %w", userID, err)
	}
	defer rows.Close()

	var bindings []model.UserContainerBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

// markMachineOffline flips a machine and all of its containers to OFFLINE
// in one pass. Used when a reachability sweep finds the machine gone.
func markMachineOffline(ctx context.Context, db DB, machineID string) error {
	if err := updateMachineStatus(ctx, db, machineID, model.MachineOffline); err != nil {
		return err
	}
	_, err := db.Exec(ctx,
		`UPDATE containers SET status = $1, updated_at = now() WHERE machine_id = $2`,
		model.ContainerOffline, machineID)
	if err != nil {
		return fmt.Errorf("mark containers offline on machine %s: %w", machineID, err)
	}
	return nil
}
