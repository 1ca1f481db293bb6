package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hallvard/fleet/internal/model"
)

func newMachineHarness() (*mockDB, *mockProber, *MachineService) {
	db := &mockDB{}
	probe := &mockProber{}
	hb := NewHeartbeatRunner(db, &mockSender{}, probe, HeartbeatConfig{
		CallTimeout: time.Second,
		Timeout:     time.Second,
		Interval:    time.Second,
	}, zerolog.Nop())
	return db, probe, NewMachineService(db, probe, hb, zerolog.Nop())
}

func machineScanFunc(m model.Machine) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*string)) = m.ID
		*(dest[1].(*string)) = m.Name
		*(dest[2].(*string)) = m.IP
		*(dest[3].(*model.MachineType)) = m.Type
		*(dest[4].(*model.MachineStatus)) = m.Status
		*(dest[5].(*int)) = m.CPUCores
		*(dest[6].(*int)) = m.MemoryGB
		*(dest[7].(*int)) = m.GPUCount
		*(dest[8].(*string)) = m.GPUType
		*(dest[9].(*int)) = m.DiskGB
		*(dest[10].(*string)) = m.Description
		*(dest[11].(*time.Time)) = m.CreatedAt
		*(dest[12].(*time.Time)) = m.UpdatedAt
		return nil
	}
}

// ---------- Create ----------

func TestMachineService_Create_Success(t *testing.T) {
	db, _, svc := newMachineHarness()
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	m := &model.Machine{Name: "gpu-01", IP: "10.0.0.5", Type: model.MachineTypeGPU, CPUCores: 32}
	err := svc.Create(ctx, m)
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, model.MachineOffline, m.Status)
	db.AssertExpectations(t)
}

func TestMachineService_Create_UnknownType(t *testing.T) {
	db, _, svc := newMachineHarness()

	err := svc.Create(context.Background(), &model.Machine{Name: "x", IP: "10.0.0.5", Type: "QUANTUM"})
	require.Error(t, err)
	assert.Equal(t, ReasonInvalidPayload, reasonOf(t, err))
	db.AssertNumberOfCalls(t, "Exec", 0)
}

func TestMachineService_Create_DBError(t *testing.T) {
	db, _, svc := newMachineHarness()
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, errors.New("db error"))

	err := svc.Create(ctx, &model.Machine{Name: "gpu-01", IP: "10.0.0.5", Type: model.MachineTypeGPU})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert machine")
}

// ---------- Reads ----------

func TestMachineService_GetDetail_IncludesContainerIDs(t *testing.T) {
	db, _, svc := newMachineHarness()
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFunc: machineScanFunc(gpuMachine)})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newMockRows(
		func(dest ...any) error { *(dest[0].(*string)) = "container-1"; return nil },
		func(dest ...any) error { *(dest[0].(*string)) = "container-2"; return nil },
	), nil)

	detail, err := svc.GetDetail(ctx, "machine-1")
	require.NoError(t, err)
	assert.Equal(t, "machine-1", detail.ID)
	assert.Equal(t, []string{"container-1", "container-2"}, detail.ContainerIDs)
}

func TestMachineService_List_Pagination(t *testing.T) {
	db, _, svc := newMachineHarness()
	ctx := context.Background()

	a, b, c := gpuMachine, gpuMachine, gpuMachine
	a.ID, b.ID, c.ID = "m-a", "m-b", "m-c"
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newMockRows(
		machineScanFunc(a), machineScanFunc(b), machineScanFunc(c),
	), nil)

	machines, hasMore, err := svc.List(ctx, 2, "")
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, machines, 2)
	assert.Equal(t, "m-a", machines[0].ID)
}

// ---------- Maintenance ----------

func TestMachineService_EnterMaintenance_RequiresOnline(t *testing.T) {
	db, probe, svc := newMachineHarness()
	ctx := context.Background()

	down := gpuMachine
	down.Status = model.MachineOffline
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFunc: machineScanFunc(down)})

	err := svc.EnterMaintenance(ctx, "machine-1")
	require.Error(t, err)
	assert.Equal(t, ReasonMachineOffline, reasonOf(t, err))
	probe.AssertNumberOfCalls(t, "IsOnline", 0)
}

func TestMachineService_EnterMaintenance_AlreadyInMaintenance(t *testing.T) {
	db, _, svc := newMachineHarness()
	ctx := context.Background()

	parked := gpuMachine
	parked.Status = model.MachineMaintenance
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFunc: machineScanFunc(parked)})

	err := svc.EnterMaintenance(ctx, "machine-1")
	require.Error(t, err)
	assert.Equal(t, ReasonMachineMaintenance, reasonOf(t, err))
}

func TestMachineService_EnterMaintenance_SpawnsWorker(t *testing.T) {
	db, probe, svc := newMachineHarness()
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFunc: machineScanFunc(gpuMachine)})
	probe.On("IsOnline", mock.Anything, "10.0.0.5").Return(true)

	// The worker finds nothing to drain and parks the machine.
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(newEmptyMockRows(), nil)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	require.NoError(t, svc.EnterMaintenance(ctx, "machine-1"))
	require.NoError(t, svc.hb.Shutdown(context.Background()))
	db.AssertExpectations(t)
}

// ---------- RefreshStatuses ----------

func TestMachineService_RefreshStatuses_MarksUnreachableOffline(t *testing.T) {
	db, probe, svc := newMachineHarness()
	ctx := context.Background()

	up, down, parked := gpuMachine, gpuMachine, gpuMachine
	up.ID, up.IP = "m-up", "10.0.0.1"
	down.ID, down.IP = "m-down", "10.0.0.2"
	parked.ID, parked.IP, parked.Status = "m-parked", "10.0.0.3", model.MachineMaintenance

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newMockRows(
		machineScanFunc(up), machineScanFunc(down), machineScanFunc(parked),
	), nil)
	probe.On("IsOnline", mock.Anything, "10.0.0.1").Return(true)
	probe.On("IsOnline", mock.Anything, "10.0.0.2").Return(false)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	machines, err := svc.RefreshStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, machines, 3)

	byID := map[string]model.MachineStatus{}
	for _, m := range machines {
		byID[m.ID] = m.Status
	}
	assert.Equal(t, model.MachineOnline, byID["m-up"])
	assert.Equal(t, model.MachineOffline, byID["m-down"])
	// Maintenance machines are never probed.
	assert.Equal(t, model.MachineMaintenance, byID["m-parked"])
	probe.AssertNumberOfCalls(t, "IsOnline", 2)
}

func TestMachineService_RefreshStatuses_RecoversOfflineMachine(t *testing.T) {
	db, probe, svc := newMachineHarness()
	ctx := context.Background()

	wasDown := gpuMachine
	wasDown.ID, wasDown.Status = "m-1", model.MachineOffline

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(newMockRows(
		machineScanFunc(wasDown),
	), nil)
	probe.On("IsOnline", mock.Anything, "10.0.0.5").Return(true)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, nil)

	machines, err := svc.RefreshStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, machines, 1)
	assert.Equal(t, model.MachineOnline, machines[0].Status)
}
