package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hallvard/fleet/internal/model"
	"github.com/hallvard/fleet/internal/node"
)

var (
	heartbeatStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heartbeat_started_total",
		Help: "Reconciliation workers spawned, by kind",
	}, []string{"kind"})

	heartbeatConverged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heartbeat_converged_total",
		Help: "Reconciliation workers that reached a terminal decision",
	}, []string{"kind", "result"})

	heartbeatTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heartbeat_timeouts_total",
		Help: "Reconciliation workers that hit their deadline without converging",
	}, []string{"kind"})
)

// commandSender is the slice of node.Client the workers and orchestrator
// use; tests substitute a fake node.
type commandSender interface {
	Send(ctx context.Context, machineIP, endpoint string, payload any, timeout time.Duration) node.Response
}

// machineProber is the reachability gate.
type machineProber interface {
	IsOnline(ctx context.Context, machineIP string) bool
}

type watchKind string

const (
	watchStarting watchKind = "starting"
	watchStopping watchKind = "stopping"
	watchRestart  watchKind = "restart"
)

func (k watchKind) target() model.ContainerStatus {
	if k == watchStopping {
		return model.ContainerOffline
	}
	return model.ContainerOnline
}

// HeartbeatConfig carries the polling knobs. None of these are protocol
// constants; callers configure them.
type HeartbeatConfig struct {
	// CallTimeout bounds each individual status request.
	CallTimeout time.Duration
	// Timeout is the overall deadline for one worker.
	Timeout time.Duration
	// Interval is the pause between polls.
	Interval time.Duration
}

// HeartbeatRunner owns the background reconciliation workers. Workers are
// fire-and-forget: no external cancellation, bounded only by their own
// deadline. Handles are counted per container so the set stays observable
// and panics never vanish silently. Concurrent workers for one container
// are allowed; every writer uses a valid target state and the last write
// wins.
type HeartbeatRunner struct {
	db     DB
	sender commandSender
	probe  machineProber
	cfg    HeartbeatConfig
	logger zerolog.Logger

	mu      sync.Mutex
	closed  bool
	active  map[string]int // container or machine id -> live worker count
	wg      sync.WaitGroup
}

func NewHeartbeatRunner(db DB, sender commandSender, probe machineProber, cfg HeartbeatConfig, logger zerolog.Logger) *HeartbeatRunner {
	return &HeartbeatRunner{
		db:     db,
		sender: sender,
		probe:  probe,
		cfg:    cfg,
		logger: logger.With().Str("component", "heartbeat").Logger(),
		active: make(map[string]int),
	}
}

// WatchStarting polls until the container reports online.
func (r *HeartbeatRunner) WatchStarting(machineIP, containerName, containerID string) error {
	return r.watchContainer(watchStarting, machineIP, containerName, containerID)
}

// WatchStopping polls until the container reports offline.
func (r *HeartbeatRunner) WatchStopping(machineIP, containerName, containerID string) error {
	return r.watchContainer(watchStopping, machineIP, containerName, containerID)
}

// WatchRestart polls until the container comes back online. The caller has
// already recorded the stop phase locally.
func (r *HeartbeatRunner) WatchRestart(machineIP, containerName, containerID string) error {
	return r.watchContainer(watchRestart, machineIP, containerName, containerID)
}

// ActiveWorkers returns the number of live workers for an id.
func (r *HeartbeatRunner) ActiveWorkers(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[id]
}

// Shutdown refuses new workers and waits for running ones to finish or the
// context to expire. Workers themselves are not cancelled.
func (r *HeartbeatRunner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *HeartbeatRunner) spawn(id string, kind watchKind, run func(ctx context.Context)) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("heartbeat runner is shut down")
	}
	r.active[id]++
	r.wg.Add(1)
	r.mu.Unlock()

	heartbeatStarted.WithLabelValues(string(kind)).Inc()

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			r.active[id]--
			if r.active[id] == 0 {
				delete(r.active, id)
			}
			r.mu.Unlock()
		}()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error().Interface("panic", rec).Str("id", id).Str("kind", string(kind)).Msg("heartbeat worker panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
		defer cancel()
		run(ctx)
	}()
	return nil
}

func (r *HeartbeatRunner) watchContainer(kind watchKind, machineIP, containerName, containerID string) error {
	target := kind.target()
	logger := r.logger.With().
		Str("kind", string(kind)).
		Str("machine_ip", machineIP).
		Str("container", containerName).
		Logger()

	return r.spawn(containerID, kind, func(ctx context.Context) {
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()

		for {
			resp := r.sender.Send(ctx, machineIP, node.EndpointContainerStatus,
				node.RefCommand{Config: node.ContainerRef{ContainerName: containerName}}, r.cfg.CallTimeout)

			switch {
			case resp.TransportError != "":
				// Node unreachable this round; keep polling until the deadline.

			case resp.ErrorReason != "" || resp.ContainerStatus == string(model.ContainerFailed):
				logger.Warn().Str("error_reason", resp.ErrorReason).Msg("node reported failure")
				r.persistStatus(containerID, model.ContainerFailed)
				heartbeatConverged.WithLabelValues(string(kind), "failed").Inc()
				return

			case model.ContainerStatus(resp.ContainerStatus) == target:
				logger.Info().Str("status", resp.ContainerStatus).Msg("container converged")
				r.persistStatus(containerID, target)
				heartbeatConverged.WithLabelValues(string(kind), "ok").Inc()
				return
			}

			select {
			case <-ctx.Done():
				// Deadline without convergence: status keeps its last
				// observed value rather than being forced to failed.
				logger.Warn().Msg("heartbeat deadline exceeded without convergence")
				heartbeatTimeouts.WithLabelValues(string(kind)).Inc()
				return
			case <-ticker.C:
			}
		}
	})
}

// persistStatus writes a terminal status with a fresh short-lived context;
// the worker's own deadline may already be spent.
func (r *HeartbeatRunner) persistStatus(containerID string, status model.ContainerStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CallTimeout)
	defer cancel()
	if err := updateContainerStatus(ctx, r.db, containerID, status); err != nil {
		r.logger.Error().Err(err).Str("container_id", containerID).Msg("persist container status")
	}
}

const watchMaintenance watchKind = "maintenance"

// WatchMachineMaintenance drives a machine from online to maintenance: stop
// every non-offline container, poll them down to a settled state, then mark
// the machine. On deadline the machine is marked by one final reachability
// probe: offline if unreachable, maintenance otherwise.
func (r *HeartbeatRunner) WatchMachineMaintenance(machineID, machineIP string) error {
	logger := r.logger.With().
		Str("kind", string(watchMaintenance)).
		Str("machine_id", machineID).
		Str("machine_ip", machineIP).
		Logger()

	return r.spawn(machineID, watchMaintenance, func(ctx context.Context) {
		containers, err := listContainersOnMachine(ctx, r.db, machineID)
		if err != nil {
			logger.Error().Err(err).Msg("list containers for maintenance transition")
			return
		}

		// Best-effort stop for everything still running; each gets marked
		// STOPPING locally whether or not the node accepted the command.
		pending := make(map[string]string) // container id -> name
		for _, c := range containers {
			if c.Status == model.ContainerOffline {
				continue
			}
			resp := r.sender.Send(ctx, machineIP, node.EndpointStopContainer,
				node.RefCommand{Config: node.ContainerRef{ContainerName: c.Name}}, r.cfg.CallTimeout)
			if err := checkResponse(resp, opStop); err != nil {
				logger.Warn().Err(err).Str("container", c.Name).Msg("stop command refused during maintenance transition")
			}
			if err := updateContainerStatus(ctx, r.db, c.ID, model.ContainerStopping); err != nil {
				logger.Error().Err(err).Str("container", c.Name).Msg("mark container stopping")
			}
			pending[c.ID] = c.Name
		}

		if len(pending) == 0 {
			r.finishMaintenance(machineID, model.MachineMaintenance, logger)
			heartbeatConverged.WithLabelValues(string(watchMaintenance), "ok").Inc()
			return
		}

		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()

		for {
			r.pollPending(ctx, machineIP, pending, logger)

			if len(pending) == 0 {
				r.finishMaintenance(machineID, model.MachineMaintenance, logger)
				heartbeatConverged.WithLabelValues(string(watchMaintenance), "ok").Inc()
				return
			}

			select {
			case <-ctx.Done():
				heartbeatTimeouts.WithLabelValues(string(watchMaintenance)).Inc()
				// One last reachability check decides where the machine
				// lands when containers never settled.
				probeCtx, cancel := context.WithTimeout(context.Background(), r.cfg.CallTimeout)
				status := model.MachineMaintenance
				if !r.probe.IsOnline(probeCtx, machineIP) {
					status = model.MachineOffline
				}
				cancel()
				logger.Warn().Str("final_status", string(status)).
					Int("unsettled_containers", len(pending)).
					Msg("maintenance transition deadline exceeded")
				r.finishMaintenance(machineID, status, logger)
				return
			case <-ticker.C:
			}
		}
	})
}

// pollPending queries every unsettled container concurrently and persists
// any terminal status it observes, pruning the pending set.
func (r *HeartbeatRunner) pollPending(ctx context.Context, machineIP string, pending map[string]string, logger zerolog.Logger) {
	type observation struct {
		id     string
		status model.ContainerStatus
	}

	var mu sync.Mutex
	var observed []observation

	g, gctx := errgroup.WithContext(ctx)
	for id, name := range pending {
		id, name := id, name
		g.Go(func() error {
			resp := r.sender.Send(gctx, machineIP, node.EndpointContainerStatus,
				node.RefCommand{Config: node.ContainerRef{ContainerName: name}}, r.cfg.CallTimeout)

			var status model.ContainerStatus
			switch {
			case resp.TransportError != "":
				return nil
			case resp.ErrorReason != "" || resp.ContainerStatus == string(model.ContainerFailed):
				status = model.ContainerFailed
			default:
				parsed, ok := model.ParseContainerStatus(resp.ContainerStatus)
				if !ok || parsed.Transitioning() {
					return nil
				}
				status = parsed
			}

			mu.Lock()
			observed = append(observed, observation{id: id, status: status})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, obs := range observed {
		if err := updateContainerStatus(ctx, r.db, obs.id, obs.status); err != nil {
			logger.Error().Err(err).Str("container_id", obs.id).Msg("persist observed status")
			continue
		}
		delete(pending, obs.id)
	}
}

func (r *HeartbeatRunner) finishMaintenance(machineID string, status model.MachineStatus, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CallTimeout)
	defer cancel()
	if err := updateMachineStatus(ctx, r.db, machineID, status); err != nil {
		logger.Error().Err(err).Msg("persist machine status")
		return
	}
	logger.Info().Str("status", string(status)).Msg("machine transition complete")
}
