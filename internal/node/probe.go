package node

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// Prober answers whether a machine's node agent is reachable and reporting
// itself online. It never returns an error: any transport failure, bad
// payload, or non-online report counts as "not online".
type Prober struct {
	client  *Client
	timeout time.Duration
	backoff time.Duration
	logger  zerolog.Logger
}

// NewProber creates a reachability prober. A transport-level failure is
// retried exactly once after a fixed backoff before giving up.
func NewProber(client *Client, timeout, backoff time.Duration, logger zerolog.Logger) *Prober {
	return &Prober{
		client:  client,
		timeout: timeout,
		backoff: backoff,
		logger:  logger.With().Str("component", "node-prober").Logger(),
	}
}

// IsOnline performs a single short status request against the machine.
func (p *Prober) IsOnline(ctx context.Context, machineIP string) bool {
	var online bool

	err := retry.Do(ctx, retry.WithMaxRetries(1, retry.NewConstant(p.backoff)), func(ctx context.Context) error {
		resp := p.client.Send(ctx, machineIP, EndpointMachineStatus, RefCommand{}, p.timeout)
		if resp.TransportError != "" {
			return retry.RetryableError(fmt.Errorf("probe %s: %s", machineIP, resp.TransportError))
		}
		online = resp.Ok() && resp.MachineStatus == "online"
		return nil
	})
	if err != nil {
		p.logger.Debug().Err(err).Str("machine_ip", machineIP).Msg("machine unreachable")
		return false
	}
	return online
}
