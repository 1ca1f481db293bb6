package node

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/hallvard/fleet/internal/crypto"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "node_commands_total",
		Help: "Node commands sent, by endpoint and outcome",
	}, []string{"endpoint", "result"})

	commandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "node_command_duration_seconds",
		Help:    "Node command round-trip duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)

// Response is the normalized outcome of one node call. Exactly one failure
// channel is populated: TransportError when the POST itself failed, or the
// parsed body fields when the node answered. A body that fails to parse
// leaves only StatusCode and RawBody set.
type Response struct {
	// TransportError is non-empty when the request never produced an HTTP
	// response (timeout, refused connection, DNS).
	TransportError string

	StatusCode int
	RawBody    string
	// NotFound marks HTTP 404: the node does not know the container.
	NotFound bool

	// Parsed body fields.
	Success         bool
	SuccessSet      bool
	ErrorReason     string
	ContainerStatus string
	MachineStatus   string
}

// Ok reports whether the node explicitly signalled success.
func (r Response) Ok() bool {
	return r.TransportError == "" && r.SuccessSet && r.Success
}

// HasStatus reports whether the body carried a container_status field.
func (r Response) HasStatus() bool {
	return r.TransportError == "" && r.ContainerStatus != ""
}

// intBool accepts the node's 0/1 and true/false success encodings.
type intBool bool

func (b *intBool) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true", "1":
		*b = true
	case "false", "0":
		*b = false
	default:
		return fmt.Errorf("invalid success value %q", data)
	}
	return nil
}

type nodeBody struct {
	Success         *intBool `json:"success"`
	ErrorReason     string   `json:"error_reason"`
	ContainerStatus string   `json:"container_status"`
	MachineStatus   string   `json:"machine_status"`
}

// Client sends sealed command envelopes to node agents.
type Client struct {
	crypto     *crypto.Context
	httpClient *http.Client
	agentPort  int
	logger     zerolog.Logger
}

// NewClient creates a node protocol client. Per-call timeouts are passed to
// Send; the embedded http.Client carries no timeout of its own.
func NewClient(cc *crypto.Context, agentPort int, logger zerolog.Logger) *Client {
	return &Client{
		crypto:     cc,
		httpClient: &http.Client{},
		agentPort:  agentPort,
		logger:     logger.With().Str("component", "node-client").Logger(),
	}
}

// URL builds the agent endpoint URL for a machine.
func (c *Client) URL(machineIP, endpoint string) string {
	return fmt.Sprintf("http://%s:%d%s", machineIP, c.agentPort, endpoint)
}

// Send seals the payload and POSTs it to the machine's agent. All failure
// modes are folded into the Response; no retries happen at this layer.
func (c *Client) Send(ctx context.Context, machineIP, endpoint string, payload any, timeout time.Duration) Response {
	start := time.Now()
	resp := c.send(ctx, machineIP, endpoint, payload, timeout)
	commandDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	switch {
	case resp.TransportError != "":
		commandsTotal.WithLabelValues(endpoint, "transport_error").Inc()
	case resp.Ok() || resp.HasStatus():
		commandsTotal.WithLabelValues(endpoint, "ok").Inc()
	default:
		commandsTotal.WithLabelValues(endpoint, "node_error").Inc()
	}
	return resp
}

func (c *Client) send(ctx context.Context, machineIP, endpoint string, payload any, timeout time.Duration) Response {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return Response{TransportError: fmt.Sprintf("marshal payload: %v", err)}
	}

	env, err := c.crypto.Seal(plaintext)
	if err != nil {
		return Response{TransportError: fmt.Sprintf("seal payload: %v", err)}
	}

	body, err := json.Marshal(map[string]string{
		"message":   base64.StdEncoding.EncodeToString(env.Ciphertext),
		"signature": base64.StdEncoding.EncodeToString(env.Signature),
	})
	if err != nil {
		return Response{TransportError: fmt.Sprintf("marshal envelope: %v", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(machineIP, endpoint), bytes.NewReader(body))
	if err != nil {
		return Response{TransportError: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("machine_ip", machineIP).Str("endpoint", endpoint).Msg("node call failed")
		return Response{TransportError: err.Error()}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{TransportError: fmt.Sprintf("read response: %v", err)}
	}

	return normalize(httpResp.StatusCode, raw)
}

// normalize always attempts to parse the body regardless of HTTP status, so
// an error payload carrying a reason code on a 4xx/5xx is not discarded.
func normalize(statusCode int, raw []byte) Response {
	resp := Response{
		StatusCode: statusCode,
		RawBody:    string(raw),
		NotFound:   statusCode == http.StatusNotFound,
	}

	var body nodeBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return resp
	}

	if body.Success != nil {
		resp.SuccessSet = true
		resp.Success = bool(*body.Success)
	}
	resp.ErrorReason = body.ErrorReason
	resp.ContainerStatus = body.ContainerStatus
	resp.MachineStatus = body.MachineStatus
	return resp
}
