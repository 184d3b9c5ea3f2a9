// Package heartbeat wires the liveness pipeline: the SDK-side producer, the
// control-side batch consumer, and the projection sweep.
package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/HZeroxium/fleet-control/domain/heartbeat"
	"github.com/HZeroxium/fleet-control/infrastructure/discovery"
	"github.com/HZeroxium/fleet-control/infrastructure/httputil"
	"github.com/HZeroxium/fleet-control/infrastructure/loadbalancer"
	"github.com/HZeroxium/fleet-control/infrastructure/logging"
	"github.com/HZeroxium/fleet-control/infrastructure/metrics"
)

// Transport delivers a heartbeat to a formatted endpoint.
type Transport interface {
	Protocol() string
	Submit(ctx context.Context, endpoint string, payload *heartbeat.Payload) error
}

// Default RPC ports used when instance metadata does not override them.
const (
	defaultThriftPort = 9090
	defaultGRPCPort   = 9091
)

// ProducerConfig configures the SDK-side producer.
type ProducerConfig struct {
	Enabled         bool
	ControlService  string // discovery name of the control-plane service
	DirectURL       string // fallback endpoint when discovery yields nothing
	Schedule        string // cron spec for periodic sends
	Identity        heartbeat.Payload
	Properties      map[string]string // hashed into ConfigHash
}

// Producer builds heartbeat payloads and ships them to the control plane.
// Transport errors are logged and suppressed: the schedule must keep firing
// no matter how the control plane is behaving.
type Producer struct {
	config    ProducerConfig
	registry  discovery.Registry
	selector  loadbalancer.Selector
	transport Transport
	logger    *logging.Logger
	metrics   *metrics.Metrics
	cron      *cron.Cron
}

// NewProducer wires a producer.
func NewProducer(cfg ProducerConfig, registry discovery.Registry, selector loadbalancer.Selector, transport Transport, logger *logging.Logger, m *metrics.Metrics) *Producer {
	return &Producer{
		config:    cfg,
		registry:  registry,
		selector:  selector,
		transport: transport,
		logger:    logger,
		metrics:   m,
	}
}

// Send builds and delivers one heartbeat. Returns immediately when disabled.
func (p *Producer) Send(ctx context.Context) {
	if !p.config.Enabled {
		return
	}

	payload := p.config.Identity
	payload.ConfigHash = heartbeat.ConfigHash(p.config.Properties)
	payload.ObservedAt = time.Now().UTC()

	endpoint, err := p.resolveEndpoint(ctx)
	if err != nil {
		p.logger.WithError(err).Warn("heartbeat endpoint resolution failed")
		return
	}

	start := time.Now()
	err = p.transport.Submit(ctx, endpoint, &payload)
	if p.metrics != nil {
		p.metrics.RecordPing(p.transport.Protocol(), time.Since(start), err)
	}
	if err != nil {
		p.logger.WithError(err).WithField("endpoint", endpoint).Warn("heartbeat send failed")
	}
}

// resolveEndpoint prefers a discovery lookup by service name and falls back
// to the configured direct URL when discovery is empty or failing.
func (p *Producer) resolveEndpoint(ctx context.Context) (string, error) {
	if p.registry != nil {
		instances, err := p.registry.Lookup(ctx, p.config.ControlService)
		if err != nil {
			p.logger.WithError(err).Debug("discovery lookup failed, trying direct url")
		} else if len(instances) > 0 {
			instance, err := p.selector.Select(p.config.ControlService, p.config.Identity.InstanceID, instances)
			if err == nil {
				return formatEndpoint(p.transport.Protocol(), instance), nil
			}
		}
	}
	if p.config.DirectURL != "" {
		return p.config.DirectURL, nil
	}
	return "", fmt.Errorf("no endpoint for service %q", p.config.ControlService)
}

// formatEndpoint renders an instance per transport protocol: a base URL for
// HTTP, host:port for binary RPC with the port taken from instance metadata.
func formatEndpoint(protocol string, instance discovery.Instance) string {
	switch protocol {
	case "thrift":
		return fmt.Sprintf("%s:%d", instance.Host, metadataPort(instance, "thrift-port", defaultThriftPort))
	case "grpc":
		return fmt.Sprintf("%s:%d", instance.Host, metadataPort(instance, "grpc-port", defaultGRPCPort))
	default:
		return fmt.Sprintf("http://%s:%d", instance.Host, instance.Port)
	}
}

func metadataPort(instance discovery.Instance, key string, fallback int) int {
	raw, ok := instance.Metadata[key]
	if !ok {
		return fallback
	}
	var port int
	if _, err := fmt.Sscanf(raw, "%d", &port); err != nil || port <= 0 {
		return fallback
	}
	return port
}

// Start schedules periodic sends. The schedule uses cron syntax, including
// "@every 30s" descriptors.
func (p *Producer) Start(ctx context.Context) error {
	if !p.config.Enabled {
		return nil
	}
	schedule := p.config.Schedule
	if schedule == "" {
		schedule = "@every 30s"
	}
	p.cron = cron.New()
	if _, err := p.cron.AddFunc(schedule, func() { p.Send(ctx) }); err != nil {
		return fmt.Errorf("schedule heartbeat producer: %w", err)
	}
	p.cron.Start()
	return nil
}

// Stop halts the schedule.
func (p *Producer) Stop() {
	if p.cron != nil {
		p.cron.Stop()
	}
}

// HTTPTransport posts heartbeats as JSON to the control-plane intake,
// propagating any ambient request deadline.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates the default transport.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	return &HTTPTransport{client: httputil.NewClient(client)}
}

func (t *HTTPTransport) Protocol() string { return "http" }

func (t *HTTPTransport) Submit(ctx context.Context, endpoint string, payload *heartbeat.Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode heartbeat: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/api/heartbeat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("heartbeat intake returned %d", resp.StatusCode)
	}
	return nil
}
