// Command heartbeat-agent is the SDK-side worker shim: it builds heartbeat
// payloads for the host process and ships them to the control plane on a
// schedule. It is the reference wiring for embedding the producer.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/HZeroxium/fleet-control/domain/heartbeat"
	"github.com/HZeroxium/fleet-control/infrastructure/config"
	"github.com/HZeroxium/fleet-control/infrastructure/discovery"
	"github.com/HZeroxium/fleet-control/infrastructure/loadbalancer"
	"github.com/HZeroxium/fleet-control/infrastructure/logging"
	"github.com/HZeroxium/fleet-control/infrastructure/metrics"
	heartbeatsvc "github.com/HZeroxium/fleet-control/services/heartbeat"
)

func main() {
	logger := logging.NewFromEnv("heartbeat-agent")
	m := metrics.Init("heartbeat-agent")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	selector, err := loadbalancer.New(config.Get("loadbalancer.policy", loadbalancer.PolicyRoundRobin))
	if err != nil {
		logger.WithError(err).Fatal("invalid load balancer policy")
	}

	// A static discovery table seeded from the environment; production SDKs
	// plug a live registry in here.
	registry := discovery.NewStaticRegistry()
	controlService := config.Get("app.heartbeat.control-service", "fleet-control")
	if endpoints := config.GetCSV("app.heartbeat.control-endpoints"); len(endpoints) > 0 {
		instances := make([]discovery.Instance, 0, len(endpoints))
		for i, endpoint := range endpoints {
			host, port := splitHostPort(endpoint)
			instances = append(instances, discovery.Instance{
				ServiceID:  controlService,
				InstanceID: controlService + "-" + strconv.Itoa(i),
				Host:       host,
				Port:       port,
			})
		}
		registry.SetInstances(controlService, instances)
	}

	hostname, _ := os.Hostname()
	producer := heartbeatsvc.NewProducer(heartbeatsvc.ProducerConfig{
		Enabled:        config.GetBool("app.heartbeat.async-enabled", true),
		ControlService: controlService,
		DirectURL:      config.Get("app.heartbeat.direct-url", ""),
		Schedule:       config.Get("app.heartbeat.schedule", "@every 30s"),
		Identity: heartbeat.Payload{
			ServiceName: config.Get("app.name", "unknown-service"),
			InstanceID:  config.Get("app.instance-id", hostname),
			Host:        hostname,
			Port:        config.GetInt("app.http.port", 8080),
			Environment: config.Get("app.environment", "dev"),
			Version:     config.Get("app.version", "0.0.0"),
			Metadata: map[string]string{
				"hostname": hostname,
				"profile":  config.Get("app.environment", "dev"),
			},
		},
		Properties: propertiesFromEnviron(),
	}, registry, selector, heartbeatsvc.NewHTTPTransport(nil), logger, m)

	if err := producer.Start(ctx); err != nil {
		logger.WithError(err).Fatal("producer schedule failed")
	}
	defer producer.Stop()

	producer.Send(ctx) // one immediate beat so the fleet sees the instance now

	<-ctx.Done()
}

// propertiesFromEnviron snapshots APP_-prefixed configuration for the config
// hash; credential-bearing keys are filtered by the hash itself.
func propertiesFromEnviron() map[string]string {
	props := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 && strings.HasPrefix(parts[0], "APP_") {
			props[parts[0]] = parts[1]
		}
	}
	return props
}

func splitHostPort(endpoint string) (string, int) {
	host, portRaw, found := strings.Cut(endpoint, ":")
	if !found {
		return endpoint, 8080
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil {
		return host, 8080
	}
	return host, port
}
