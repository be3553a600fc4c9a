package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/arbiterhq/arbiter/pkg/backpressure"
	"github.com/arbiterhq/arbiter/pkg/bus"
	"github.com/arbiterhq/arbiter/pkg/config"
	"github.com/arbiterhq/arbiter/pkg/domain"
	"github.com/arbiterhq/arbiter/pkg/gate"
	"github.com/arbiterhq/arbiter/pkg/intent"
	"github.com/arbiterhq/arbiter/pkg/logging"
	"github.com/arbiterhq/arbiter/pkg/policy"
	"github.com/arbiterhq/arbiter/pkg/router"
	"github.com/arbiterhq/arbiter/pkg/salience"
	"github.com/arbiterhq/arbiter/pkg/telemetry"
	"github.com/arbiterhq/arbiter/pkg/tracer"
)

// Build assembles the full decision stack from a configuration provider. The
// returned cleanup function closes the bus connection; call it on shutdown.
func Build(ctx context.Context, provider *config.Provider, logger zerolog.Logger) (*Server, func() error, error) {
	cfg := provider.Current().Config

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	var abac domain.PolicyService
	if cfg.Policy.ABAC.Enabled {
		modules, err := loadRegoModules(cfg.Policy.ABAC.ModuleDir)
		if err != nil {
			return nil, nil, fmt.Errorf("load abac modules: %w", err)
		}
		abac, err = policy.NewOPAService(ctx, policy.OPAServiceOptions{
			Entrypoint: cfg.Policy.ABAC.Entrypoint,
			Modules:    modules,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build abac evaluator: %w", err)
		}
	}

	bridge := policy.NewBridge(abac, logging.Component(logger, "policy"))
	capacity := backpressure.NewManager(provider, logging.Component(logger, "backpressure"))
	deriver := intent.NewDeriver(cfg.IntentRules.Patterns, logging.Component(logger, "intent"))
	calculator := salience.NewCalculator(logging.Component(logger, "salience"))
	adapter := salience.NewAdapter(cfg.Learning, cfg.EffectiveWeights(), logging.Component(logger, "learning"))
	traces := tracer.New(0)

	service := gate.NewService(gate.Options{
		Provider: provider,
		Policy:   bridge,
		Capacity: capacity,
		Intents:  deriver,
		Scorer:   calculator,
		Adapter:  adapter,
		Tracer:   traces,
		Metrics:  metrics,
		Logger:   logging.Component(logger, "gate"),
	})
	adaptive := gate.NewAdaptiveGate(service, capacity)

	rtr := router.New(provider, metrics, logging.Component(logger, "router"))

	var publisher bus.Publisher = bus.NopPublisher{}
	if cfg.Bus.Enabled {
		p, err := bus.NewNATSPublisher(cfg.Bus.URL, logging.Component(logger, "bus"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect bus: %w", err)
		}
		publisher = p
	}

	srv := New(Options{
		Router:    rtr,
		Gate:      adaptive,
		Capacity:  capacity,
		Tracer:    traces,
		Publisher: publisher,
		Feedback:  adapter,
		Metrics:   metrics,
		Logger:    logging.Component(logger, "server"),
	})
	return srv, publisher.Close, nil
}

// loadRegoModules reads every .rego file under dir.
func loadRegoModules(dir string) (map[string]string, error) {
	if dir == "" {
		return nil, fmt.Errorf("policy.abac.module_dir is required when abac is enabled")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	modules := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rego") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		// #nosec G304 -- module directory is operator controlled
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		modules[entry.Name()] = string(data)
	}
	if len(modules) == 0 {
		return nil, fmt.Errorf("no .rego modules found in %s", dir)
	}
	return modules, nil
}
