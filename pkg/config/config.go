// Package config provides configuration structures, loading logic and the
// hot-reloadable snapshot provider for the admission-control front door.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arbiterhq/arbiter/pkg/domain"
)

// Config holds the full configuration for the router and the attention gate.
type Config struct {
	Server       ServerConfig       `yaml:"server" json:"server"`
	Logging      LoggingConfig      `yaml:"logging" json:"logging"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" json:"telemetry"`
	Bus          BusConfig          `yaml:"bus" json:"bus"`
	Thresholds   ThresholdsConfig   `yaml:"thresholds" json:"thresholds"`
	Salience     SalienceConfig     `yaml:"salience" json:"salience"`
	Backpressure BackpressureConfig `yaml:"backpressure" json:"backpressure"`
	Learning     LearningConfig     `yaml:"learning" json:"learning"`
	IntentRules  IntentRulesConfig  `yaml:"intent_rules" json:"intent_rules"`
	Router       RouterConfig       `yaml:"router" json:"router"`
	Policy       PolicyConfig       `yaml:"policy" json:"policy"`
	QoS          QoSConfig          `yaml:"qos" json:"qos"`
	Development  DevelopmentConfig  `yaml:"development" json:"development"`
}

// ServerConfig holds addresses for the HTTP surface.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Pretty bool   `yaml:"pretty" json:"pretty"`
}

// TelemetryConfig holds configuration for OpenTelemetry export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure" json:"insecure"`
	Environment  string `yaml:"environment" json:"environment"`
}

// BusConfig holds the message-bus emission settings.
type BusConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	URL     string `yaml:"url" json:"url"`
}

// ThresholdsConfig holds the action-selection cut points.
type ThresholdsConfig struct {
	Admit           float64 `yaml:"admit" json:"admit"`
	Boost           float64 `yaml:"boost" json:"boost"`
	Drop            float64 `yaml:"drop" json:"drop"`
	AdaptiveEnabled bool    `yaml:"adaptive_enabled" json:"adaptive_enabled"`
	AdaptationRate  float64 `yaml:"adaptation_rate" json:"adaptation_rate"`
}

// SalienceConfig holds the linear model weights and calibration parameters.
type SalienceConfig struct {
	Weights     domain.SalienceWeights `yaml:"weights" json:"weights"`
	Calibration CalibrationConfig      `yaml:"calibration" json:"calibration"`
}

// CalibrationConfig holds the Platt scaling parameters.
type CalibrationConfig struct {
	Temperature float64 `yaml:"temperature" json:"temperature"`
	PlattA      float64 `yaml:"platt_a" json:"platt_a"`
	PlattB      float64 `yaml:"platt_b" json:"platt_b"`
}

// BackpressureConfig holds the capacity thresholds for load shedding.
type BackpressureConfig struct {
	MaxRequestsPerMinute int     `yaml:"max_requests_per_minute" json:"max_requests_per_minute"`
	MaxQueueSize         int     `yaml:"max_queue_size" json:"max_queue_size"`
	CriticalQueueSize    int     `yaml:"critical_queue_size" json:"critical_queue_size"`
	LoadDeferThreshold   float64 `yaml:"load_defer_threshold" json:"load_defer_threshold"`
	LoadDropThreshold    float64 `yaml:"load_drop_threshold" json:"load_drop_threshold"`
	MaxErrorRate         float64 `yaml:"max_error_rate" json:"max_error_rate"`
	CriticalErrorRate    float64 `yaml:"critical_error_rate" json:"critical_error_rate"`
	MaxP95LatencyMS      float64 `yaml:"max_p95_latency_ms" json:"max_p95_latency_ms"`
	CriticalP95LatencyMS float64 `yaml:"critical_p95_latency_ms" json:"critical_p95_latency_ms"`
}

// LearningConfig controls bounded weight adaptation.
type LearningConfig struct {
	Enabled             bool    `yaml:"enabled" json:"enabled"`
	LearningRate        float64 `yaml:"learning_rate" json:"learning_rate"`
	AdaptationFrequency int     `yaml:"adaptation_frequency" json:"adaptation_frequency"`
	MinSamples          int     `yaml:"min_samples" json:"min_samples"`
	SafetyChecks        bool    `yaml:"safety_checks" json:"safety_checks"`
	RollbackThreshold   float64 `yaml:"rollback_threshold" json:"rollback_threshold"`
}

// IntentRulesConfig holds the heuristic patterns and confidence thresholds
// shared by the router and the intent deriver.
type IntentRulesConfig struct {
	// Patterns maps an intent name to regular expressions matched against
	// request content.
	Patterns map[string][]string `yaml:"patterns" json:"patterns"`
	// Confidence maps an intent name to the minimum declared confidence the
	// router requires for the fast path.
	Confidence map[string]float64 `yaml:"confidence" json:"confidence"`
}

// RouterConfig holds the fast-path eligibility rules.
type RouterConfig struct {
	AllowedIntents             []string             `yaml:"allowed_intents" json:"allowed_intents"`
	DefaultConfidenceThreshold float64              `yaml:"default_confidence_threshold" json:"default_confidence_threshold"`
	RequiredFields             map[string][]string  `yaml:"required_fields" json:"required_fields"`
	MaxPayloadBytes            int                  `yaml:"max_payload_bytes" json:"max_payload_bytes"`
	RecallQueryMinLen          int                  `yaml:"recall_query_min_len" json:"recall_query_min_len"`
	RecallQueryMaxLen          int                  `yaml:"recall_query_max_len" json:"recall_query_max_len"`
	BandIntents                map[string][]string  `yaml:"band_intents" json:"band_intents"`
	RateLimit                  RouterRateLimit      `yaml:"rate_limit" json:"rate_limit"`
}

// RouterRateLimit configures per-intent token bucket limiting on the fast
// path. Disabled buckets always admit.
type RouterRateLimit struct {
	Enabled           bool           `yaml:"enabled" json:"enabled"`
	RequestsPerSecond int            `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int            `yaml:"burst" json:"burst"`
	PerIntent         map[string]int `yaml:"per_intent" json:"per_intent"`
}

// BandModifier tunes action selection for a specific policy band.
type BandModifier struct {
	MaxPriority    float64 `yaml:"max_priority" json:"max_priority"`
	BoostThreshold float64 `yaml:"boost_threshold" json:"boost_threshold"`
}

// PolicyConfig holds band modifiers and external ABAC wiring.
type PolicyConfig struct {
	BandModifiers map[string]BandModifier `yaml:"band_modifiers" json:"band_modifiers"`
	ABAC          ABACConfig              `yaml:"abac" json:"abac"`
}

// ABACConfig enables consultation of the external policy service.
type ABACConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Entrypoint string `yaml:"entrypoint" json:"entrypoint"`
	// ModuleDir points at a directory of Rego modules loaded into the
	// embedded evaluator when no remote service is wired.
	ModuleDir string `yaml:"module_dir" json:"module_dir"`
}

// QoSConfig carries latency targets and budgets per operation class.
type QoSConfig struct {
	Targets map[string]int `yaml:"targets" json:"targets"`
	Budgets map[string]int `yaml:"budgets" json:"budgets"`
}

// DevelopmentConfig holds feature flags for pre-release behaviour.
type DevelopmentConfig struct {
	Features map[string]bool `yaml:"features" json:"features"`
}

// Default returns the stock configuration used when no file is supplied.
func Default() Config {
	return Config{
		Server:  ServerConfig{ListenAddr: ":8080"},
		Logging: LoggingConfig{Level: "info"},
		Bus:     BusConfig{URL: "nats://127.0.0.1:4222"},
		Thresholds: ThresholdsConfig{
			Admit:          0.6,
			Boost:          0.8,
			Drop:           0.2,
			AdaptationRate: 0.1,
		},
		Salience: SalienceConfig{
			Weights:     domain.DefaultSalienceWeights(),
			Calibration: CalibrationConfig{Temperature: 1.0, PlattA: 1.0, PlattB: 0.0},
		},
		Backpressure: BackpressureConfig{
			MaxRequestsPerMinute: 1000,
			MaxQueueSize:         100,
			CriticalQueueSize:    200,
			LoadDeferThreshold:   0.8,
			LoadDropThreshold:    0.95,
			MaxErrorRate:         0.1,
			CriticalErrorRate:    0.2,
			MaxP95LatencyMS:      500,
			CriticalP95LatencyMS: 1000,
		},
		Learning: LearningConfig{
			LearningRate:        0.01,
			AdaptationFrequency: 100,
			MinSamples:          50,
			SafetyChecks:        true,
			RollbackThreshold:   0.15,
		},
		Router: RouterConfig{
			AllowedIntents:             []string{"RECALL", "WRITE", "PROSPECTIVE_SCHEDULE", "PROJECT", "HIPPO_ENCODE"},
			DefaultConfidenceThreshold: 0.8,
			RequiredFields: map[string][]string{
				"RECALL":               {"query"},
				"WRITE":                {"content"},
				"PROSPECTIVE_SCHEDULE": {"when", "content"},
			},
			MaxPayloadBytes:   65536,
			RecallQueryMinLen: 2,
			RecallQueryMaxLen: 1024,
			BandIntents: map[string][]string{
				"GREEN": {"RECALL", "WRITE", "PROSPECTIVE_SCHEDULE", "PROJECT", "HIPPO_ENCODE"},
				"AMBER": {"RECALL", "WRITE"},
				"RED":   {},
				"BLACK": {},
			},
			RateLimit: RouterRateLimit{
				Enabled:           true,
				RequestsPerSecond: 500,
				Burst:             1000,
			},
		},
		Policy: PolicyConfig{
			BandModifiers: map[string]BandModifier{},
		},
	}
}

// Load reads configuration from a file (YAML with JSON fallback), applies
// environment variable overrides and validates the result. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 -- config file path is operator controlled
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			if jsonErr := json.Unmarshal(data, &cfg); jsonErr != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("ARBITER_LISTEN_ADDR"); val != "" {
		cfg.Server.ListenAddr = val
	}
	if val := os.Getenv("ARBITER_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("ARBITER_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("ARBITER_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("ARBITER_BUS_URL"); val != "" {
		cfg.Bus.URL = val
		cfg.Bus.Enabled = true
	}
	if val := os.Getenv("ARBITER_MAX_RPM"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Backpressure.MaxRequestsPerMinute = n
		}
	}
}

// Validate checks invariants that would otherwise surface as runtime faults.
func (c *Config) Validate() error {
	t := c.Thresholds
	if t.Drop < 0 || t.Drop > 1 || t.Admit < 0 || t.Admit > 1 || t.Boost < 0 || t.Boost > 1 {
		return fmt.Errorf("thresholds must be within [0,1]: drop=%v admit=%v boost=%v", t.Drop, t.Admit, t.Boost)
	}
	if !(t.Drop <= t.Admit && t.Admit <= t.Boost) {
		return fmt.Errorf("thresholds must be ordered drop <= admit <= boost: drop=%v admit=%v boost=%v", t.Drop, t.Admit, t.Boost)
	}

	bp := c.Backpressure
	if bp.MaxRequestsPerMinute <= 0 {
		return fmt.Errorf("backpressure.max_requests_per_minute must be positive")
	}
	if bp.CriticalQueueSize < bp.MaxQueueSize {
		return fmt.Errorf("backpressure.critical_queue_size (%d) must be >= max_queue_size (%d)", bp.CriticalQueueSize, bp.MaxQueueSize)
	}
	if bp.LoadDropThreshold < bp.LoadDeferThreshold {
		return fmt.Errorf("backpressure.load_drop_threshold must be >= load_defer_threshold")
	}

	if c.Salience.Calibration.Temperature <= 0 {
		return fmt.Errorf("salience.calibration.temperature must be positive")
	}

	for band := range c.Router.BandIntents {
		if !domain.Band(strings.ToUpper(band)).Valid() {
			return fmt.Errorf("router.band_intents references unknown band %q", band)
		}
	}
	for band := range c.Policy.BandModifiers {
		if !domain.Band(strings.ToUpper(band)).Valid() {
			return fmt.Errorf("policy.band_modifiers references unknown band %q", band)
		}
	}

	if c.Learning.Enabled && c.Learning.LearningRate <= 0 {
		return fmt.Errorf("learning.learning_rate must be positive when learning is enabled")
	}

	return nil
}

// EffectiveWeights merges the calibration block into the weight set the
// salience calculator consumes.
func (c *Config) EffectiveWeights() domain.SalienceWeights {
	w := c.Salience.Weights
	if c.Salience.Calibration.Temperature > 0 {
		w.Temperature = c.Salience.Calibration.Temperature
	}
	if c.Salience.Calibration.PlattA != 0 {
		w.PlattA = c.Salience.Calibration.PlattA
	}
	w.PlattB = c.Salience.Calibration.PlattB
	return w.Clamp()
}

// FeatureEnabled reports whether a development feature flag is set.
func (c *Config) FeatureEnabled(name string) bool {
	return c.Development.Features[name]
}
