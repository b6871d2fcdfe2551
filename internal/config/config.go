// Package config loads and validates the resolver's configuration: the
// geographic/recency knobs, the graph-validation feature switches, and the
// mesh graph's persistence strategy. Config is immutable after Load; every
// collaborator receives a copy, never a shared pointer.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Proximity calculator selection.
const (
	ProximitySimple = "simple"
	ProximityPath   = "path"
)

// Path-selection presets. A preset expands into defaults for the four
// graph-override knobs; explicit values in the config file still win.
const (
	PresetBalanced   = "balanced"
	PresetGraph      = "graph"
	PresetGeographic = "geographic"
)

// Config holds every tunable of the resolver and the mesh graph. Field
// names mirror the configuration keys operators set in the YAML file.
type Config struct {
	// Geographic / recency selection.
	ProximityMethod           string  `yaml:"proximity_method"`
	PathProximityFallback     bool    `yaml:"path_proximity_fallback"`
	MaxProximityRangeKM       float64 `yaml:"max_proximity_range"`
	MaxRepeaterAgeDays        int     `yaml:"max_repeater_age_days"`
	RecencyWeight             float64 `yaml:"recency_weight"`
	RecencyDecayHalfLifeHours float64 `yaml:"recency_decay_half_life_hours"`

	// Graph-based validation.
	PathSelectionPreset              string  `yaml:"path_selection_preset"`
	GraphBasedValidation             bool    `yaml:"graph_based_validation"`
	MinEdgeObservations              int     `yaml:"min_edge_observations"`
	GraphUseBidirectional            bool    `yaml:"graph_use_bidirectional"`
	GraphUseHopPosition              bool    `yaml:"graph_use_hop_position"`
	GraphMultiHopEnabled             bool    `yaml:"graph_multi_hop_enabled"`
	GraphMultiHopMaxHops             int     `yaml:"graph_multi_hop_max_hops"`
	GraphConfidenceOverrideThreshold float64 `yaml:"graph_confidence_override_threshold"`
	GraphCombinedMode                bool    `yaml:"graph_combined_mode"`
	GraphCombinedWeight              float64 `yaml:"graph_combined_weight"`

	// Graph score shaping.
	GraphDistancePenaltyKM       float64 `yaml:"graph_distance_penalty_km"`
	GraphDistancePenaltyStrength float64 `yaml:"graph_distance_penalty_strength"`
	GraphZeroHopBonus            float64 `yaml:"graph_zero_hop_bonus"`
	GraphPreferStoredKeys        bool    `yaml:"graph_prefer_stored_keys"`
	GraphFinalHopNormalizationKM float64 `yaml:"graph_final_hop_normalization_km"`
	GraphFinalHopWeight          float64 `yaml:"graph_final_hop_weight"`
	GraphFinalHopMaxDistanceKM   float64 `yaml:"graph_final_hop_max_distance"`
	GraphPathValidationMaxBonus  float64 `yaml:"graph_path_validation_max_bonus"`
	GraphPathValidationObsDiv    float64 `yaml:"graph_path_validation_obs_divisor"`

	// Candidate biasing.
	StarBiasMultiplier float64 `yaml:"star_bias_multiplier"`

	// Mesh graph persistence.
	GraphWriteStrategy        string `yaml:"graph_write_strategy"`
	GraphBatchIntervalSeconds int    `yaml:"graph_batch_interval_seconds"`
	GraphBatchMaxPending      int    `yaml:"graph_batch_max_pending"`
	GraphStartupLoadDays      int    `yaml:"graph_startup_load_days"`

	// Bot location. Both must be set and in range to enable geographic
	// guessing; out-of-range values disable it with a warning, never an
	// error.
	BotLatitude  *float64 `yaml:"bot_latitude"`
	BotLongitude *float64 `yaml:"bot_longitude"`

	// Storage paths / DSNs for the daemon.
	MeshDBPath     string `yaml:"mesh_db_path"`
	ContactsDBPath string `yaml:"contacts_db_path"`
	PostgresDSN    string `yaml:"postgres_dsn"`
	RedisAddr      string `yaml:"redis_addr"`
	StatusAddr     string `yaml:"status_addr"`
}

// Default returns the documented default configuration with the balanced
// preset already expanded.
func Default() Config {
	cfg := Config{
		ProximityMethod:           ProximitySimple,
		PathProximityFallback:     true,
		MaxProximityRangeKM:       200,
		MaxRepeaterAgeDays:        14,
		RecencyWeight:             0.4,
		RecencyDecayHalfLifeHours: 12,

		PathSelectionPreset:   PresetBalanced,
		GraphBasedValidation:  true,
		GraphUseBidirectional: true,
		GraphUseHopPosition:   true,
		GraphMultiHopEnabled:  true,
		GraphMultiHopMaxHops:  2,

		GraphDistancePenaltyKM:       30,
		GraphDistancePenaltyStrength: 0.3,
		GraphZeroHopBonus:            0.4,
		GraphPreferStoredKeys:        true,
		GraphFinalHopNormalizationKM: 50,
		GraphFinalHopWeight:          0.3,
		GraphPathValidationMaxBonus:  0.3,
		GraphPathValidationObsDiv:    50,

		StarBiasMultiplier: 2.5,

		GraphWriteStrategy:        "hybrid",
		GraphBatchIntervalSeconds: 30,
		GraphBatchMaxPending:      100,
		GraphStartupLoadDays:      0,

		MeshDBPath:     "mesh.db",
		ContactsDBPath: "contacts.db",
		StatusAddr:     ":8750",
	}
	applyPreset(&cfg, PresetBalanced)
	return cfg
}

// applyPreset expands a path-selection preset into the four override
// knobs: the confidence threshold at which the graph may override
// geography, the combined-mode blend weight, the edge-observation floor,
// and the multi-hop search depth.
func applyPreset(cfg *Config, preset string) {
	switch preset {
	case PresetGraph:
		cfg.GraphConfidenceOverrideThreshold = 0.5
		cfg.GraphCombinedWeight = 0.75
		cfg.MinEdgeObservations = 2
		cfg.GraphMultiHopMaxHops = 3
	case PresetGeographic:
		cfg.GraphConfidenceOverrideThreshold = 0.85
		cfg.GraphCombinedWeight = 0.4
		cfg.MinEdgeObservations = 4
		cfg.GraphMultiHopMaxHops = 2
	default: // balanced
		cfg.GraphConfidenceOverrideThreshold = 0.7
		cfg.GraphCombinedWeight = 0.6
		cfg.MinEdgeObservations = 3
		cfg.GraphMultiHopMaxHops = 2
	}
}

// Load reads the YAML config at path and merges it over the defaults.
// A missing file yields the defaults. Preset expansion runs before the
// file is applied so explicit values always win over the preset.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			cfg.normalize()
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	// The preset named in the file has to expand before the file's own
	// values decode over it, so decode twice: once to learn the preset,
	// once for everything else.
	var probe struct {
		Preset string `yaml:"path_selection_preset"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	if probe.Preset != "" {
		applyPreset(&cfg, probe.Preset)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	cfg.normalize()
	return cfg, nil
}

// applyEnvOverrides lets operators flip the handful of deploy-specific
// values without editing the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MESH_RESOLVER_BOT_LATITUDE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.BotLatitude = &f
		}
	}
	if v := os.Getenv("MESH_RESOLVER_BOT_LONGITUDE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.BotLongitude = &f
		}
	}
	if v := os.Getenv("MESH_RESOLVER_GRAPH_WRITE_STRATEGY"); v != "" {
		cfg.GraphWriteStrategy = v
	}
	if v := os.Getenv("MESH_RESOLVER_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("MESH_RESOLVER_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
}

// normalize clamps malformed values back to safe defaults and drops
// out-of-range bot coordinates, which silently disables geographic
// guessing.
func (c *Config) normalize() {
	if c.ProximityMethod != ProximitySimple && c.ProximityMethod != ProximityPath {
		log.Warn().Str("proximity_method", c.ProximityMethod).Msg("config: unknown proximity method, using simple")
		c.ProximityMethod = ProximitySimple
	}
	if c.RecencyWeight < 0 || c.RecencyWeight > 1 {
		c.RecencyWeight = 0.4
	}
	if c.RecencyDecayHalfLifeHours <= 0 {
		c.RecencyDecayHalfLifeHours = 12
	}
	if c.StarBiasMultiplier < 1 {
		c.StarBiasMultiplier = 1
	}
	if c.MinEdgeObservations < 1 {
		c.MinEdgeObservations = 1
	}
	if c.GraphMultiHopMaxHops != 2 && c.GraphMultiHopMaxHops != 3 {
		c.GraphMultiHopMaxHops = 2
	}
	if c.GraphBatchIntervalSeconds <= 0 {
		c.GraphBatchIntervalSeconds = 30
	}
	if c.GraphBatchMaxPending <= 0 {
		c.GraphBatchMaxPending = 100
	}

	if c.BotLatitude != nil && c.BotLongitude != nil {
		lat, lon := *c.BotLatitude, *c.BotLongitude
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			log.Warn().
				Float64("bot_latitude", lat).
				Float64("bot_longitude", lon).
				Msg("config: bot coordinates out of range, geographic guessing disabled")
			c.BotLatitude = nil
			c.BotLongitude = nil
		}
	} else if c.BotLatitude != nil || c.BotLongitude != nil {
		log.Warn().Msg("config: only one bot coordinate set, geographic guessing disabled")
		c.BotLatitude = nil
		c.BotLongitude = nil
	}
}

// BotLocation returns the bot's coordinates if geographic guessing is
// enabled.
func (c *Config) BotLocation() (lat, lon float64, ok bool) {
	if c.BotLatitude == nil || c.BotLongitude == nil {
		return 0, 0, false
	}
	return *c.BotLatitude, *c.BotLongitude, true
}
