// Package config provides a reusable loader for ICN node configuration
// files and environment variables. It is versioned so that applications
// can depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/intercooperative/icn-core/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for an ICN node. It mirrors
// the structure of the YAML files under config/.
type Config struct {
	Identity struct {
		DIDMethod      string `mapstructure:"did_method" json:"did_method"`
		KeyPath        string `mapstructure:"key_path" json:"key_path"`
		ResolverCache  int    `mapstructure:"resolver_cache_size" json:"resolver_cache_size"`
		ResolverTTL    string `mapstructure:"resolver_ttl" json:"resolver_ttl"`
		AllowFallback  bool   `mapstructure:"allow_fallback" json:"allow_fallback"`
	} `mapstructure:"identity" json:"identity"`

	DAG struct {
		StorePath    string `mapstructure:"store_path" json:"store_path"`
		MaxAge       string `mapstructure:"max_age" json:"max_age"`
		MaxTotalSize uint64 `mapstructure:"max_total_size" json:"max_total_size"`
		PruneOnStart bool   `mapstructure:"prune_on_start" json:"prune_on_start"`
	} `mapstructure:"dag" json:"dag"`

	Mana struct {
		BaseCapacity        float64 `mapstructure:"base_capacity" json:"base_capacity"`
		MinCapacity         float64 `mapstructure:"min_capacity" json:"min_capacity"`
		MaxCapacityLimit    float64 `mapstructure:"max_capacity_limit" json:"max_capacity_limit"`
		NetworkHealth       float64 `mapstructure:"network_health" json:"network_health"`
		EmergencyModulation float64 `mapstructure:"emergency_modulation" json:"emergency_modulation"`
	} `mapstructure:"mana" json:"mana"`

	Trust struct {
		MinTrustLevel        float64 `mapstructure:"min_trust_level" json:"min_trust_level"`
		MaxInheritanceDepth  int     `mapstructure:"max_inheritance_depth" json:"max_inheritance_depth"`
		DegradationFactor    float64 `mapstructure:"degradation_factor" json:"degradation_factor"`
		MinInheritedLevel    float64 `mapstructure:"min_inherited_level" json:"min_inherited_level"`
		AllowCrossFederation bool    `mapstructure:"allow_cross_federation" json:"allow_cross_federation"`
		MaxEdgeAge           string  `mapstructure:"max_edge_age" json:"max_edge_age"`
	} `mapstructure:"trust" json:"trust"`

	Federation struct {
		ListenAddr       string   `mapstructure:"listen_addr" json:"listen_addr"`
		BootstrapPeers   []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		ResolutionPolicy string   `mapstructure:"resolution_policy" json:"resolution_policy"`
		MaxDeltaBlocks   int      `mapstructure:"max_delta_blocks" json:"max_delta_blocks"`
		RequestQueueSize int      `mapstructure:"request_queue_size" json:"request_queue_size"`
	} `mapstructure:"federation" json:"federation"`

	Governance struct {
		ProposalManaCost float64 `mapstructure:"proposal_mana_cost" json:"proposal_mana_cost"`
		VotingDuration   string  `mapstructure:"voting_duration" json:"voting_duration"`
		Quorum           float64 `mapstructure:"quorum" json:"quorum"`
		ApprovalThresh   float64 `mapstructure:"approval_threshold" json:"approval_threshold"`
	} `mapstructure:"governance" json:"governance"`

	Mesh struct {
		BidWindow        string `mapstructure:"bid_window" json:"bid_window"`
		ExecutionTimeout string `mapstructure:"execution_timeout" json:"execution_timeout"`
		RefundPolicy     string `mapstructure:"refund_policy" json:"refund_policy"`
	} `mapstructure:"mesh" json:"mesh"`

	Selection struct {
		WeightPrice      float64 `mapstructure:"weight_price" json:"weight_price"`
		WeightReputation float64 `mapstructure:"weight_reputation" json:"weight_reputation"`
		WeightTrust      float64 `mapstructure:"weight_trust" json:"weight_trust"`
		WeightCapability float64 `mapstructure:"weight_capability" json:"weight_capability"`
		WeightFailure    float64 `mapstructure:"weight_failure" json:"weight_failure"`
		ReputationFloor  float64 `mapstructure:"reputation_floor" json:"reputation_floor"`
	} `mapstructure:"selection" json:"selection"`

	WasmHost struct {
		MaxMemoryPages   int     `mapstructure:"max_memory_pages" json:"max_memory_pages"`
		MaxInstructions  uint64  `mapstructure:"max_instructions" json:"max_instructions"`
		HostCallRateHz   float64 `mapstructure:"host_call_rate_hz" json:"host_call_rate_hz"`
		HostCallBurst    int     `mapstructure:"host_call_burst" json:"host_call_burst"`
	} `mapstructure:"wasm_host" json:"wasm_host"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the ICN_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("ICN_ENV", ""))
}
