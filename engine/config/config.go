package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment prefix for every setting, e.g. CROSSQUERY_MAX_ITEM_COUNT.
const EnvPrefix = "CROSSQUERY"

// Config holds the query defaults applied when FeedOptions leave a knob unset
type Config struct {
	// Paging
	MaxItemCount         int
	MaxBufferedItemCount int

	// Parallelism: 0 serial, -1 auto, N bounded
	MaxDegreeOfParallelism int
	AutoParallelismCap     int

	// Ordering
	AllowMixedTypeOrderBy bool

	// Retries of a backend-reported cancellation while the caller is still waiting
	SpuriousCancelRetries int

	PlanCacheSize int
	TokenVersion  int
}

// ServerConfig holds settings for the HTTP daemon and its embedded backend
type ServerConfig struct {
	ListenAddr         string
	Partitions         int
	PartitionKeyPath   string
	MetricsEnabled     bool
	RequestUnitsPerSec float64
	Query              Config
}

// DefaultConfig returns the default query configuration
func DefaultConfig() Config {
	return Config{
		MaxItemCount:           100,
		MaxBufferedItemCount:   1000,
		MaxDegreeOfParallelism: 0,
		AutoParallelismCap:     64,
		AllowMixedTypeOrderBy:  false,
		SpuriousCancelRetries:  1,
		PlanCacheSize:          256,
		TokenVersion:           1,
	}
}

// DefaultServerConfig returns the default daemon configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:       ":8081",
		Partitions:       4,
		PartitionKeyPath: "/id",
		MetricsEnabled:   true,
		Query:            DefaultConfig(),
	}
}

func newViper(file string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}
	return v, nil
}

func setQueryDefaults(v *viper.Viper, d Config) {
	v.SetDefault("max_item_count", d.MaxItemCount)
	v.SetDefault("max_buffered_item_count", d.MaxBufferedItemCount)
	v.SetDefault("max_degree_of_parallelism", d.MaxDegreeOfParallelism)
	v.SetDefault("auto_parallelism_cap", d.AutoParallelismCap)
	v.SetDefault("allow_mixed_type_order_by", d.AllowMixedTypeOrderBy)
	v.SetDefault("spurious_cancel_retries", d.SpuriousCancelRetries)
	v.SetDefault("plan_cache_size", d.PlanCacheSize)
	v.SetDefault("token_version", d.TokenVersion)
}

func readQuery(v *viper.Viper) Config {
	return Config{
		MaxItemCount:           v.GetInt("max_item_count"),
		MaxBufferedItemCount:   v.GetInt("max_buffered_item_count"),
		MaxDegreeOfParallelism: v.GetInt("max_degree_of_parallelism"),
		AutoParallelismCap:     v.GetInt("auto_parallelism_cap"),
		AllowMixedTypeOrderBy:  v.GetBool("allow_mixed_type_order_by"),
		SpuriousCancelRetries:  v.GetInt("spurious_cancel_retries"),
		PlanCacheSize:          v.GetInt("plan_cache_size"),
		TokenVersion:           v.GetInt("token_version"),
	}
}

// Load reads the query configuration from CROSSQUERY_* environment variables
// and, when file is not empty, from a config file, on top of DefaultConfig.
func Load(file string) (Config, error) {
	v, err := newViper(file)
	if err != nil {
		return Config{}, err
	}
	setQueryDefaults(v, DefaultConfig())
	cfg := readQuery(v)
	return cfg, cfg.Validate()
}

// LoadServer reads the daemon configuration the same way Load does.
func LoadServer(file string) (ServerConfig, error) {
	v, err := newViper(file)
	if err != nil {
		return ServerConfig{}, err
	}
	d := DefaultServerConfig()
	setQueryDefaults(v, d.Query)
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("partitions", d.Partitions)
	v.SetDefault("partition_key_path", d.PartitionKeyPath)
	v.SetDefault("metrics_enabled", d.MetricsEnabled)
	v.SetDefault("request_units_per_sec", d.RequestUnitsPerSec)

	cfg := ServerConfig{
		ListenAddr:         v.GetString("listen_addr"),
		Partitions:         v.GetInt("partitions"),
		PartitionKeyPath:   v.GetString("partition_key_path"),
		MetricsEnabled:     v.GetBool("metrics_enabled"),
		RequestUnitsPerSec: v.GetFloat64("request_units_per_sec"),
		Query:              readQuery(v),
	}
	if cfg.Partitions <= 0 {
		return cfg, fmt.Errorf("partitions must be positive, got %d", cfg.Partitions)
	}
	if !strings.HasPrefix(cfg.PartitionKeyPath, "/") {
		return cfg, fmt.Errorf("partition key path must start with '/', got %q", cfg.PartitionKeyPath)
	}
	return cfg, cfg.Query.Validate()
}

// Validate rejects settings the engine cannot run with
func (c Config) Validate() error {
	if c.MaxItemCount <= 0 {
		return fmt.Errorf("max_item_count must be positive, got %d", c.MaxItemCount)
	}
	if c.MaxBufferedItemCount <= 0 {
		return fmt.Errorf("max_buffered_item_count must be positive, got %d", c.MaxBufferedItemCount)
	}
	if c.MaxDegreeOfParallelism < -1 {
		return fmt.Errorf("max_degree_of_parallelism must be -1, 0 or positive, got %d", c.MaxDegreeOfParallelism)
	}
	if c.AutoParallelismCap <= 0 {
		return fmt.Errorf("auto_parallelism_cap must be positive, got %d", c.AutoParallelismCap)
	}
	if c.SpuriousCancelRetries < 0 {
		return fmt.Errorf("spurious_cancel_retries must not be negative, got %d", c.SpuriousCancelRetries)
	}
	if c.TokenVersion <= 0 {
		return fmt.Errorf("token_version must be positive, got %d", c.TokenVersion)
	}
	return nil
}
