// Package config loads gateway persistence settings from an optional
// YAML file with sensible defaults for every knob.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Kafka struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	EventsTopic string   `mapstructure:"events_topic"`
	ExportTopic string   `mapstructure:"export_topic"`
}

type Config struct {
	LogDir     string `mapstructure:"log_dir"`
	CatalogDir string `mapstructure:"catalog_dir"`

	ContextsFileSize  int `mapstructure:"contexts_file_size"`
	IndexFileSize     int `mapstructure:"index_file_size"`
	PositionsFileSize int `mapstructure:"positions_file_size"`
	CacheNumSets      int `mapstructure:"cache_num_sets"`
	CacheSetSize      int `mapstructure:"cache_set_size"`

	OutboundStreamID int32 `mapstructure:"outbound_stream_id"`
	InboundStreamID  int32 `mapstructure:"inbound_stream_id"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level"`

	Kafka Kafka `mapstructure:"kafka"`
}

// Load reads path (when given) over the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("log_dir", "./fixlog-data/journal")
	v.SetDefault("catalog_dir", "./fixlog-data/catalog")
	v.SetDefault("contexts_file_size", 4*1024*1024)
	// Header plus a power-of-two ring.
	v.SetDefault("index_file_size", 24+1<<20)
	v.SetDefault("positions_file_size", 64*1024)
	v.SetDefault("cache_num_sets", 16)
	v.SetDefault("cache_set_size", 8)
	v.SetDefault("outbound_stream_id", 1)
	v.SetDefault("inbound_stream_id", 2)
	v.SetDefault("metrics_addr", ":9494")
	v.SetDefault("log_level", "info")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.events_topic", "fixlog.events")
	v.SetDefault("kafka.export_topic", "fixlog.export")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// ContextsFilePath is the session-identity store location.
func (c *Config) ContextsFilePath() string {
	return c.LogDir + "/session-contexts"
}
