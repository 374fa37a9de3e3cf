// Package config provides the configuration model for sqlstream.
//
// A single YAML document configures both halves of the process: the source
// section describes the database and the tables to poll, the sink section
// describes the Kinesis stream the polled rows are delivered to.
//
// Example:
//
//	source:
//	  adapter: mysql
//	  host: db.internal
//	  database: shop
//	  username: reader
//	  password: ${DB_PASSWORD}
//	  state_file: /var/lib/sqlstream/state.yml
//	  tag_prefix: shop
//	  tables:
//	    - table: orders
//	      update_column: updated_at
//	      time_column: updated_at
//	sink:
//	  stream_name: shop-events
//	  region: us-east-1
//	  partition_key: id
package config

import (
	"time"

	"github.com/ajitpratap0/sqlstream/pkg/errors"
	"github.com/ajitpratap0/sqlstream/pkg/logger"
)

const (
	// AdapterMySQL selects the MySQL driver
	AdapterMySQL = "mysql"
	// AdapterPostgreSQL selects the PostgreSQL driver
	AdapterPostgreSQL = "postgresql"

	// DefaultSelectInterval is the default time between polling cycles
	DefaultSelectInterval = 60 * time.Second
	// DefaultSelectLimit is the default row limit of each table query
	DefaultSelectLimit = 500
)

// Config is the root configuration document
type Config struct {
	Log     logger.Config `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Source  SourceConfig  `mapstructure:"source" yaml:"source"`
	Sink    SinkConfig    `mapstructure:"sink" yaml:"sink"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Listen is the address serving /metrics; empty disables the endpoint
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// SourceConfig describes the database to poll
type SourceConfig struct {
	Adapter  string `mapstructure:"adapter" yaml:"adapter"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Database string `mapstructure:"database" yaml:"database"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Socket   string `mapstructure:"socket" yaml:"socket"`

	// StateFile stores the last rows; without it progress is lost on restart
	StateFile string `mapstructure:"state_file" yaml:"state_file"`
	// TagPrefix is prepended to every table tag as "<prefix>.<tag>"
	TagPrefix      string        `mapstructure:"tag_prefix" yaml:"tag_prefix"`
	SelectInterval time.Duration `mapstructure:"select_interval" yaml:"select_interval"`
	// SelectLimit caps rows per table per cycle; <= 0 means unbounded
	SelectLimit    int           `mapstructure:"select_limit" yaml:"select_limit"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`

	Tables []TableConfig `mapstructure:"tables" yaml:"tables"`
}

// TableConfig describes one polled table
type TableConfig struct {
	Table        string `mapstructure:"table" yaml:"table"`
	Tag          string `mapstructure:"tag" yaml:"tag"`
	UpdateColumn string `mapstructure:"update_column" yaml:"update_column"`
	TimeColumn   string `mapstructure:"time_column" yaml:"time_column"`
	PrimaryKey   string `mapstructure:"primary_key" yaml:"primary_key"`
}

// SinkConfig describes the Kinesis stream records are delivered to
type SinkConfig struct {
	StreamName         string `mapstructure:"stream_name" yaml:"stream_name"`
	PartitionKey       string `mapstructure:"partition_key" yaml:"partition_key"`
	RandomPartitionKey bool   `mapstructure:"random_partition_key" yaml:"random_partition_key"`

	Region    string `mapstructure:"region" yaml:"region"`
	AWSKeyID  string `mapstructure:"aws_key_id" yaml:"aws_key_id"`
	AWSSecKey string `mapstructure:"aws_sec_key" yaml:"aws_sec_key"`
	// Endpoint overrides the service endpoint, e.g. for localstack
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	EnsureStreamConnection bool `mapstructure:"ensure_stream_connection" yaml:"ensure_stream_connection"`
	Debug                  bool `mapstructure:"debug" yaml:"debug"`

	IncludeTimeKey bool   `mapstructure:"include_time_key" yaml:"include_time_key"`
	TimeKey        string `mapstructure:"time_key" yaml:"time_key"`
	TimeFormat     string `mapstructure:"time_format" yaml:"time_format"`
	IncludeTagKey  bool   `mapstructure:"include_tag_key" yaml:"include_tag_key"`
	TagKey         string `mapstructure:"tag_key" yaml:"tag_key"`

	Retry  RetryConfig  `mapstructure:"retry" yaml:"retry"`
	Buffer BufferConfig `mapstructure:"buffer" yaml:"buffer"`
}

// RetryConfig controls re-sending of records the stream did not accept
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// BufferConfig controls how emitted records are chunked before delivery
type BufferConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	ChunkLimit    int           `mapstructure:"chunk_limit" yaml:"chunk_limit"`
	// QueueLimit caps the events held while the stream is failing; emits
	// beyond it are refused until the backlog drains
	QueueLimit int `mapstructure:"queue_limit" yaml:"queue_limit"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	return &Config{
		Log: logger.DefaultConfig(),
		Source: SourceConfig{
			SelectInterval: DefaultSelectInterval,
			SelectLimit:    DefaultSelectLimit,
			ConnectTimeout: 30 * time.Second,
		},
		Sink: SinkConfig{
			EnsureStreamConnection: true,
			IncludeTimeKey:         true,
			TimeKey:                "time",
			TimeFormat:             time.RFC3339,
			IncludeTagKey:          true,
			TagKey:                 "tag",
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: time.Second,
				MaxDelay:     30 * time.Second,
			},
			Buffer: BufferConfig{
				FlushInterval: time.Second,
				ChunkLimit:    500,
				QueueLimit:    10000,
			},
		},
	}
}

// Validate checks the whole document
func (c *Config) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return err
	}
	return c.Sink.Validate()
}

// Validate checks the source section
func (s *SourceConfig) Validate() error {
	switch s.Adapter {
	case AdapterMySQL, AdapterPostgreSQL:
	case "":
		return errors.New(errors.ErrorTypeConfig, "'adapter' is required")
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unsupported adapter %q", s.Adapter).
			WithDetail("supported", []string{AdapterMySQL, AdapterPostgreSQL})
	}
	if s.Database == "" {
		return errors.New(errors.ErrorTypeConfig, "'database' is required")
	}
	if s.Host == "" && s.Socket == "" {
		return errors.New(errors.ErrorTypeConfig, "either 'host' or 'socket' is required")
	}
	if s.Port < 0 || s.Port > 65535 {
		return errors.Newf(errors.ErrorTypeConfig, "invalid port %d", s.Port)
	}
	if s.SelectInterval <= 0 {
		return errors.New(errors.ErrorTypeConfig, "'select_interval' must be positive")
	}
	if len(s.Tables) == 0 {
		return errors.New(errors.ErrorTypeConfig, "at least one table section is required")
	}

	seen := make(map[string]struct{}, len(s.Tables))
	for i, t := range s.Tables {
		if t.Table == "" {
			return errors.Newf(errors.ErrorTypeConfig, "tables[%d]: 'table' is required", i)
		}
		if _, dup := seen[t.Table]; dup {
			return errors.Newf(errors.ErrorTypeConfig, "table %q is configured twice", t.Table)
		}
		seen[t.Table] = struct{}{}
	}
	return nil
}

// Validate checks the sink section
func (s *SinkConfig) Validate() error {
	if s.StreamName == "" {
		return errors.New(errors.ErrorTypeConfig, "'stream_name' is required")
	}
	if s.PartitionKey == "" && !s.RandomPartitionKey {
		return errors.New(errors.ErrorTypeConfig, "'partition_key' is required")
	}
	if (s.AWSKeyID == "") != (s.AWSSecKey == "") {
		return errors.New(errors.ErrorTypeConfig, "'aws_key_id' and 'aws_sec_key' must be set together")
	}
	if s.IncludeTimeKey && s.TimeKey == "" {
		return errors.New(errors.ErrorTypeConfig, "'time_key' must not be empty when include_time_key is set")
	}
	if s.IncludeTagKey && s.TagKey == "" {
		return errors.New(errors.ErrorTypeConfig, "'tag_key' must not be empty when include_tag_key is set")
	}
	if s.Retry.MaxAttempts < 1 {
		return errors.New(errors.ErrorTypeConfig, "'retry.max_attempts' must be at least 1")
	}
	if s.Buffer.ChunkLimit < 1 {
		return errors.New(errors.ErrorTypeConfig, "'buffer.chunk_limit' must be at least 1")
	}
	if s.Buffer.QueueLimit < s.Buffer.ChunkLimit {
		return errors.New(errors.ErrorTypeConfig, "'buffer.queue_limit' must not be smaller than 'buffer.chunk_limit'")
	}
	if s.Buffer.FlushInterval <= 0 {
		return errors.New(errors.ErrorTypeConfig, "'buffer.flush_interval' must be positive")
	}
	return nil
}
