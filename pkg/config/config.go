// Package config loads the YAML configuration, applies struct defaults,
// environment overrides and validation at startup. Configuration is read once;
// nothing reloads at runtime.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"StructPulse/pkg/util"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required,oneof=development staging production"`

	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`

	Logging struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error fatal panic"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logging"`

	Engine struct {
		Instruments         []string      `yaml:"instruments" validate:"min=1,dive,required"`
		Timeframes          []string      `yaml:"timeframes" validate:"min=1,dive,oneof=M1 M5 M15 H1 H4 D1"`
		BarRetention        int           `yaml:"bar_retention" default:"1000" validate:"gt=0"`
		WindowSize          int           `yaml:"window_size" default:"200" validate:"gt=0"`
		DisagreementPenalty float64       `yaml:"disagreement_penalty" default:"0.5" validate:"gt=0,lt=1"`
		CycleDeadline       time.Duration `yaml:"cycle_deadline"`
		MinAuthorityBars    int           `yaml:"min_authority_bars" default:"20" validate:"gt=0"`
	} `yaml:"engine"`

	Detection struct {
		SwingStrength      int     `yaml:"swing_strength" default:"2"`
		ATRPeriod          int     `yaml:"atr_period" default:"14"`
		MinStructureWindow int     `yaml:"min_structure_window" default:"20"`
		MinImbalanceWindow int     `yaml:"min_imbalance_window" default:"3"`
		MinOrderWindow     int     `yaml:"min_order_window" default:"10"`
		DisplacementFactor float64 `yaml:"displacement_factor" default:"2.0"`
		MaxClusterBars     int     `yaml:"max_cluster_bars" default:"3"`
	} `yaml:"detection"`

	Memory struct {
		EventLogRetention     int           `yaml:"event_log_retention" default:"200"`
		DecisionCacheTTL      time.Duration `yaml:"decision_cache_ttl"`
		BlendRawWeight        float64       `yaml:"blend_raw_weight" default:"0.5"`
		BlendHistoryWeight    float64       `yaml:"blend_history_weight" default:"0.3"`
		BlendQualityWeight    float64       `yaml:"blend_quality_weight" default:"0.2"`
		BaselineConfidence    float64       `yaml:"baseline_confidence" default:"0.55"`
		KNearest              int           `yaml:"k_nearest" default:"10"`
		MinSamples            int           `yaml:"min_samples" default:"5"`
		MagnitudeTolerance    float64       `yaml:"magnitude_tolerance" default:"0.2"`
		SuppressionThreshold  float64       `yaml:"suppression_threshold" default:"2.0"`
		SignatureDecay        float64       `yaml:"signature_decay" default:"0.9"`
		BiasShiftConfidence   float64       `yaml:"bias_shift_confidence" default:"0.6"`
		ResolutionHorizonBars int           `yaml:"resolution_horizon_bars" default:"20"`
		ConfirmThreshold      float64       `yaml:"confirm_threshold" default:"0.5"`
		QualityAlpha          float64       `yaml:"quality_alpha" default:"0.1"`
	} `yaml:"memory"`

	Persistence struct {
		FlushInterval time.Duration `yaml:"flush_interval"`
		BatchSize     int           `yaml:"batch_size" default:"32"`
		MaxRetries    int           `yaml:"max_retries" default:"3"`
		RetryBackoff  time.Duration `yaml:"retry_backoff"`
		Redis         struct {
			Host     string `yaml:"host" default:"localhost"`
			Port     int    `yaml:"port" default:"6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix" default:"structpulse"`
		} `yaml:"redis"`
	} `yaml:"persistence"`

	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		BarsTopic    string   `yaml:"bars_topic" default:"market.bars"`
		EventsTopic  string   `yaml:"events_topic" default:"structpulse.events"`
		LogsTopic    string   `yaml:"logs_topic" default:"structpulse.logs"`
		RequiredAcks int      `yaml:"required_acks" default:"1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"structpulse"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`

	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"structpulse"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`

	Feed struct {
		Enabled        bool          `yaml:"enabled"`
		WebSocketURL   string        `yaml:"websocket_url"`
		APIKey         string        `yaml:"api_key"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
	} `yaml:"feed"`
}

// Load reads, defaults, and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	c.applyDurationDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("INSTRUMENTS"); v != "" {
		c.Engine.Instruments = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_BARS_TOPIC"); v != "" {
		c.Kafka.BarsTopic = v
	}
	if v := os.Getenv("KAFKA_EVENTS_TOPIC"); v != "" {
		c.Kafka.EventsTopic = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Persistence.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		c.Persistence.Redis.Port = util.ParseIntDefault(v, c.Persistence.Redis.Port)
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Persistence.Redis.Password = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("FEED_API_KEY"); v != "" {
		c.Feed.APIKey = v
	}

	return c, nil
}

// applyDurationDefaults fills zero durations; the defaults tag cannot
// express them.
func (c *Config) applyDurationDefaults() {
	setDur := func(d *time.Duration, def time.Duration) {
		if *d <= 0 {
			*d = def
		}
	}
	setDur(&c.Server.ReadTimeout, 10*time.Second)
	setDur(&c.Server.WriteTimeout, 10*time.Second)
	setDur(&c.Server.ShutdownTimeout, 15*time.Second)
	setDur(&c.Engine.CycleDeadline, 3*time.Second)
	setDur(&c.Memory.DecisionCacheTTL, 5*time.Minute)
	setDur(&c.Persistence.FlushInterval, 30*time.Second)
	setDur(&c.Persistence.RetryBackoff, 200*time.Millisecond)
	setDur(&c.Kafka.Producer.Linger, 10*time.Millisecond)
	setDur(&c.Kafka.Producer.WriteTimeout, 10*time.Second)
	setDur(&c.Kafka.Producer.ReadTimeout, 10*time.Second)
	setDur(&c.Kafka.Consumer.BackoffMin, 100*time.Millisecond)
	setDur(&c.Kafka.Consumer.BackoffMax, 5*time.Second)
	setDur(&c.ClickHouse.DialTimeout, 5*time.Second)
	setDur(&c.ClickHouse.ReadTimeout, 30*time.Second)
	setDur(&c.ClickHouse.WriteTimeout, 30*time.Second)
	setDur(&c.ClickHouse.MaxExecutionTime, time.Minute)
	setDur(&c.Feed.ReconnectDelay, 5*time.Second)
	setDur(&c.Feed.PingInterval, 30*time.Second)
}

// Validate checks structural constraints plus the cross-field rules the tag
// language cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if sum := c.Memory.BlendRawWeight + c.Memory.BlendHistoryWeight + c.Memory.BlendQualityWeight; sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("memory blend weights must sum to 1, got %.3f", sum)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Feed.Enabled && c.Feed.WebSocketURL == "" {
		return fmt.Errorf("feed.websocket_url is required when the feed is enabled")
	}
	return nil
}
