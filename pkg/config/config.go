package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"TradeGuard/pkg/util"
)

// Threshold is one classifier predicate as written in YAML.
type Threshold struct {
	Mode       string  `yaml:"mode" validate:"required,oneof=degraded panic halt_entry"`
	Reason     string  `yaml:"reason" validate:"required"`
	Metric     string  `yaml:"metric" validate:"required"`
	Stat       string  `yaml:"stat" validate:"omitempty,oneof=ewma percentile max silence"`
	P          float64 `yaml:"p" validate:"gte=0,lte=100"`
	Bound      string  `yaml:"bound" validate:"omitempty,oneof=upper lower"`
	Threshold  float64 `yaml:"threshold" validate:"gte=0"`
	MinSamples int     `yaml:"min_samples" validate:"gte=0"`
}

// Guard configures one guard controller. Empty thresholds select the
// built-in predicate set for that guard.
type Guard struct {
	Enabled            bool                     `yaml:"enabled" default:"true"`
	Source             string                   `yaml:"source"`
	Labels             map[string]string        `yaml:"labels"`
	Alpha              float64                  `yaml:"alpha" default:"0.3" validate:"gt=0,lte=1"`
	Alphas             map[string]float64       `yaml:"alphas" validate:"dive,gt=0,lte=1"`
	Window             int                      `yaml:"window" default:"512" validate:"gte=1"`
	Validity           time.Duration            `yaml:"validity" default:"5m"`
	RefreshBefore      time.Duration            `yaml:"refresh_before" default:"1m"`
	DecayWindow        time.Duration            `yaml:"decay_window" default:"30s"`
	RecoveryMultiplier float64                  `yaml:"recovery_multiplier" default:"0.8" validate:"gt=0,lte=1"`
	MinHold            map[string]time.Duration `yaml:"min_hold"`
	EscalationBudget   map[string]time.Duration `yaml:"escalation_budget"`
	Thresholds         []Threshold              `yaml:"thresholds" validate:"dive"`
	// TagScales tightens thresholds while a context tag is active. Scales of
	// simultaneously active tags multiply.
	TagScales map[string]float64 `yaml:"tag_scales" validate:"dive,gt=0,lte=1"`
	MinScale  float64            `yaml:"min_scale" default:"0.5" validate:"gt=0,lte=1"`
}

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	ServiceName string `yaml:"service_name" default:"tradeguard"`
	Log         struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8090" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"5s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		RateLimit       float64       `yaml:"rate_limit" default:"5"`
		RateBurst       int           `yaml:"rate_burst" default:"10"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Kafka struct {
		Brokers      []string `yaml:"brokers" validate:"required,min=1"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"5ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"5s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID     string        `yaml:"group_id" default:"tradeguard"`
			Workers     int           `yaml:"workers" default:"4" validate:"gte=1"`
			BufferSize  int           `yaml:"buffer_size" default:"256"`
			RetryMax    int           `yaml:"retry_max" default:"2"`
			BackoffMin  time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax  time.Duration `yaml:"backoff_max" default:"1s"`
			DLQTopic    string        `yaml:"dlq_topic"`
			StartOffset string        `yaml:"start_offset" default:"latest" validate:"oneof=earliest latest"`
		} `yaml:"consumer"`
		Topics struct {
			Ping         string `yaml:"ping" default:"telemetry.ping"`
			MarketData   string `yaml:"marketdata" default:"telemetry.marketdata"`
			OrderStream  string `yaml:"orderstream" default:"telemetry.orderstream"`
			RateLimit    string `yaml:"ratelimit" default:"telemetry.ratelimit"`
			OrderJourney string `yaml:"order_journey" default:"telemetry.order_journey"`
			Context      string `yaml:"context" default:"telemetry.context"`
			Override     string `yaml:"override" default:"guard.override"`
			Directive    string `yaml:"directive" default:"guard.directive"`
			Metrics      string `yaml:"metrics" default:"guard.metrics"`
			Failover     string `yaml:"failover" default:"guard.failover.recommendation"`
			Advice       string `yaml:"advice" default:"guard.advice"`
			Alerts       string `yaml:"alerts" default:"guard.alerts"`
			Logs         string `yaml:"logs" default:"guard.logs"`
		} `yaml:"topics"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Addr     string        `yaml:"addr" default:"localhost:6379"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix" default:"tradeguard"`
		L1TTL    time.Duration `yaml:"l1_ttl" default:"30s"`
	} `yaml:"redis"`
	ClickHouse struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"tradeguard"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		UseHTTP      bool          `yaml:"use_http"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		BatchSize    int           `yaml:"batch_size" default:"200"`
		FlushEvery   time.Duration `yaml:"flush_every" default:"2s"`
		Retention    time.Duration `yaml:"retention" default:"720h"`
	} `yaml:"clickhouse"`
	Guards struct {
		EvaluateInterval time.Duration `yaml:"evaluate_interval" default:"1s" validate:"gt=0"`
		ReportInterval   time.Duration `yaml:"report_interval" default:"15s" validate:"gt=0"`
		HistoryHorizon   time.Duration `yaml:"history_horizon" default:"15m"`
		MaxSampleAge     time.Duration `yaml:"max_sample_age" default:"1m"`
		Connectivity     Guard         `yaml:"connectivity"`
		Execution        Guard         `yaml:"execution"`
	} `yaml:"guards"`
	Endpoints struct {
		IDs             []string      `yaml:"ids"`
		Active          string        `yaml:"active"`
		RTTCeilingMs    float64       `yaml:"rtt_ceiling_ms" default:"1000" validate:"gt=0"`
		RateLimitWeight float64       `yaml:"rate_limit_weight" default:"0.3" validate:"gte=0,lte=1"`
		StaleAfter      time.Duration `yaml:"stale_after" default:"30s"`
		HalfLife        time.Duration `yaml:"half_life" default:"30s"`
		Margin          float64       `yaml:"margin" default:"0.3" validate:"gte=0,lte=1"`
		Floor           float64       `yaml:"floor" default:"0.6" validate:"gte=0,lte=1"`
		MinInterval     time.Duration `yaml:"min_interval" default:"2m"`
	} `yaml:"endpoints"`
	Advice struct {
		SoftSlippageBps float64 `yaml:"soft_slippage_bps" default:"8"`
		HardSliceCap    int     `yaml:"hard_slice_cap" default:"6" validate:"gte=1"`
	} `yaml:"advice"`
	Peer struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		MinMode string `yaml:"min_mode" default:"halt_entry" validate:"oneof=degraded panic halt_entry"`
	} `yaml:"peer"`
	Probe struct {
		Enabled  bool          `yaml:"enabled"`
		Interval time.Duration `yaml:"interval" default:"5s" validate:"gt=0"`
		Timeout  time.Duration `yaml:"timeout" default:"3s" validate:"gt=0"`
		Targets  []struct {
			ID  string `yaml:"id" validate:"required"`
			URL string `yaml:"url" validate:"required,url"`
		} `yaml:"targets" validate:"dive"`
	} `yaml:"probe"`
	Alert struct {
		Cooldown       time.Duration `yaml:"cooldown" default:"5m"`
		WebhookURL     string        `yaml:"webhook_url" validate:"omitempty,url"`
		WebhookTimeout time.Duration `yaml:"webhook_timeout" default:"5s"`
	} `yaml:"alert"`
	Dispatch struct {
		BufferSize       int           `yaml:"buffer_size" default:"256" validate:"gte=1"`
		PublishTimeout   time.Duration `yaml:"publish_timeout" default:"5s"`
		BreakerFailures  uint32        `yaml:"breaker_failures" default:"3" validate:"gte=1"`
		BreakerOpenFor   time.Duration `yaml:"breaker_open_for" default:"30s"`
		BreakerHalfOpenN uint32        `yaml:"breaker_half_open" default:"1"`
	} `yaml:"dispatch"`
}

var validate = validator.New()

// Parse applies defaults, decodes YAML over them and validates.
func Parse(b []byte) (*Config, error) {
	return parse(b, nil)
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parse(b, nil)
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parse(b, os.Getenv)
}

// Defaults are set before decoding so an explicit false or zero in the file
// is kept.
func parse(b []byte, getenv func(string) string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if getenv != nil {
		if err := c.applyEnv(getenv); err != nil {
			return nil, err
		}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitNonEmpty(v, ",")
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v := getenv("ADMIN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ADMIN_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	c.Guards.EvaluateInterval = util.ParseDurationDefault(getenv("GUARD_EVALUATE_INTERVAL"), c.Guards.EvaluateInterval)
	if v := getenv("ALERT_WEBHOOK_URL"); v != "" {
		c.Alert.WebhookURL = v
	}
	return nil
}

// Validate checks structural validity. Threshold consistency is checked
// separately by the guards so it can raise an operator alert instead of
// refusing to start.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	var errs []error
	if c.Endpoints.Active != "" && !contains(c.Endpoints.IDs, c.Endpoints.Active) {
		errs = append(errs, fmt.Errorf("endpoints.active %q is not in endpoints.ids", c.Endpoints.Active))
	}
	if c.Guards.Connectivity.Enabled && len(c.Endpoints.IDs) == 0 {
		errs = append(errs, errors.New("endpoints.ids cannot be empty when the connectivity guard is enabled"))
	}
	if !c.Guards.Connectivity.Enabled && !c.Guards.Execution.Enabled {
		errs = append(errs, errors.New("at least one guard must be enabled"))
	}
	for _, t := range c.Probe.Targets {
		if !contains(c.Endpoints.IDs, t.ID) {
			errs = append(errs, fmt.Errorf("probe target %q is not in endpoints.ids", t.ID))
		}
	}
	return errors.Join(errs...)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
