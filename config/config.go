// Package config loads payoutd configuration from defaults, an optional
// YAML file and PAYOUT_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/teambition/rrule-go"

	"github.com/warp/payout-engine/payout"
)

// Dispatch modes of the scheduler.
const (
	DispatchInline = "inline"
	DispatchQueue  = "queue"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Snowflake SnowflakeConfig `mapstructure:"snowflake"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type GeneratorConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type SchedulerConfig struct {
	// Rule is an RFC 5545 RRULE deciding when the scheduler wakes up.
	Rule          string            `mapstructure:"rule"`
	Tenants       []string          `mapstructure:"tenants"`
	ScheduleTypes []string          `mapstructure:"schedule_types"`
	Anchors       map[string]string `mapstructure:"anchors"`
	Dispatch      string            `mapstructure:"dispatch"`
	Operator      string            `mapstructure:"operator"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type WorkerConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	Queue       string `mapstructure:"queue"`
}

type SnowflakeConfig struct {
	Node int64 `mapstructure:"node"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "payoutd")
	v.SetDefault("app.env", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.path", "./data/payout.db")
	v.SetDefault("generator.concurrency", payout.DefaultConcurrency)
	v.SetDefault("scheduler.rule", "FREQ=DAILY;BYHOUR=2;BYMINUTE=0;BYSECOND=0")
	v.SetDefault("scheduler.tenants", []string{})
	v.SetDefault("scheduler.schedule_types", []string{string(payout.ScheduleBiWeekly), string(payout.ScheduleMonthly)})
	v.SetDefault("scheduler.anchors", map[string]string{
		string(payout.ScheduleBiWeekly): "1,15",
		string(payout.ScheduleMonthly):  "1",
	})
	v.SetDefault("scheduler.dispatch", DispatchInline)
	v.SetDefault("scheduler.operator", "scheduler")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue", "payouts")
	v.SetDefault("snowflake.node", 1)
}

// Load reads configuration. An empty path looks for payout.yaml in the
// working directory and ./config; a missing file there is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("payout")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("PAYOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// Comma-separated env values arrive as a single element.
	cfg.Scheduler.Tenants = splitList(cfg.Scheduler.Tenants)
	cfg.Scheduler.ScheduleTypes = splitList(cfg.Scheduler.ScheduleTypes)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configuration the services cannot start with.
// Malformed anchor preferences are not rejected: the schedule calculator
// falls back to its defaults for them.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Generator.Concurrency < 1 {
		return fmt.Errorf("generator.concurrency must be >= 1, got %d", c.Generator.Concurrency)
	}
	if _, err := c.Scheduler.ParsedScheduleTypes(); err != nil {
		return err
	}
	if _, err := rrule.StrToRRule(c.Scheduler.Rule); err != nil {
		return fmt.Errorf("scheduler.rule: %w", err)
	}
	switch c.Scheduler.Dispatch {
	case DispatchInline, DispatchQueue:
	default:
		return fmt.Errorf("scheduler.dispatch must be %q or %q, got %q", DispatchInline, DispatchQueue, c.Scheduler.Dispatch)
	}
	if c.Snowflake.Node < 0 || c.Snowflake.Node > 1023 {
		return fmt.Errorf("snowflake.node must be in 0..1023, got %d", c.Snowflake.Node)
	}
	return nil
}

// ParsedScheduleTypes returns the configured schedule types.
func (s SchedulerConfig) ParsedScheduleTypes() ([]payout.ScheduleType, error) {
	out := make([]payout.ScheduleType, 0, len(s.ScheduleTypes))
	for _, raw := range s.ScheduleTypes {
		st, err := payout.ParseScheduleType(raw)
		if err != nil {
			return nil, fmt.Errorf("scheduler.schedule_types: %w", err)
		}
		out = append(out, st)
	}
	return out, nil
}

// AnchorsFor returns the tenant-level date preference for a schedule type.
func (s SchedulerConfig) AnchorsFor(st payout.ScheduleType) string {
	return s.Anchors[string(st)]
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Env, "production")
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
