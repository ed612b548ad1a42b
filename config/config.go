package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type DB struct {
	Driver string
	Host   string
	Port   int
	User   string
	Pass   string
	Name   string
	Path   string
}

type Transport struct {
	SecurePort     int
	PlainPort      int
	ConnectTimeout time.Duration
	ExecTimeout    time.Duration
}

type Retry struct {
	MaxRetries   int
	InitialDelay time.Duration
}

type CacheTTL struct {
	DeviceStatus  time.Duration
	Inventory     time.Duration
	Configuration time.Duration
}

type Health struct {
	// Category weights; the four must sum to 100.
	AvailabilityWeight int
	PerformanceWeight  int
	SecurityWeight     int
	ComplianceWeight   int

	CPUWarnPercent    float64
	MemoryWarnPercent float64
	DiskWarnPercent   float64
	MaxPatchAgeDays   int
	StaleAfter        time.Duration // LastSeen older than this degrades availability
}

type Config struct {
	DB            DB
	Transport     Transport
	Retry         Retry
	CacheTTL      CacheTTL
	Health        Health
	ThrottleLimit int
	SessionTTL    time.Duration
	DedupWindow   time.Duration
	TokenSecret   string
	AuditFallback string // JSONL sink used when the store write fails
	RedisAddr     string // optional shared cache backend
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("db.driver", "mysql")
	v.SetDefault("db.host", "127.0.0.1")
	v.SetDefault("db.port", 3306)
	v.SetDefault("db.user", "root")
	v.SetDefault("db.pass", "")
	v.SetDefault("db.name", "fleetward")
	v.SetDefault("db.path", "fleetward.db")
	v.SetDefault("transport.secure_port", 8986)
	v.SetDefault("transport.plain_port", 8985)
	v.SetDefault("transport.connect_timeout_sec", 5)
	v.SetDefault("transport.exec_timeout_sec", 60)
	v.SetDefault("engine.throttle_limit", 50)
	v.SetDefault("engine.session_ttl_sec", 300)
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.initial_delay_sec", 2)
	v.SetDefault("engine.dedup_window_sec", 3600)
	v.SetDefault("cache.device_status_ttl_sec", 300)
	v.SetDefault("cache.inventory_ttl_sec", 86400)
	v.SetDefault("cache.configuration_ttl_sec", 3600)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("health.availability_weight", 25)
	v.SetDefault("health.performance_weight", 25)
	v.SetDefault("health.security_weight", 25)
	v.SetDefault("health.compliance_weight", 25)
	v.SetDefault("health.cpu_warn_percent", 90.0)
	v.SetDefault("health.memory_warn_percent", 90.0)
	v.SetDefault("health.disk_warn_percent", 85.0)
	v.SetDefault("health.max_patch_age_days", 30)
	v.SetDefault("health.stale_after_sec", 900)
	v.SetDefault("audit.fallback_path", "audit-fallback.jsonl")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DB: DB{
			Driver: v.GetString("db.driver"),
			Host:   v.GetString("db.host"),
			Port:   v.GetInt("db.port"),
			User:   v.GetString("db.user"),
			Pass:   v.GetString("db.pass"),
			Name:   v.GetString("db.name"),
			Path:   v.GetString("db.path"),
		},
		Transport: Transport{
			SecurePort:     v.GetInt("transport.secure_port"),
			PlainPort:      v.GetInt("transport.plain_port"),
			ConnectTimeout: time.Duration(v.GetInt("transport.connect_timeout_sec")) * time.Second,
			ExecTimeout:    time.Duration(v.GetInt("transport.exec_timeout_sec")) * time.Second,
		},
		Retry: Retry{
			MaxRetries:   v.GetInt("engine.max_retries"),
			InitialDelay: time.Duration(v.GetInt("engine.initial_delay_sec")) * time.Second,
		},
		CacheTTL: CacheTTL{
			DeviceStatus:  time.Duration(v.GetInt("cache.device_status_ttl_sec")) * time.Second,
			Inventory:     time.Duration(v.GetInt("cache.inventory_ttl_sec")) * time.Second,
			Configuration: time.Duration(v.GetInt("cache.configuration_ttl_sec")) * time.Second,
		},
		Health: Health{
			AvailabilityWeight: v.GetInt("health.availability_weight"),
			PerformanceWeight:  v.GetInt("health.performance_weight"),
			SecurityWeight:     v.GetInt("health.security_weight"),
			ComplianceWeight:   v.GetInt("health.compliance_weight"),
			CPUWarnPercent:     v.GetFloat64("health.cpu_warn_percent"),
			MemoryWarnPercent:  v.GetFloat64("health.memory_warn_percent"),
			DiskWarnPercent:    v.GetFloat64("health.disk_warn_percent"),
			MaxPatchAgeDays:    v.GetInt("health.max_patch_age_days"),
			StaleAfter:         time.Duration(v.GetInt("health.stale_after_sec")) * time.Second,
		},
		ThrottleLimit: v.GetInt("engine.throttle_limit"),
		SessionTTL:    time.Duration(v.GetInt("engine.session_ttl_sec")) * time.Second,
		DedupWindow:   time.Duration(v.GetInt("engine.dedup_window_sec")) * time.Second,
		TokenSecret:   v.GetString("engine.token_secret"),
		AuditFallback: v.GetString("audit.fallback_path"),
		RedisAddr:     v.GetString("cache.redis_addr"),
	}
	if cfg.TokenSecret == "" {
		cfg.TokenSecret = "dev-secret"
	}
	sum := cfg.Health.AvailabilityWeight + cfg.Health.PerformanceWeight +
		cfg.Health.SecurityWeight + cfg.Health.ComplianceWeight
	if sum != 100 {
		return nil, fmt.Errorf("health weights must sum to 100, got %d", sum)
	}
	if cfg.ThrottleLimit <= 0 {
		return nil, fmt.Errorf("throttle_limit must be positive, got %d", cfg.ThrottleLimit)
	}
	return cfg, nil
}

// Default returns the built-in settings without reading a file; tests and
// single-node deployments start from this.
func Default() *Config {
	return &Config{
		DB:        DB{Driver: "sqlite", Path: ":memory:"},
		Transport: Transport{SecurePort: 8986, PlainPort: 8985, ConnectTimeout: 5 * time.Second, ExecTimeout: 60 * time.Second},
		Retry:     Retry{MaxRetries: 3, InitialDelay: 2 * time.Second},
		CacheTTL:  CacheTTL{DeviceStatus: 300 * time.Second, Inventory: 86400 * time.Second, Configuration: 3600 * time.Second},
		Health: Health{
			AvailabilityWeight: 25, PerformanceWeight: 25, SecurityWeight: 25, ComplianceWeight: 25,
			CPUWarnPercent: 90, MemoryWarnPercent: 90, DiskWarnPercent: 85,
			MaxPatchAgeDays: 30, StaleAfter: 15 * time.Minute,
		},
		ThrottleLimit: 50,
		SessionTTL:    300 * time.Second,
		DedupWindow:   time.Hour,
		TokenSecret:   "dev-secret",
		AuditFallback: "audit-fallback.jsonl",
	}
}
