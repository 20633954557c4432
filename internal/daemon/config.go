// Package daemon loads configuration, wires the escrow components together
// and runs the heartbeat that drives their sweeps.
package daemon

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/zerolock-network/zerolock/internal/app/executor"
	"github.com/zerolock-network/zerolock/internal/domain"
	"github.com/zerolock-network/zerolock/internal/infra/events"
	"github.com/zerolock-network/zerolock/internal/infra/judge"
	"github.com/zerolock-network/zerolock/internal/infra/registry"
	"github.com/zerolock-network/zerolock/internal/infra/vault"
	"github.com/zerolock-network/zerolock/internal/infra/wasmhost"
)

// Config is the daemon's TOML configuration. Durations are strings in
// time.ParseDuration form ("60s", "720h").
type Config struct {
	API        APIConfig        `toml:"api"`
	Storage    StorageConfig    `toml:"storage"`
	Log        LogConfig        `toml:"log"`
	Identities IdentitiesConfig `toml:"identities"`
	Registry   RegistryConfig   `toml:"registry"`
	Vault      VaultConfig      `toml:"vault"`
	Judge      JudgeConfig      `toml:"judge"`
	Sandbox    SandboxConfig    `toml:"sandbox"`
	Heartbeat  HeartbeatConfig  `toml:"heartbeat"`
	Events     EventsConfig     `toml:"events"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns host:port.
func (c APIConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

type StorageConfig struct {
	Dir string `toml:"dir"` // empty means Home()
}

type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

// IdentitiesConfig names the in-process components and seeds governance.
type IdentitiesConfig struct {
	Registry     string   `toml:"registry"`
	Vault        string   `toml:"vault"`
	Judge        string   `toml:"judge"`
	FeeRecipient string   `toml:"fee_recipient"`
	Admins       []string `toml:"admins"`
}

type RegistryConfig struct {
	MinBounty        uint64 `toml:"min_bounty"`
	MinDurationHours int    `toml:"min_duration_hours"`
	MaxDurationHours int    `toml:"max_duration_hours"`
	MaxPayloadBytes  int    `toml:"max_payload_bytes"`
	MaxDescription   int    `toml:"max_description"`
	MaxOpenPerOwner  int    `toml:"max_open_per_owner"`
	SweepBatch       int    `toml:"sweep_batch"`
}

type VaultConfig struct {
	FeeBasisPoints  uint64 `toml:"fee_basis_points"`
	MinLock         uint64 `toml:"min_lock"`
	MaxLockDuration string `toml:"max_lock_duration"`
	SweepBatch      int    `toml:"sweep_batch"`
}

type JudgeConfig struct {
	AttackThresholdPercent uint64 `toml:"attack_threshold_percent"`
	CheckInterval          string `toml:"check_interval"`
	HistoryCap             int    `toml:"history_cap"`
	DisputeReviewPeriod    string `toml:"dispute_review_period"`
	CheckBatch             int    `toml:"check_batch"`
	MaxEvidenceBytes       int    `toml:"max_evidence_bytes"`
	SettlementWorkers      int    `toml:"settlement_workers"`
	SettlementTimeout      string `toml:"settlement_timeout"`
}

// SandboxConfig bounds the WebAssembly host that runs challenge targets.
type SandboxConfig struct {
	MemoryLimitPages uint32 `toml:"memory_limit_pages"`
	CallTimeout      string `toml:"call_timeout"`
	MaxTargets       int    `toml:"max_targets"`
	MaxCalls         int    `toml:"max_calls"`
}

type HeartbeatConfig struct {
	Interval string `toml:"interval"`
}

type EventsConfig struct {
	RedisURL   string `toml:"redis_url"` // empty disables Redis publishing
	Channel    string `toml:"channel"`
	BufferSize int    `toml:"buffer_size"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	reg := registry.DefaultConfig()
	vlt := vault.DefaultConfig()
	jdg := judge.DefaultConfig()
	sbx := wasmhost.DefaultConfig()
	exe := executor.DefaultConfig()
	return Config{
		API:     APIConfig{Host: "127.0.0.1", Port: 7420},
		Storage: StorageConfig{},
		Log:     LogConfig{Level: "info", Format: "text"},
		Identities: IdentitiesConfig{
			Registry:     string(reg.Identity),
			Vault:        string(vlt.Identity),
			Judge:        string(jdg.Identity),
			FeeRecipient: "zerolock-treasury",
		},
		Registry: RegistryConfig{
			MinBounty:        reg.MinBounty,
			MinDurationHours: int(reg.MinDuration / time.Hour),
			MaxDurationHours: int(reg.MaxDuration / time.Hour),
			MaxPayloadBytes:  reg.MaxPayloadBytes,
			MaxDescription:   reg.MaxDescription,
			MaxOpenPerOwner:  reg.MaxOpenPerOwner,
			SweepBatch:       reg.SweepBatch,
		},
		Vault: VaultConfig{
			FeeBasisPoints:  vlt.FeeBasisPoints,
			MinLock:         vlt.MinLock,
			MaxLockDuration: vlt.MaxLockDuration.String(),
			SweepBatch:      vlt.SweepBatch,
		},
		Judge: JudgeConfig{
			AttackThresholdPercent: jdg.AttackThresholdPercent,
			CheckInterval:          jdg.CheckInterval.String(),
			HistoryCap:             jdg.HistoryCap,
			DisputeReviewPeriod:    jdg.DisputeReviewPeriod.String(),
			CheckBatch:             jdg.CheckBatch,
			MaxEvidenceBytes:       jdg.MaxEvidenceBytes,
			SettlementWorkers:      exe.MaxConcurrent,
			SettlementTimeout:      exe.DefaultTimeout.String(),
		},
		Sandbox: SandboxConfig{
			MemoryLimitPages: sbx.MemoryLimitPages,
			CallTimeout:      sbx.CallTimeout.String(),
			MaxTargets:       sbx.MaxTargets,
			MaxCalls:         sbx.MaxCalls,
		},
		Heartbeat: HeartbeatConfig{Interval: "30s"},
		Events:    EventsConfig{Channel: "zerolock:events", BufferSize: 256},
		Metrics:   MetricsConfig{Enabled: true},
	}
}

// Home returns the daemon's data directory: $ZEROLOCK_HOME, else ~/.zerolock.
func Home() string {
	if env := os.Getenv("ZEROLOCK_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".zerolock")
}

// DefaultConfigPath is config.toml inside Home().
func DefaultConfigPath() string { return filepath.Join(Home(), "config.toml") }

// LoadConfig reads path over DefaultConfig. A missing file yields the
// defaults; unknown keys are an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return cfg, fmt.Errorf("parse %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// WriteTOML encodes the configuration.
func (c Config) WriteTOML(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// DataDir resolves the storage directory.
func (c Config) DataDir() string {
	if c.Storage.Dir != "" {
		return c.Storage.Dir
	}
	return Home()
}

// Validate checks values the components would otherwise silently default.
func (c Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	ids := c.Identities
	if ids.Registry == "" || ids.Vault == "" || ids.Judge == "" {
		return fmt.Errorf("identities.registry, vault and judge are required")
	}
	if ids.Registry == ids.Judge || ids.Registry == ids.Vault || ids.Vault == ids.Judge {
		return fmt.Errorf("component identities must be distinct")
	}
	if c.Registry.MinDurationHours <= 0 || c.Registry.MaxDurationHours < c.Registry.MinDurationHours {
		return fmt.Errorf("registry durations: need 0 < min_duration_hours <= max_duration_hours")
	}
	if c.Vault.FeeBasisPoints > 10_000 {
		return fmt.Errorf("vault.fee_basis_points %d exceeds 10000", c.Vault.FeeBasisPoints)
	}
	if c.Judge.AttackThresholdPercent == 0 || c.Judge.AttackThresholdPercent > 100 {
		return fmt.Errorf("judge.attack_threshold_percent must be within 1..100")
	}
	for key, v := range map[string]string{
		"vault.max_lock_duration":     c.Vault.MaxLockDuration,
		"judge.check_interval":        c.Judge.CheckInterval,
		"judge.dispute_review_period": c.Judge.DisputeReviewPeriod,
		"judge.settlement_timeout":    c.Judge.SettlementTimeout,
		"sandbox.call_timeout":        c.Sandbox.CallTimeout,
		"heartbeat.interval":          c.Heartbeat.Interval,
	} {
		if _, err := parseDuration(key, v); err != nil {
			return err
		}
	}
	if c.Events.RedisURL != "" {
		if err := c.redisConfig().Valid(); err != nil {
			return err
		}
	}
	return nil
}

// ─── Component Configs ──────────────────────────────────────────────────────
// These assume Validate has passed.

func (c Config) registryConfig() registry.Config {
	r := c.Registry
	return registry.Config{
		Identity:        domain.Identity(c.Identities.Registry),
		MinBounty:       r.MinBounty,
		MinDuration:     time.Duration(r.MinDurationHours) * time.Hour,
		MaxDuration:     time.Duration(r.MaxDurationHours) * time.Hour,
		MaxPayloadBytes: r.MaxPayloadBytes,
		MaxDescription:  r.MaxDescription,
		MaxOpenPerOwner: r.MaxOpenPerOwner,
		SweepBatch:      r.SweepBatch,
	}
}

func (c Config) vaultConfig() vault.Config {
	return vault.Config{
		Identity:        domain.Identity(c.Identities.Vault),
		FeeRecipient:    domain.Identity(c.Identities.FeeRecipient),
		FeeBasisPoints:  c.Vault.FeeBasisPoints,
		MinLock:         c.Vault.MinLock,
		MaxLockDuration: mustDuration(c.Vault.MaxLockDuration),
		SweepBatch:      c.Vault.SweepBatch,
	}
}

func (c Config) judgeConfig() judge.Config {
	j := c.Judge
	return judge.Config{
		Identity:               domain.Identity(c.Identities.Judge),
		RegistryIdentity:       domain.Identity(c.Identities.Registry),
		AttackThresholdPercent: j.AttackThresholdPercent,
		CheckInterval:          mustDuration(j.CheckInterval),
		HistoryCap:             j.HistoryCap,
		DisputeReviewPeriod:    mustDuration(j.DisputeReviewPeriod),
		CheckBatch:             j.CheckBatch,
		MaxEvidenceBytes:       j.MaxEvidenceBytes,
	}
}

func (c Config) executorConfig() executor.Config {
	return executor.Config{
		MaxConcurrent:  c.Judge.SettlementWorkers,
		DefaultTimeout: mustDuration(c.Judge.SettlementTimeout),
	}
}

func (c Config) sandboxConfig() wasmhost.Config {
	return wasmhost.Config{
		MemoryLimitPages: c.Sandbox.MemoryLimitPages,
		CallTimeout:      mustDuration(c.Sandbox.CallTimeout),
		MaxTargets:       c.Sandbox.MaxTargets,
		MaxCalls:         c.Sandbox.MaxCalls,
	}
}

func (c Config) redisConfig() events.RedisConfig {
	return events.RedisConfig{URL: c.Events.RedisURL, Channel: c.Events.Channel}
}

func (c Config) admins() []domain.Identity {
	out := make([]domain.Identity, 0, len(c.Identities.Admins))
	for _, a := range c.Identities.Admins {
		out = append(out, domain.Identity(a))
	}
	return out
}

func parseDuration(key, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, v)
	}
	return d, nil
}

func mustDuration(v string) time.Duration {
	d, _ := time.ParseDuration(v)
	return d
}
