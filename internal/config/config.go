// Package config loads the gate configuration: server settings, storage
// backends, admin credentials, and the per-endpoint escalation ladders.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rankgate/rankgate/internal/rule"
	"gopkg.in/yaml.v3"
)

// Environment variable overrides.
const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvDBConnection = "RANKGATE_DB_CONNECTION"
	EnvRedisAddr    = "RANKGATE_REDIS_ADDR"
	EnvJWTSecret    = "RANKGATE_JWT_SECRET"
)

const (
	defaultPort        = 8318
	defaultStandingTTL = time.Hour
	defaultJWTExpiry   = 24 * time.Hour
)

// Store-error policies for hosts wrapping the engine.
const (
	// OnStoreErrorDeny rejects requests when the stores are unreachable.
	OnStoreErrorDeny = "deny"
	// OnStoreErrorAllow admits requests when the stores are unreachable.
	OnStoreErrorAllow = "allow"
)

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// RedisConfig selects the shared Redis backend.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// DatabaseConfig selects the durable database backend.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// AdminConfig seeds the operator account.
type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// JWTConfig holds admin token settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// RuleConfig is the YAML shape of one limiting rule.
type RuleConfig struct {
	Hits      int           `yaml:"hits"`
	BatchTime time.Duration `yaml:"batch-time"`
	Delay     time.Duration `yaml:"delay"`
	BlockTime time.Duration `yaml:"block-time"`
	Escalate  *bool         `yaml:"escalate"`
	Message   string        `yaml:"message"`
	Reason    string        `yaml:"reason"`
	Groups    []string      `yaml:"groups"`
}

// Rule converts the YAML shape to the engine's rule model. Escalation
// defaults to on.
func (r RuleConfig) Rule() rule.Rule {
	return rule.Rule{
		Hits:       r.Hits,
		BatchTime:  r.BatchTime,
		Delay:      r.Delay,
		BlockTime:  r.BlockTime,
		NoEscalate: r.Escalate != nil && !*r.Escalate,
		Message:    r.Message,
		Reason:     r.Reason,
		Groups:     r.Groups,
	}
}

// RankConfig is one ladder tier. It is either a list of rules under `rules`
// or, as sugar for the common case, a single rule spelled inline.
type RankConfig struct {
	Rules []RuleConfig
}

// UnmarshalYAML accepts both the grouped and the single-rule forms.
func (k *RankConfig) UnmarshalYAML(value *yaml.Node) error {
	var grouped struct {
		Rules []RuleConfig `yaml:"rules"`
	}
	if errDecode := value.Decode(&grouped); errDecode == nil && len(grouped.Rules) > 0 {
		k.Rules = grouped.Rules
		return nil
	}
	var single RuleConfig
	if errDecode := value.Decode(&single); errDecode != nil {
		return errDecode
	}
	k.Rules = []RuleConfig{single}
	return nil
}

// EndpointConfig declares the ladder protecting one operation.
type EndpointConfig struct {
	Path   string       `yaml:"path"`
	Method string       `yaml:"method"`
	Ranks  []RankConfig `yaml:"ranks"`
}

// Key returns the storage namespace for the endpoint.
func (e EndpointConfig) Key() string {
	method := strings.ToUpper(strings.TrimSpace(e.Method))
	if method == "" {
		method = "ANY"
	}
	return method + " " + strings.TrimSpace(e.Path)
}

// Ladder converts the declared ranks to the engine's ladder model.
func (e EndpointConfig) Ladder() rule.Ladder {
	ladder := make(rule.Ladder, 0, len(e.Ranks))
	for _, rank := range e.Ranks {
		rules := make([]rule.Rule, 0, len(rank.Rules))
		for _, r := range rank.Rules {
			rules = append(rules, r.Rule())
		}
		ladder = append(ladder, rule.NewRank(rules...))
	}
	return ladder
}

// LoginLimitConfig protects the admin login with the engine itself.
type LoginLimitConfig struct {
	Disabled bool         `yaml:"disabled"`
	Ranks    []RankConfig `yaml:"ranks"`
}

// Config is the full gate configuration.
type Config struct {
	Port        int              `yaml:"port"`
	Database    DatabaseConfig   `yaml:"database"`
	Redis       RedisConfig      `yaml:"redis"`
	StandingTTL time.Duration    `yaml:"standing-ttl"`
	OnStoreErr  string           `yaml:"on-store-error"`
	Admin       AdminConfig      `yaml:"admin"`
	JWT         JWTConfig        `yaml:"jwt"`
	LoginLimit  LoginLimitConfig `yaml:"login-limit"`
	Endpoints   []EndpointConfig `yaml:"endpoints"`
}

// Load reads, validates, and defaults the configuration file. Every ladder
// is validated here so a bad rule fails at startup, never per request.
func Load(configPath string) (Config, error) {
	data, errRead := os.ReadFile(configPath)
	if errRead != nil {
		return Config{}, fmt.Errorf("read config file: %w", errRead)
	}
	var cfg Config
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return Config{}, fmt.Errorf("parse config file: %w", errUnmarshal)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if errValidate := cfg.Validate(); errValidate != nil {
		return Config{}, errValidate
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		c.Database.DSN = dsn
	}
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		c.Redis.Addr = addr
		c.Redis.Enabled = true
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		c.JWT.Secret = secret
	}
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = defaultPort
	}
	if c.StandingTTL <= 0 {
		c.StandingTTL = defaultStandingTTL
	}
	if c.OnStoreErr == "" {
		c.OnStoreErr = OnStoreErrorDeny
	}
	if c.JWT.Expiry <= 0 {
		c.JWT.Expiry = defaultJWTExpiry
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "rankgate"
	}
	if len(c.LoginLimit.Ranks) == 0 {
		c.LoginLimit.Ranks = defaultLoginRanks()
	}
}

// defaultLoginRanks is the built-in brute-force ladder for the admin login:
// five attempts per minute, escalating to a ten minute block.
func defaultLoginRanks() []RankConfig {
	return []RankConfig{
		{Rules: []RuleConfig{{Hits: 5, BatchTime: time.Minute, BlockTime: time.Minute}}},
		{Rules: []RuleConfig{{Hits: 5, BatchTime: time.Minute, BlockTime: 10 * time.Minute}}},
	}
}

// Validate fails fast on invalid ladders and policies.
func (c Config) Validate() error {
	switch c.OnStoreErr {
	case OnStoreErrorAllow, OnStoreErrorDeny:
	default:
		return fmt.Errorf("config: on-store-error must be %q or %q", OnStoreErrorAllow, OnStoreErrorDeny)
	}
	seen := make(map[string]struct{}, len(c.Endpoints))
	for _, endpoint := range c.Endpoints {
		if strings.TrimSpace(endpoint.Path) == "" {
			return fmt.Errorf("config: endpoint with empty path")
		}
		key := endpoint.Key()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("config: duplicate endpoint %q", key)
		}
		seen[key] = struct{}{}
		if errLadder := endpoint.Ladder().Validate(); errLadder != nil {
			return fmt.Errorf("config: endpoint %q: %w", key, errLadder)
		}
	}
	if !c.LoginLimit.Disabled {
		login := EndpointConfig{Ranks: c.LoginLimit.Ranks}
		if errLadder := login.Ladder().Validate(); errLadder != nil {
			return fmt.Errorf("config: login-limit: %w", errLadder)
		}
	}
	return nil
}

// Ladders returns the validated ladders keyed by endpoint key.
func (c Config) Ladders() map[string]rule.Ladder {
	out := make(map[string]rule.Ladder, len(c.Endpoints))
	for _, endpoint := range c.Endpoints {
		out[endpoint.Key()] = endpoint.Ladder()
	}
	return out
}

// LoginLadder returns the ladder guarding the admin login, or nil when
// disabled.
func (c Config) LoginLadder() rule.Ladder {
	if c.LoginLimit.Disabled {
		return nil
	}
	login := EndpointConfig{Ranks: c.LoginLimit.Ranks}
	return login.Ladder()
}
