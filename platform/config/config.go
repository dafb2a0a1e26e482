// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetRateLimitRPS() float64
	GetRateLimitBurst() int
}

// WebhookConfig provides settings for the inbound webhook endpoint.
type WebhookConfig interface {
	GetWebhookSecret() string
}

// PoliConfig provides settings for the Poli Digital CRM client.
type PoliConfig interface {
	GetPoliBaseURL() string
	GetPoliManagementURL() string
	GetPoliToken() string
	GetPoliCustomerID() string
	GetPoliChannelID() string
	GetHTTPTimeout() time.Duration
	GetRetryBackoff() []time.Duration
}

// ScheduleConfig provides settings for business-hours evaluation.
type ScheduleConfig interface {
	GetTimezone() string
	GetTemplatesInHours() []string
	GetTemplateOffHours() string
	GetTemplateDeterministic() bool
	GetWeekSchedule() map[string]string
}

// RoutingConfig provides the operator roster and queue routing rules.
type RoutingConfig interface {
	GetOperators() []OperatorEntry
	GetRegionalQueue() string
	GetRegionalOperators() []string
	GetRegionalPropertyCodes() []string
	GetAssignStrategy() string
}

// StoreConfig provides settings for the dedupe/cooldown store.
type StoreConfig interface {
	GetDedupeTTL() time.Duration
	GetSendCooldown() time.Duration
	GetRedisURL() string
}

// JobsConfig provides settings for the deferred reprocess queue.
type JobsConfig interface {
	GetRedisURL() string
	GetReprocessMaxAttempts() int
}

// =============================================================================
// Main Config Struct
// =============================================================================

// OperatorEntry is one operator in the configured roster.
type OperatorEntry struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// routingFile is the on-disk shape of the routing YAML file.
type routingFile struct {
	// Schedule maps lowercase weekday names ("sunday".."saturday") to
	// "HH:MM-HH:MM" windows. A missing or empty entry means closed that day.
	Schedule  map[string]string `yaml:"schedule"`
	Operators []OperatorEntry   `yaml:"operators"`
	Regional  struct {
		Queue         string   `yaml:"queue"`
		Operators     []string `yaml:"operators"`
		PropertyCodes []string `yaml:"property_codes"`
	} `yaml:"regional"`
}

// Supported operator assignment strategies.
const (
	StrategyRoundRobin = "round_robin"
	StrategyFairShare  = "fair_share"
)

// Config holds all application configuration values.
type Config struct {
	Env      string
	HTTPAddr string

	WebhookSecret string

	PoliBaseURL       string
	PoliManagementURL string
	PoliToken         string
	PoliCustomerID    string
	PoliChannelID     string

	TemplatesInHours      []string
	TemplateOffHours      string
	TemplateDeterministic bool
	Timezone              string

	AssignStrategy string

	DedupeTTL    time.Duration
	SendCooldown time.Duration
	HTTPTimeout  time.Duration
	RetryBackoff []time.Duration

	RedisURL             string
	ReprocessMaxAttempts int

	RateLimitRPS   float64
	RateLimitBurst int
	CORSAllowAll   bool
	CORSOrigins    []string

	routing routingFile
}

// =============================================================================
// Interface Implementations
// =============================================================================

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetRateLimitRPS() float64 { return c.RateLimitRPS }
func (c *Config) GetRateLimitBurst() int   { return c.RateLimitBurst }

// WebhookConfig implementation
func (c *Config) GetWebhookSecret() string { return c.WebhookSecret }

// PoliConfig implementation
func (c *Config) GetPoliBaseURL() string            { return c.PoliBaseURL }
func (c *Config) GetPoliManagementURL() string      { return c.PoliManagementURL }
func (c *Config) GetPoliToken() string              { return c.PoliToken }
func (c *Config) GetPoliCustomerID() string         { return c.PoliCustomerID }
func (c *Config) GetPoliChannelID() string          { return c.PoliChannelID }
func (c *Config) GetHTTPTimeout() time.Duration     { return c.HTTPTimeout }
func (c *Config) GetRetryBackoff() []time.Duration  { return c.RetryBackoff }

// ScheduleConfig implementation
func (c *Config) GetTimezone() string               { return c.Timezone }
func (c *Config) GetTemplatesInHours() []string     { return c.TemplatesInHours }
func (c *Config) GetTemplateOffHours() string       { return c.TemplateOffHours }
func (c *Config) GetTemplateDeterministic() bool    { return c.TemplateDeterministic }
func (c *Config) GetWeekSchedule() map[string]string { return c.routing.Schedule }

// RoutingConfig implementation
func (c *Config) GetOperators() []OperatorEntry        { return c.routing.Operators }
func (c *Config) GetRegionalQueue() string             { return c.routing.Regional.Queue }
func (c *Config) GetRegionalOperators() []string       { return c.routing.Regional.Operators }
func (c *Config) GetRegionalPropertyCodes() []string   { return c.routing.Regional.PropertyCodes }
func (c *Config) GetAssignStrategy() string            { return c.AssignStrategy }

// StoreConfig / JobsConfig implementation
func (c *Config) GetDedupeTTL() time.Duration   { return c.DedupeTTL }
func (c *Config) GetSendCooldown() time.Duration { return c.SendCooldown }
func (c *Config) GetRedisURL() string            { return c.RedisURL }
func (c *Config) GetReprocessMaxAttempts() int   { return c.ReprocessMaxAttempts }

// Load reads configuration from environment variables and the routing file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                   getEnv("APP_ENV", "development"),
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		WebhookSecret:         getEnv("WEBHOOK_SECRET", ""),
		PoliBaseURL:           getEnv("POLI_BASE_URL", ""),
		PoliManagementURL:     getEnv("POLI_MANAGEMENT_URL", ""),
		PoliToken:             getEnv("POLI_TOKEN", ""),
		PoliCustomerID:        getEnv("POLI_CUSTOMER_ID", ""),
		PoliChannelID:         getEnv("POLI_CHANNEL_ID", ""),
		TemplatesInHours:      splitCSV(getEnv("TEMPLATES_IN_HOURS", "")),
		TemplateOffHours:      getEnv("TEMPLATE_OFF_HOURS", ""),
		TemplateDeterministic: strings.EqualFold(getEnv("TEMPLATE_DETERMINISTIC", "false"), "true"),
		Timezone:              getEnv("TIMEZONE", "America/Sao_Paulo"),
		AssignStrategy:        getEnv("ASSIGN_STRATEGY", StrategyRoundRobin),
		RedisURL:              getEnv("REDIS_URL", ""),
		CORSAllowAll:          strings.EqualFold(getEnv("CORS_ALLOW_ALL", "true"), "true"),
		CORSOrigins:           splitCSV(getEnv("CORS_ORIGINS", "")),
	}

	// A typo'd value must fail startup, not silently turn a TTL or limit
	// into zero.
	var err error
	if cfg.DedupeTTL, err = envDuration("DEDUPE_TTL", "10m"); err != nil {
		return nil, err
	}
	if cfg.SendCooldown, err = envDuration("SEND_COOLDOWN", "30m"); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = envDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.RetryBackoff, err = parseBackoff(getEnv("RETRY_BACKOFF", "250ms,1s,4s")); err != nil {
		return nil, err
	}
	if cfg.ReprocessMaxAttempts, err = envInt("REPROCESS_MAX_ATTEMPTS", "2"); err != nil {
		return nil, err
	}
	if cfg.RateLimitRPS, err = envFloat("RATE_LIMIT_RPS", "10"); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = envInt("RATE_LIMIT_BURST", "20"); err != nil {
		return nil, err
	}

	routingPath := getEnv("ROUTING_CONFIG_PATH", "routing.yaml")
	routing, err := loadRoutingFile(routingPath)
	if err != nil {
		return nil, err
	}
	cfg.routing = routing

	if cfg.PoliBaseURL == "" {
		return nil, fmt.Errorf("POLI_BASE_URL is required")
	}
	if cfg.PoliToken == "" {
		return nil, fmt.Errorf("POLI_TOKEN is required")
	}
	if cfg.PoliCustomerID == "" {
		return nil, fmt.Errorf("POLI_CUSTOMER_ID is required")
	}
	if cfg.PoliChannelID == "" {
		return nil, fmt.Errorf("POLI_CHANNEL_ID is required")
	}
	if len(cfg.TemplatesInHours) == 0 {
		return nil, fmt.Errorf("TEMPLATES_IN_HOURS is required")
	}
	if cfg.TemplateOffHours == "" {
		return nil, fmt.Errorf("TEMPLATE_OFF_HOURS is required")
	}
	if len(cfg.routing.Operators) == 0 {
		return nil, fmt.Errorf("routing config %s must list at least one operator", routingPath)
	}
	switch cfg.AssignStrategy {
	case StrategyRoundRobin, StrategyFairShare:
	default:
		return nil, fmt.Errorf("ASSIGN_STRATEGY must be round_robin or fair_share, got %q", cfg.AssignStrategy)
	}
	if len(cfg.RetryBackoff) == 0 {
		return nil, fmt.Errorf("RETRY_BACKOFF must contain at least one delay")
	}

	return cfg, nil
}

func loadRoutingFile(path string) (routingFile, error) {
	var routing routingFile

	data, err := os.ReadFile(path)
	if err != nil {
		return routing, fmt.Errorf("read routing config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &routing); err != nil {
		return routing, fmt.Errorf("parse routing config %s: %w", path, err)
	}
	return routing, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func envDuration(key, fallback string) (time.Duration, error) {
	value := getEnv(key, fallback)
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, value)
	}
	return d, nil
}

func envInt(key, fallback string) (int, error) {
	value := getEnv(key, fallback)
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, value)
	}
	return result, nil
}

func envFloat(key, fallback string) (float64, error) {
	value := getEnv(key, fallback)
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, value)
	}
	return result, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func parseBackoff(value string) ([]time.Duration, error) {
	var delays []time.Duration
	for _, part := range splitCSV(value) {
		d, err := time.ParseDuration(part)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("RETRY_BACKOFF entries must be non-negative durations, got %q", part)
		}
		delays = append(delays, d)
	}
	return delays, nil
}
