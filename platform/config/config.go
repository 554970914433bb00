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
	"github.com/robfig/cron/v3"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides service-token validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides Redis and asynq settings.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// AutomationConfig provides tuning knobs for the automation engine.
type AutomationConfig interface {
	GetDedupeWindow() time.Duration
	GetDefaultBatchSize() int
	GetMaxBatchSize() int
	GetMaxPages() int
	GetDispatchDelay() time.Duration
	GetHighValueThreshold() float64
	GetFirstContactTaskDelay() time.Duration
	GetSLAAlertCooldown() time.Duration
	GetStaleLeadAfter() time.Duration
	GetBusinessLocation() *time.Location
	GetPhoneRegion() string
}

// ScheduleConfig provides cron specs for the periodic automation jobs.
type ScheduleConfig interface {
	GetJobSchedules() map[string]string
	GetLedgerRetention() time.Duration
	GetLedgerCleanupInterval() time.Duration
	GetRunStatusTTL() time.Duration
}

// OracleConfig provides settings for the lead scoring oracle.
type OracleConfig interface {
	GetGeminiAPIKey() string
	GetGeminiModel() string
	IsOracleEnabled() bool
}

// Job names shared by the HTTP layer, the scheduler and the run-status store.
const (
	JobRules        = "rules"
	JobSLA          = "sla"
	JobDistribution = "distribution"
	JobTemperature  = "temperature"
	JobCadences     = "cadences"
)

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                   string
	HTTPAddr              string
	DatabaseURL           string
	MigrationsEnabled     bool
	JWTAccessSecret       string
	CORSAllowAll          bool
	CORSOrigins           []string
	CORSAllowCreds        bool
	RedisURL              string
	RedisTLSInsecure      bool
	AsynqQueueName        string
	AsynqConcurrency      int
	GeminiAPIKey          string
	GeminiModel           string
	DedupeWindow          time.Duration
	DefaultBatchSize      int
	MaxBatchSize          int
	MaxPages              int
	DispatchDelay         time.Duration
	HighValueThreshold    float64
	FirstContactTaskDelay time.Duration
	SLAAlertCooldown      time.Duration
	StaleLeadAfter        time.Duration
	BusinessLocation      *time.Location
	PhoneRegion           string
	JobSchedules          map[string]string
	LedgerRetention       time.Duration
	LedgerCleanupInterval time.Duration
	RunStatusTTL          time.Duration
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// AutomationConfig implementation
func (c *Config) GetDedupeWindow() time.Duration          { return c.DedupeWindow }
func (c *Config) GetDefaultBatchSize() int                { return c.DefaultBatchSize }
func (c *Config) GetMaxBatchSize() int                    { return c.MaxBatchSize }
func (c *Config) GetMaxPages() int                        { return c.MaxPages }
func (c *Config) GetDispatchDelay() time.Duration         { return c.DispatchDelay }
func (c *Config) GetHighValueThreshold() float64          { return c.HighValueThreshold }
func (c *Config) GetFirstContactTaskDelay() time.Duration { return c.FirstContactTaskDelay }
func (c *Config) GetSLAAlertCooldown() time.Duration      { return c.SLAAlertCooldown }
func (c *Config) GetStaleLeadAfter() time.Duration        { return c.StaleLeadAfter }
func (c *Config) GetBusinessLocation() *time.Location {
	if c.BusinessLocation == nil {
		return time.UTC
	}
	return c.BusinessLocation
}

func (c *Config) GetPhoneRegion() string { return c.PhoneRegion }

// ScheduleConfig implementation
func (c *Config) GetJobSchedules() map[string]string      { return c.JobSchedules }
func (c *Config) GetLedgerRetention() time.Duration       { return c.LedgerRetention }
func (c *Config) GetLedgerCleanupInterval() time.Duration { return c.LedgerCleanupInterval }
func (c *Config) GetRunStatusTTL() time.Duration          { return c.RunStatusTTL }

// OracleConfig implementation
func (c *Config) GetGeminiAPIKey() string { return c.GeminiAPIKey }
func (c *Config) GetGeminiModel() string  { return c.GeminiModel }
func (c *Config) IsOracleEnabled() bool   { return c.GeminiAPIKey != "" }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	location, err := time.LoadLocation(getEnv("BUSINESS_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("BUSINESS_TIMEZONE is invalid: %w", err)
	}

	cfg := &Config{
		Env:                   getEnv("APP_ENV", "development"),
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		MigrationsEnabled:     strings.EqualFold(getEnv("MIGRATIONS_ENABLED", "true"), "true"),
		JWTAccessSecret:       getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:          corsAllowAll,
		CORSOrigins:           corsOrigins,
		CORSAllowCreds:        strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RedisURL:              getEnv("REDIS_URL", ""),
		RedisTLSInsecure:      strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:        getEnv("ASYNQ_QUEUE", "automation"),
		AsynqConcurrency:      mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		DedupeWindow:          mustDuration(getEnv("AUTOMATION_DEDUPE_WINDOW", "24h")),
		DefaultBatchSize:      mustInt(getEnv("AUTOMATION_BATCH_SIZE", "200")),
		MaxBatchSize:          mustInt(getEnv("AUTOMATION_MAX_BATCH_SIZE", "2000")),
		MaxPages:              mustInt(getEnv("AUTOMATION_MAX_PAGES", "10")),
		DispatchDelay:         mustDuration(getEnv("AUTOMATION_DISPATCH_DELAY", "250ms")),
		HighValueThreshold:    mustFloat(getEnv("AUTOMATION_HIGH_VALUE_THRESHOLD", "50000")),
		FirstContactTaskDelay: mustDuration(getEnv("AUTOMATION_FIRST_CONTACT_DELAY", "15m")),
		SLAAlertCooldown:      mustDuration(getEnv("AUTOMATION_SLA_ALERT_COOLDOWN", "4h")),
		StaleLeadAfter:        mustDuration(getEnv("AUTOMATION_STALE_LEAD_AFTER", "24h")),
		BusinessLocation:      location,
		PhoneRegion:           getEnv("DEFAULT_PHONE_REGION", "US"),
		JobSchedules: map[string]string{
			JobRules:        getEnv("SCHEDULE_RULES", "*/15 * * * *"),
			JobSLA:          getEnv("SCHEDULE_SLA", "0 * * * *"),
			JobDistribution: getEnv("SCHEDULE_DISTRIBUTION", "*/5 * * * *"),
			JobTemperature:  getEnv("SCHEDULE_TEMPERATURE", "30 */6 * * *"),
			JobCadences:     getEnv("SCHEDULE_CADENCES", "0 9 * * *"),
		},
		LedgerRetention:       mustDuration(getEnv("AUTOMATION_LEDGER_RETENTION", "2160h")),
		LedgerCleanupInterval: mustDuration(getEnv("AUTOMATION_LEDGER_CLEANUP_INTERVAL", "1h")),
		RunStatusTTL:          mustDuration(getEnv("AUTOMATION_RUN_STATUS_TTL", "168h")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.DedupeWindow <= 0 {
		return nil, fmt.Errorf("AUTOMATION_DEDUPE_WINDOW must be a positive duration")
	}
	if cfg.DefaultBatchSize < 1 || cfg.MaxBatchSize < cfg.DefaultBatchSize {
		return nil, fmt.Errorf("AUTOMATION_BATCH_SIZE must be positive and not exceed AUTOMATION_MAX_BATCH_SIZE")
	}
	if cfg.MaxPages < 1 {
		return nil, fmt.Errorf("AUTOMATION_MAX_PAGES must be positive")
	}
	if err := ValidateSchedules(cfg.JobSchedules); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ValidateSchedules checks that every non-empty job schedule is a standard cron spec.
// An empty spec disables the periodic job.
func ValidateSchedules(schedules map[string]string) error {
	for job, spec := range schedules {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("schedule for %s job is invalid: %w", job, err)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
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

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
