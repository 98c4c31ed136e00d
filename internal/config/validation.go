package config

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/robfig/cron/v3"

	"github.com/ajitpratap0/stratalloc/pkg/fitness"
	"github.com/ajitpratap0/stratalloc/pkg/optimizer"
	"github.com/ajitpratap0/stratalloc/pkg/timeseries"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Has reports whether field failed validation.
func (ve ValidationErrors) Has(field string) bool {
	for _, e := range ve {
		if e.Field == field {
			return true
		}
	}
	return false
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateRun()...)
	errors = append(errors, c.validateSearch()...)
	errors = append(errors, c.validateFiles()...)

	// Optional integrations are only checked when enabled
	if c.Database.Enabled {
		errors = append(errors, c.validateDatabase()...)
	}
	if c.Redis.Enabled {
		errors = append(errors, c.validateRedis()...)
	}
	if c.NATS.Enabled {
		errors = append(errors, c.validateNATS()...)
	}
	if c.Archive.Enabled {
		errors = append(errors, c.validateArchive()...)
	}
	if c.Publish.Enabled {
		errors = append(errors, c.validatePublish()...)
	}
	if c.API.Enabled {
		errors = append(errors, c.validateAPI()...)
	}
	if c.Schedule.Enabled {
		errors = append(errors, c.validateSchedule()...)
	}
	if c.Monitoring.EnableMetrics {
		errors = append(errors, validatePort("monitoring.prometheus_port", c.Monitoring.PrometheusPort)...)
	}

	errors = append(errors, c.validateEnvironmentRequirements()...)

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	if _, err := semver.NewVersion(c.App.Version); err != nil {
		errors = append(errors, ValidationError{
			Field:   "app.version",
			Message: fmt.Sprintf("Invalid version '%s': %v", c.App.Version, err),
		})
	}

	validEnvs := []string{"development", "staging", "production"}
	if !contains(validEnvs, c.App.Environment) {
		errors = append(errors, ValidationError{
			Field:   "app.environment",
			Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvs),
		})
	}

	if c.App.LogLevel == "" {
		errors = append(errors, ValidationError{
			Field:   "app.log_level",
			Message: "Log level is required (debug, info, warn, error)",
		})
	}

	if c.App.LogFormat != "json" && c.App.LogFormat != "console" {
		errors = append(errors, ValidationError{
			Field:   "app.log_format",
			Message: fmt.Sprintf("Invalid log format '%s'. Must be 'json' or 'console'", c.App.LogFormat),
		})
	}

	return errors
}

func (c *Config) validateRun() ValidationErrors {
	var errors ValidationErrors

	kind, kindErr := optimizer.ParseKind(c.Run.Algorithm)
	if kindErr != nil {
		errors = append(errors, ValidationError{
			Field:   "run.algorithm",
			Message: fmt.Sprintf("Unknown algorithm '%s'. Use one of %v or codes T/G/D/O/R", c.Run.Algorithm, optimizer.Kinds),
		})
	}

	metric, metricErr := fitness.ParseMetric(c.Run.Fitness)
	if metricErr != nil {
		errors = append(errors, ValidationError{
			Field:   "run.fitness",
			Message: fmt.Sprintf("Unknown fitness metric '%s'. Use one of %v or codes SH/SO/LI/RS/SE/MP/PD/CS", c.Run.Fitness, fitness.Metrics),
		})
	}

	if kindErr == nil && metricErr == nil {
		candidate := optimizer.Config{Kind: kind, Metric: metric, Min: c.Run.ContractsMin, Max: c.Run.ContractsMax}
		if err := candidate.Validate(); err != nil {
			errors = append(errors, ValidationError{
				Field:   "run",
				Message: err.Error(),
			})
		}
	}

	if c.Run.InSampleDays < 1 {
		errors = append(errors, ValidationError{
			Field:   "run.in_sample_days",
			Message: "In-sample period must be at least 1 day",
		})
	}

	if c.Run.OutSampleDays < 1 {
		errors = append(errors, ValidationError{
			Field:   "run.out_sample_days",
			Message: "Out-of-sample period must be at least 1 day",
		})
	}

	if c.Run.ContractsMin < 0 || c.Run.ContractsMax < c.Run.ContractsMin {
		errors = append(errors, ValidationError{
			Field:   "run.contracts_max",
			Message: fmt.Sprintf("Invalid contract range [%d, %d]", c.Run.ContractsMin, c.Run.ContractsMax),
		})
	}

	if c.Run.Workers < 0 {
		errors = append(errors, ValidationError{
			Field:   "run.workers",
			Message: "Workers must be non-negative",
		})
	}

	if c.Run.MultiplicationFactor <= 0 {
		errors = append(errors, ValidationError{
			Field:   "run.multiplication_factor",
			Message: "Multiplication factor must be greater than 0",
		})
	}

	if c.Run.ClusterThreshold < 0 || c.Run.ClusterThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "run.cluster_threshold",
			Message: fmt.Sprintf("Invalid cluster threshold %.2f. Must be between 0-1", c.Run.ClusterThreshold),
		})
	}

	if c.Run.ClusterDivisor < 0 {
		errors = append(errors, ValidationError{
			Field:   "run.cluster_divisor",
			Message: "Cluster divisor must be non-negative",
		})
	}

	if c.Run.Realtime {
		if c.Run.TradesLogLines < 1 {
			errors = append(errors, ValidationError{
				Field:   "run.trades_log_lines",
				Message: "Trade log tail must be at least 1 line in realtime mode",
			})
		}
		if c.Run.StrategyInactivityDays < 0 {
			errors = append(errors, ValidationError{
				Field:   "run.strategy_inactivity_days",
				Message: "Strategy inactivity timeout must be non-negative",
			})
		}
	}

	return errors
}

func (c *Config) validateSearch() ValidationErrors {
	var errors ValidationErrors

	if c.Search.MutationRate < 0 || c.Search.MutationRate > 1 {
		errors = append(errors, ValidationError{
			Field:   "search.mutation_rate",
			Message: fmt.Sprintf("Invalid mutation rate %.2f. Must be between 0-1", c.Search.MutationRate),
		})
	}

	if c.Search.EliteRatio < 0 || c.Search.EliteRatio > 1 {
		errors = append(errors, ValidationError{
			Field:   "search.elite_ratio",
			Message: fmt.Sprintf("Invalid elite ratio %.2f. Must be between 0-1", c.Search.EliteRatio),
		})
	}

	// Zero selects the default.
	if c.Search.Iterations != 0 && (c.Search.Iterations < optimizer.MinIterations || c.Search.Iterations > optimizer.MaxIterations) {
		errors = append(errors, ValidationError{
			Field:   "search.iterations",
			Message: fmt.Sprintf("Invalid iteration count %d. Must be between %d-%d", c.Search.Iterations, optimizer.MinIterations, optimizer.MaxIterations),
		})
	}

	if c.Search.PopulationSize < 0 || c.Search.Generations < 0 || c.Search.Iterations < 0 {
		errors = append(errors, ValidationError{
			Field:   "search",
			Message: "Population size, generations and iterations must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateFiles() ValidationErrors {
	var errors ValidationErrors

	if c.Files.DailyPnL == "" {
		errors = append(errors, ValidationError{
			Field:   "files.daily_pnl",
			Message: "Daily PnL file is required",
		})
	}

	if _, err := timeseries.ParseKind(c.Files.InputKind); err != nil {
		errors = append(errors, ValidationError{
			Field:   "files.input_kind",
			Message: "Input kind must be daily or cumulative",
		})
	}

	if c.Files.Allocation == "" {
		errors = append(errors, ValidationError{
			Field:   "files.allocation",
			Message: "Allocation file is required",
		})
	}

	if c.Run.Realtime && c.Files.TradeLog == "" {
		errors = append(errors, ValidationError{
			Field:   "files.trade_log",
			Message: "Trade log file is required in realtime mode",
		})
	}

	return errors
}

func (c *Config) validateDatabase() ValidationErrors {
	var errors ValidationErrors

	if c.Database.URL != "" {
		if !strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "Database URL must start with 'postgres://' or 'postgresql://'",
			})
		}
		return errors
	}

	if c.Database.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "database.host",
			Message: "Database host is required",
		})
	}

	errors = append(errors, validatePort("database.port", c.Database.Port)...)

	if c.Database.User == "" {
		errors = append(errors, ValidationError{
			Field:   "database.user",
			Message: "Database user is required",
		})
	}

	if c.Database.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "database.database",
			Message: "Database name is required",
		})
	}

	if c.Database.Password == "" && c.App.Environment != "development" {
		errors = append(errors, ValidationError{
			Field:   "database.password",
			Message: "Database password is required in non-development environments",
		})
	}

	if c.Database.PoolSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.pool_size",
			Message: "Database pool size must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateRedis() ValidationErrors {
	var errors ValidationErrors

	if c.Redis.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "redis.host",
			Message: "Redis host is required",
		})
	}

	errors = append(errors, validatePort("redis.port", c.Redis.Port)...)

	if c.Redis.TTLHours < 1 {
		errors = append(errors, ValidationError{
			Field:   "redis.ttl_hours",
			Message: "Redis TTL must be at least 1 hour",
		})
	}

	return errors
}

func (c *Config) validateNATS() ValidationErrors {
	var errors ValidationErrors

	if c.NATS.URL == "" {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL is required",
		})
	} else if !strings.HasPrefix(c.NATS.URL, "nats://") {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL must start with 'nats://'",
		})
	}

	if c.NATS.Subject == "" {
		errors = append(errors, ValidationError{
			Field:   "nats.subject",
			Message: "NATS subject is required",
		})
	}

	return errors
}

func (c *Config) validateArchive() ValidationErrors {
	var errors ValidationErrors

	if !strings.HasPrefix(c.Archive.URI, "mongodb://") && !strings.HasPrefix(c.Archive.URI, "mongodb+srv://") {
		errors = append(errors, ValidationError{
			Field:   "archive.uri",
			Message: "Archive URI must start with 'mongodb://' or 'mongodb+srv://'",
		})
	}

	if c.Archive.Database == "" || c.Archive.Collection == "" {
		errors = append(errors, ValidationError{
			Field:   "archive.collection",
			Message: "Archive database and collection are required",
		})
	}

	return errors
}

func (c *Config) validatePublish() ValidationErrors {
	var errors ValidationErrors

	if c.Publish.Bucket == "" {
		errors = append(errors, ValidationError{
			Field:   "publish.bucket",
			Message: "S3 bucket is required when publishing is enabled",
		})
	}

	if c.Publish.Region == "" {
		errors = append(errors, ValidationError{
			Field:   "publish.region",
			Message: "S3 region is required when publishing is enabled",
		})
	}

	if (c.Publish.AccessKeyID == "") != (c.Publish.SecretAccessKey == "") {
		errors = append(errors, ValidationError{
			Field:   "publish.access_key_id",
			Message: "access key id and secret access key must be set together",
		})
	}

	return errors
}

func (c *Config) validateAPI() ValidationErrors {
	errors := validatePort("api.port", c.API.Port)

	if c.API.RequestsPerSec <= 0 || c.API.Burst < 1 {
		errors = append(errors, ValidationError{
			Field:   "api.requests_per_sec",
			Message: "API rate limit and burst must be positive",
		})
	}

	return errors
}

func (c *Config) validateSchedule() ValidationErrors {
	var errors ValidationErrors

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.Schedule.Cron); err != nil {
		errors = append(errors, ValidationError{
			Field:   "schedule.cron",
			Message: fmt.Sprintf("Invalid cron expression '%s': %v", c.Schedule.Cron, err),
		})
	}

	if !c.Run.Realtime {
		errors = append(errors, ValidationError{
			Field:   "schedule.enabled",
			Message: "Scheduled runs require realtime mode",
		})
	}

	return errors
}

func (c *Config) validateEnvironmentRequirements() ValidationErrors {
	var errors ValidationErrors

	if c.App.Environment != "production" {
		return errors
	}

	if c.Database.Enabled {
		errors = append(errors, ValidateProductionSecrets(c)...)

		if c.Database.URL == "" && c.Database.SSLMode == "disable" {
			errors = append(errors, ValidationError{
				Field:   "database.ssl_mode",
				Message: "SSL must be enabled for database in production",
			})
		}
	}

	if c.Run.Seed != 0 {
		errors = append(errors, ValidationError{
			Field:   "run.seed",
			Message: "A fixed seed is for reproducing runs and must not be set in production",
		})
	}

	return errors
}

func validatePort(field string, port int) ValidationErrors {
	if port < 1 || port > 65535 {
		return ValidationErrors{{
			Field:   field,
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", port),
		}}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// ValidateAndLoad loads and validates configuration
// configPath can be empty to use default config locations
func ValidateAndLoad(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
