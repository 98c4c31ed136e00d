package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/stratalloc/pkg/cluster"
	"github.com/ajitpratap0/stratalloc/pkg/fitness"
	"github.com/ajitpratap0/stratalloc/pkg/optimizer"
	"github.com/ajitpratap0/stratalloc/pkg/walkforward"
)

// EnvPrefix prefixes every environment override, e.g. STRATALLOC_RUN_ALGORITHM.
const EnvPrefix = "STRATALLOC"

// envKeyReplacer maps nested keys to variable names (run.seed -> RUN_SEED).
var envKeyReplacer = strings.NewReplacer(".", "_")

// Config holds all application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Run        RunConfig        `mapstructure:"run"`
	Search     SearchConfig     `mapstructure:"search"`
	Files      FilesConfig      `mapstructure:"files"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Publish    PublishConfig    `mapstructure:"publish"`
	API        APIConfig        `mapstructure:"api"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // json or console
}

// RunConfig contains the walk-forward run parameters
type RunConfig struct {
	Algorithm              string  `mapstructure:"algorithm"` // name or code (T/G/D/O/R)
	Fitness                string  `mapstructure:"fitness"`   // name or code (SH/SO/LI/RS/SE/MP/PD/CS)
	InSampleDays           int     `mapstructure:"in_sample_days"`
	OutSampleDays          int     `mapstructure:"out_sample_days"`
	ContractsMin           int     `mapstructure:"contracts_min"`
	ContractsMax           int     `mapstructure:"contracts_max"`
	Parallel               bool    `mapstructure:"parallel"`
	Workers                int     `mapstructure:"workers"` // 0 = one task per window
	Realtime               bool    `mapstructure:"realtime"`
	StrategyInactivityDays int     `mapstructure:"strategy_inactivity_days"`
	MultiplicationFactor   float64 `mapstructure:"multiplication_factor"`
	Seed                   int64   `mapstructure:"seed"`              // base of the per-window seeds
	ClusterThreshold       float64 `mapstructure:"cluster_threshold"` // 0 disables reduction
	ClusterDivisor         float64 `mapstructure:"cluster_divisor"`   // > 0 selects divisor expansion
	TradesLogLines         int     `mapstructure:"trades_log_lines"`
}

// SearchConfig tunes the search algorithms
type SearchConfig struct {
	PopulationSize int     `mapstructure:"population_size"`
	Generations    int     `mapstructure:"generations"`
	MutationRate   float64 `mapstructure:"mutation_rate"`
	EliteRatio     float64 `mapstructure:"elite_ratio"`
	Iterations     int     `mapstructure:"iterations"`
	LearningRate   float64 `mapstructure:"learning_rate"`
}

// FilesConfig names the input and output files
type FilesConfig struct {
	DailyPnL     string `mapstructure:"daily_pnl"`
	InputKind    string `mapstructure:"input_kind"` // daily or cumulative
	TradeLog     string `mapstructure:"trade_log"`
	Allocation   string `mapstructure:"allocation"`
	ProfitReport string `mapstructure:"profit_report"`
	HTMLReport   string `mapstructure:"html_report"` // empty disables
	Manifest     string `mapstructure:"manifest"`    // empty disables
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"` // overrides the discrete fields when set
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTLHours int    `mapstructure:"ttl_hours"`
}

// NATSConfig contains NATS messaging settings
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// ArchiveConfig contains MongoDB run archive settings
type ArchiveConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// PublishConfig contains S3 upload settings
type PublishConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"` // optional, for S3-compatible stores

	// Static credentials; when empty the default AWS chain is used
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// APIConfig contains the read-only REST API settings
type APIConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Host           string  `mapstructure:"host"`
	Port           int     `mapstructure:"port"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec"`
	Burst          int     `mapstructure:"burst"`
}

// ScheduleConfig enables daemon mode
type ScheduleConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"` // six-field expression with seconds
}

// TracingConfig contains OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "StratAlloc")
	v.SetDefault("app.version", Version)
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	// Run defaults
	v.SetDefault("run.algorithm", string(optimizer.KindEvolutionary))
	v.SetDefault("run.fitness", string(fitness.MetricSharpe))
	v.SetDefault("run.in_sample_days", 300)
	v.SetDefault("run.out_sample_days", 11)
	v.SetDefault("run.contracts_min", 1)
	v.SetDefault("run.contracts_max", 10)
	v.SetDefault("run.parallel", true)
	v.SetDefault("run.workers", 0)
	v.SetDefault("run.realtime", true)
	v.SetDefault("run.strategy_inactivity_days", 30)
	v.SetDefault("run.multiplication_factor", 1.0)
	v.SetDefault("run.seed", 0)
	v.SetDefault("run.cluster_threshold", 0.0)
	v.SetDefault("run.cluster_divisor", 0.0)
	v.SetDefault("run.trades_log_lines", 10000)

	// Search defaults
	v.SetDefault("search.population_size", optimizer.DefaultPopulationSize)
	v.SetDefault("search.generations", optimizer.DefaultGenerations)
	v.SetDefault("search.mutation_rate", optimizer.DefaultMutationRate)
	v.SetDefault("search.elite_ratio", optimizer.DefaultEliteRatio)
	v.SetDefault("search.iterations", optimizer.DefaultIterations)
	v.SetDefault("search.learning_rate", optimizer.DefaultLearningRate)

	// File defaults
	v.SetDefault("files.daily_pnl", "DailyPnl.csv")
	v.SetDefault("files.input_kind", "daily")
	v.SetDefault("files.trade_log", "TradeCompletionLog.csv")
	v.SetDefault("files.allocation", "ContractsAllocation.csv")
	v.SetDefault("files.profit_report", "AccumulatedProfit.csv")
	v.SetDefault("files.html_report", "")
	v.SetDefault("files.manifest", "")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.url", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", PostgresPort)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "stratalloc")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", RedisPort)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.ttl_hours", 24*7)

	// NATS defaults
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", fmt.Sprintf("nats://localhost:%d", NATSPort))
	v.SetDefault("nats.subject", "stratalloc.allocation.updated")

	// Archive defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.uri", fmt.Sprintf("mongodb://localhost:%d", MongoPort))
	v.SetDefault("archive.database", "stratalloc")
	v.SetDefault("archive.collection", "runs")

	// Publish defaults
	v.SetDefault("publish.enabled", false)
	v.SetDefault("publish.bucket", "")
	v.SetDefault("publish.prefix", "allocations/")
	v.SetDefault("publish.endpoint", "")
	v.SetDefault("publish.region", "us-east-1")
	v.SetDefault("publish.access_key_id", "")
	v.SetDefault("publish.secret_access_key", "")

	// API defaults
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", APIServerPort)
	v.SetDefault("api.requests_per_sec", 10.0)
	v.SetDefault("api.burst", 20)

	// Schedule defaults: Friday evening after the last session closes
	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.cron", "0 30 23 * * FRI")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_ratio", 1.0)

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", MetricsPort)
	v.SetDefault("monitoring.enable_metrics", false)
}

// Note: Comprehensive validation is in validation.go
// The Config.Validate() method is called during Load()

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetTTL returns the cache entry lifetime
func (c *RedisConfig) GetTTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OptimizerConfig translates the run and search sections into a search
// configuration.
func (c *Config) OptimizerConfig() (optimizer.Config, error) {
	kind, err := optimizer.ParseKind(c.Run.Algorithm)
	if err != nil {
		return optimizer.Config{}, err
	}
	metric, err := fitness.ParseMetric(c.Run.Fitness)
	if err != nil {
		return optimizer.Config{}, err
	}

	return optimizer.Config{
		Kind:           kind,
		Metric:         metric,
		Min:            c.Run.ContractsMin,
		Max:            c.Run.ContractsMax,
		Seed:           c.Run.Seed,
		PopulationSize: c.Search.PopulationSize,
		Generations:    c.Search.Generations,
		MutationRate:   c.Search.MutationRate,
		EliteRatio:     c.Search.EliteRatio,
		Iterations:     c.Search.Iterations,
		LearningRate:   c.Search.LearningRate,
	}, nil
}

// WalkForward builds the driver configuration for this run.
func (c *Config) WalkForward() (walkforward.Config, error) {
	opt, err := c.OptimizerConfig()
	if err != nil {
		return walkforward.Config{}, err
	}

	policy := cluster.Policy{Kind: cluster.PolicyProportional}
	if c.Run.ClusterDivisor > 0 {
		policy = cluster.Policy{Kind: cluster.PolicyDivisor, Divisor: c.Run.ClusterDivisor}
	}

	return walkforward.Config{
		InSampleDays:     c.Run.InSampleDays,
		OutSampleDays:    c.Run.OutSampleDays,
		Optimizer:        opt,
		Parallel:         c.Run.Parallel,
		Workers:          c.Run.Workers,
		ClusterThreshold: c.Run.ClusterThreshold,
		ClusterPolicy:    policy,
	}, nil
}
