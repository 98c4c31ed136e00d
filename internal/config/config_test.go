//nolint:goconst // Test files use repeated strings for clarity
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/stratalloc/pkg/cluster"
	"github.com/ajitpratap0/stratalloc/pkg/fitness"
	"github.com/ajitpratap0/stratalloc/pkg/optimizer"
)

// getValidConfig returns a valid configuration for testing
func getValidConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "StratAlloc",
			Version:     "1.0.0",
			Environment: "development",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Run: RunConfig{
			Algorithm:              "T",
			Fitness:                "SH",
			InSampleDays:           300,
			OutSampleDays:          11,
			ContractsMin:           1,
			ContractsMax:           10,
			Parallel:               true,
			Realtime:               true,
			StrategyInactivityDays: 30,
			MultiplicationFactor:   1,
			TradesLogLines:         10000,
		},
		Search: SearchConfig{
			PopulationSize: 1000,
			Generations:    100,
			MutationRate:   0.1,
			EliteRatio:     0.2,
			Iterations:     5000,
			LearningRate:   0.1,
		},
		Files: FilesConfig{
			DailyPnL:   "DailyPnl.csv",
			TradeLog:   "TradeCompletionLog.csv",
			Allocation: "ContractsAllocation.csv",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "stratalloc",
			SSLMode:  "disable",
			PoolSize: 10,
		},
		Redis: RedisConfig{Host: "localhost", Port: 6379, TTLHours: 24},
		NATS:  NATSConfig{URL: "nats://localhost:4222", Subject: "stratalloc.allocation.updated"},
		API:   APIConfig{Host: "0.0.0.0", Port: 8080, RequestsPerSec: 10, Burst: 20},
		Schedule: ScheduleConfig{
			Cron: "0 30 23 * * FRI",
		},
	}
}

func validationErrors(t *testing.T, cfg *Config) ValidationErrors {
	t.Helper()
	err := cfg.Validate()
	require.Error(t, err)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	return verrs
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, getValidConfig().Validate())
}

func TestValidate_Run(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown algorithm", func(c *Config) { c.Run.Algorithm = "X" }, "run.algorithm"},
		{"unknown metric", func(c *Config) { c.Run.Fitness = "ZZ" }, "run.fitness"},
		{"constant needs heuristic", func(c *Config) { c.Run.Fitness = "CS" }, "run"},
		{"per strategy with drawdown", func(c *Config) { c.Run.Algorithm = "O"; c.Run.Fitness = "PD" }, "run"},
		{"zero in-sample", func(c *Config) { c.Run.InSampleDays = 0 }, "run.in_sample_days"},
		{"zero out-sample", func(c *Config) { c.Run.OutSampleDays = 0 }, "run.out_sample_days"},
		{"inverted range", func(c *Config) { c.Run.ContractsMin = 5; c.Run.ContractsMax = 2 }, "run.contracts_max"},
		{"zero factor", func(c *Config) { c.Run.MultiplicationFactor = 0 }, "run.multiplication_factor"},
		{"threshold above one", func(c *Config) { c.Run.ClusterThreshold = 1.5 }, "run.cluster_threshold"},
		{"no log tail", func(c *Config) { c.Run.TradesLogLines = 0 }, "run.trades_log_lines"},
		{"no trade log", func(c *Config) { c.Files.TradeLog = "" }, "files.trade_log"},
		{"bad mutation rate", func(c *Config) { c.Search.MutationRate = 2 }, "search.mutation_rate"},
		{"too few iterations", func(c *Config) { c.Search.Iterations = 5 }, "search.iterations"},
		{"too many iterations", func(c *Config) { c.Search.Iterations = 20000 }, "search.iterations"},
		{"bad version", func(c *Config) { c.App.Version = "one" }, "app.version"},
		{"bad environment", func(c *Config) { c.App.Environment = "qa" }, "app.environment"},
		{"bad log format", func(c *Config) { c.App.LogFormat = "xml" }, "app.log_format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidConfig()
			tt.mutate(cfg)
			verrs := validationErrors(t, cfg)
			assert.True(t, verrs.Has(tt.field), "expected error on %s, got %v", tt.field, verrs)
		})
	}
}

func TestValidate_OptionalSectionsOnlyWhenEnabled(t *testing.T) {
	cfg := getValidConfig()
	cfg.NATS.URL = "http://wrong"
	cfg.Schedule.Cron = "not a cron"
	assert.NoError(t, cfg.Validate())

	cfg.NATS.Enabled = true
	cfg.Schedule.Enabled = true
	verrs := validationErrors(t, cfg)
	assert.True(t, verrs.Has("nats.url"))
	assert.True(t, verrs.Has("schedule.cron"))
}

func TestValidate_Services(t *testing.T) {
	cfg := getValidConfig()
	cfg.Database.Enabled = true
	cfg.Database.URL = "mysql://x"
	cfg.Redis.Enabled = true
	cfg.Redis.TTLHours = 0
	cfg.Archive.Enabled = true
	cfg.Archive.URI = "localhost:27017"
	cfg.Publish.Enabled = true
	cfg.API.Enabled = true
	cfg.API.Port = 70000

	verrs := validationErrors(t, cfg)
	for _, field := range []string{"database.url", "redis.ttl_hours", "archive.uri", "archive.collection", "publish.bucket", "api.port"} {
		assert.True(t, verrs.Has(field), field)
	}
	assert.Contains(t, verrs.Error(), "Configuration validation failed")
}

func TestValidate_Production(t *testing.T) {
	cfg := getValidConfig()
	cfg.App.Environment = "production"
	cfg.Database.Enabled = true
	cfg.Database.Password = "postgres123"
	cfg.Run.Seed = 42

	verrs := validationErrors(t, cfg)
	assert.True(t, verrs.Has("database.password"))
	assert.True(t, verrs.Has("database.ssl_mode"))
	assert.True(t, verrs.Has("run.seed"))
}

func TestValidateSecret(t *testing.T) {
	assert.False(t, ValidateSecret("", "pw", 12, true).IsValid)
	assert.False(t, ValidateSecret("changeme-now-please", "pw", 12, true).IsValid)
	assert.False(t, ValidateSecret("short", "pw", 12, true).IsValid)

	weak := ValidateSecret("abcdefghijklmn", "pw", 12, true)
	assert.False(t, weak.IsValid)
	assert.Equal(t, "Weak", GetSecretStrengthDescription(weak.Strength))

	strong := ValidateSecret("Vq7#mLz2!pRt9&wK", "pw", 12, true)
	assert.True(t, strong.IsValid)
	assert.Equal(t, SecretStrengthStrong, strong.Strength)
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
run:
  algorithm: G
  fitness: SO
  in_sample_days: 120
  cluster_threshold: 0.9
  cluster_divisor: 2
`), 0o600))

	t.Setenv("STRATALLOC_RUN_OUT_SAMPLE_DAYS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "StratAlloc", cfg.App.Name)
	assert.Equal(t, 120, cfg.Run.InSampleDays)
	assert.Equal(t, 7, cfg.Run.OutSampleDays)
	assert.Equal(t, 10, cfg.Run.ContractsMax)
	assert.True(t, cfg.Run.Realtime)
	assert.Equal(t, optimizer.DefaultPopulationSize, cfg.Search.PopulationSize)
	assert.Equal(t, "localhost:6379", cfg.Redis.GetRedisAddr())

	wf, err := cfg.WalkForward()
	require.NoError(t, err)
	assert.Equal(t, optimizer.KindGradient, wf.Optimizer.Kind)
	assert.Equal(t, fitness.MetricSortino, wf.Optimizer.Metric)
	assert.Equal(t, 120, wf.InSampleDays)
	assert.Equal(t, 7, wf.OutSampleDays)
	assert.Equal(t, 0.9, wf.ClusterThreshold)
	assert.Equal(t, cluster.PolicyDivisor, wf.ClusterPolicy.Kind)
	assert.Equal(t, 2.0, wf.ClusterPolicy.Divisor)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("run:\n  algorithm: nope\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "run.algorithm"))

	_, err = ValidateAndLoad(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestGetDSN(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "alloc", SSLMode: "require"}
	assert.Equal(t, "postgres://u:p@db:5433/alloc?sslmode=require", db.GetDSN())

	db.URL = "postgres://override"
	assert.Equal(t, "postgres://override", db.GetDSN())
}

func TestInitLogger(t *testing.T) {
	defer func(prev zerolog.Logger, lvl zerolog.Level) {
		log.Logger = prev
		zerolog.SetGlobalLevel(lvl)
	}(log.Logger, zerolog.GlobalLevel())

	var buf bytes.Buffer
	InitLoggerWithOutput("warn", "json", &buf)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	logger := NewRunLogger("run-1", "gradient", "sharpe")
	logger.Warn().Msg("hello")
	assert.Contains(t, buf.String(), `"run_id":"run-1"`)
	assert.Contains(t, buf.String(), `"component":"run"`)

	InitLoggerWithOutput("bogus", "json", &buf)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestValidateStartup_MissingInput(t *testing.T) {
	cfg := getValidConfig()
	cfg.Files.TradeLog = filepath.Join(t.TempDir(), "missing.csv")

	v := NewValidator(cfg, ValidatorOptions{VerifyConnectivity: false})
	assert.Error(t, v.ValidateStartup(t.Context()))

	cfg.Files.TradeLog = filepath.Join(t.TempDir(), "trades.csv")
	require.NoError(t, os.WriteFile(cfg.Files.TradeLog, nil, 0o600))
	assert.NoError(t, v.ValidateStartup(t.Context()))
}
