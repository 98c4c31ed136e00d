package config

// Default ports of the services a run talks to.
const (
	// APIServerPort serves the read-only allocations API.
	APIServerPort = 8080

	// MetricsPort serves /metrics and /health.
	MetricsPort = 9100

	PostgresPort = 5432
	RedisPort    = 6379
	NATSPort     = 4222
	MongoPort    = 27017
)
