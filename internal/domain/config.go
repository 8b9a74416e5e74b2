package domain

import "github.com/shopspring/decimal"

// Config holds the complete engine configuration.
type Config struct {
	Server ServerConfig `json:"server"`

	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	Compliance ComplianceConfig `json:"compliance"`

	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// ComplianceConfig holds regulatory-engine settings.
type ComplianceConfig struct {
	// TemplateDir holds <report_type>.pdf templates and
	// <report_type>_fields.csv field maps.
	TemplateDir string `json:"templateDir"`

	// FontPath is the Thai-capable TTF embedded into emitted PDFs.
	FontPath string `json:"fontPath"`

	// OutputDir is the root of the <root>/<year>/<month>/ PDF partition.
	OutputDir string `json:"outputDir"`

	// ExcelDir receives BOT exports; empty means export bytes only.
	ExcelDir string `json:"excelDir"`

	// ProviderUSDThreshold triggers BOT_Provider for branch adjustments.
	ProviderUSDThreshold decimal.Decimal `json:"providerUsdThreshold"`

	// PendingWindowHours bounds the lookback when matching an approved
	// reservation to a committing transaction.
	PendingWindowHours int `json:"pendingWindowHours"`

	// AsyncPDF hands rendering to the bus worker instead of emitting
	// inline during materialization.
	AsyncPDF bool `json:"asyncPdf"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp
	Endpoint     string `json:"endpoint"`
}

// DefaultConfig returns a single-branch default: SQLite, in-memory cache,
// channel bus, inline PDF emission.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./naga.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Compliance: ComplianceConfig{
			TemplateDir:          "./assets/templates",
			FontPath:             "./assets/fonts/THSarabunNew.ttf",
			OutputDir:            "./reports",
			ExcelDir:             "./exports",
			ProviderUSDThreshold: decimal.NewFromInt(50000),
			PendingWindowHours:   72,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "naga",
		},
	}
}

// ClusterConfig returns a multi-branch deployment: PostgreSQL, Redis
// two-phase cache, NATS bus, async PDF emission.
func ClusterConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "naga",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Compliance.AsyncPDF = true
	cfg.Tracing.Enabled = true
	return cfg
}
