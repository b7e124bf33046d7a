package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// DBConfig is embedded so its keys are read without a prefix.
type DBConfig struct {
	DSN                   string        `envconfig:"DB_DSN"`
	PoolMaxConns          int32         `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	PoolMinConns          int32         `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	PoolMaxConnLifetime   time.Duration `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:"30m"`
	PoolMaxConnIdleTime   time.Duration `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:"5m"`
	PoolHealthCheckPeriod time.Duration `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD" default:"1m"`
	ConnectTimeout        time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"3s"`
}

type SchedulerConfig struct {
	// "postgres" or "memory"
	StoreDriver string `envconfig:"SCHED_STORE" default:"postgres"`
	DBConfig

	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Interval       time.Duration `envconfig:"SCHED_INTERVAL" default:"30s"`
	MaxAttempts    int           `envconfig:"SCHED_MAX_ATTEMPTS" default:"3"`
	RetryDelay     time.Duration `envconfig:"SCHED_RETRY_DELAY" default:"2h"`
	Concurrency    int           `envconfig:"SCHED_CONCURRENCY" default:"5"`
	DynamicEnabled bool          `envconfig:"DYNAMIC_CONCURRENCY" default:"false"`
	DynamicMin     int           `envconfig:"SCHED_DYNAMIC_MIN" default:"1"`
	DynamicMax     int           `envconfig:"SCHED_MAX_CONCURRENCY" default:"10"`
	CPUThreshold   float64       `envconfig:"SCHED_CPU_THRESHOLD" default:"0.7"`
	MemThreshold   float64       `envconfig:"SCHED_MEM_THRESHOLD" default:"0.8"`
	SendTimeout    time.Duration `envconfig:"SCHED_SEND_TIMEOUT" default:"15s"`
	StoreTimeout   time.Duration `envconfig:"SCHED_STORE_TIMEOUT" default:"5s"`

	MessageTemplate string `envconfig:"SCHED_MESSAGE_TEMPLATE" default:"⏰ Scheduled reminder:\n\n{body}"`
	OverridesFile   string `envconfig:"SCHED_OVERRIDES_FILE"`
	ProcRoot        string `envconfig:"PROCFS_ROOT" default:"/proc"`

	// "gateway" or "sqs"
	Transport string `envconfig:"TRANSPORT" default:"gateway"`

	GatewayBaseURL    string `envconfig:"GATEWAY_BASE_URL" default:"http://localhost:8081"`
	GatewayAccountSID string `envconfig:"GATEWAY_ACCOUNT_SID" default:"local"`
	GatewayAuthToken  string `envconfig:"GATEWAY_AUTH_TOKEN"`
	GatewayFrom       string `envconfig:"GATEWAY_FROM"`

	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	OutboundQueueURL   string `envconfig:"SQS_OUTBOUND_QUEUE_URL"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`

	SendRPS             float64       `envconfig:"SEND_RPS" default:"5"`
	SendBurst           int           `envconfig:"SEND_BURST" default:"10"`
	BreakerTripFailures uint32        `envconfig:"BREAKER_TRIP_FAILURES" default:"10"`
	BreakerOpenTimeout  time.Duration `envconfig:"BREAKER_OPEN_TIMEOUT" default:"20s"`

	InferenceConcurrency     int           `envconfig:"LLM_CONCURRENCY" default:"2"`
	TranscriptionConcurrency int           `envconfig:"WHISPER_CONCURRENCY" default:"1"`
	QueueMemThresholdGB      float64       `envconfig:"QUEUE_MEM_THRESHOLD_GB" default:"4"`
	MemCheckInterval         time.Duration `envconfig:"MEM_CHECK_INTERVAL" default:"1s"`
	JobTimeout               time.Duration `envconfig:"JOB_TIMEOUT" default:"10m"`
}

// Tunables returns the hot-reloadable baseline derived from the environment.
func (c SchedulerConfig) Tunables() Tunables {
	return Tunables{
		Interval:    c.Interval,
		MaxAttempts: c.MaxAttempts,
		RetryDelay:  c.RetryDelay,
		Concurrency: c.Concurrency,
		Dynamic: DynamicTunables{
			Enabled:      c.DynamicEnabled,
			Min:          c.DynamicMin,
			Max:          c.DynamicMax,
			CPUThreshold: c.CPUThreshold,
			MemThreshold: c.MemThreshold,
		},
		QueueMemoryThreshold: GiB(c.QueueMemThresholdGB),
		MemoryCheckInterval:  c.MemCheckInterval,
	}
}

type APIConfig struct {
	StoreDriver string `envconfig:"SCHED_STORE" default:"postgres"`
	DBConfig

	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DefaultExpiry time.Duration `envconfig:"SCHED_DEFAULT_EXPIRY" default:"24h"`

	// Deletion candidates are kept in Redis when REDIS_ADDR is set.
	RedisAddr        string        `envconfig:"REDIS_ADDR"`
	RedisPassword    string        `envconfig:"REDIS_PASSWORD"`
	RedisDB          int           `envconfig:"REDIS_DB" default:"0"`
	DeletionCacheTTL time.Duration `envconfig:"DELETION_CACHE_TTL" default:"10m"`
}

type MockGatewayConfig struct {
	Port        string  `envconfig:"PORT" default:"8081"`
	AccountSID  string  `envconfig:"GATEWAY_ACCOUNT_SID" default:"local"`
	AuthToken   string  `envconfig:"GATEWAY_AUTH_TOKEN"`
	OutcomeMode string  `envconfig:"MOCK_OUTCOME_MODE" default:"fixed"`
	OutcomesRaw string  `envconfig:"MOCK_OUTCOMES" default:"ok"`
	SuccessRate float64 `envconfig:"MOCK_SUCCESS_RATE" default:"0.95"`
	DelayMs     int     `envconfig:"MOCK_DELAY_MS" default:"0"`
	LogFormat   string  `envconfig:"LOG_FORMAT" default:"json"`
}

func LoadScheduler() SchedulerConfig {
	var cfg SchedulerConfig
	load(&cfg)
	return cfg
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	load(&cfg)
	return cfg
}

func LoadMockGateway() MockGatewayConfig {
	var cfg MockGatewayConfig
	load(&cfg)
	return cfg
}

func load(cfg any) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()
	if err := envconfig.Process("", cfg); err != nil {
		panic(err)
	}
}

// GiB converts a (possibly fractional) GiB amount to bytes; non-positive disables.
func GiB(gb float64) uint64 {
	if gb <= 0 {
		return 0
	}
	return uint64(gb * (1 << 30))
}
