package config

import "time"

// HeartbeatConfig configures the heartbeat producer and consumer.
type HeartbeatConfig struct {
	AsyncEnabled bool
	Topic        string
	DLQTopic     string
	Partitions   int
	DirectURL    string // fallback endpoint when discovery returns nothing

	Consumer ConsumerConfig

	MissThreshold       time.Duration
	RetirementThreshold time.Duration
	SweepSchedule       string
}

// ConsumerConfig configures the batch consumer.
type ConsumerConfig struct {
	Concurrency    int
	MaxPollRecords int
	FetchMinBytes  int
	FetchMaxWait   time.Duration
	MaxRetries     int
}

// RetryBudgetConfig configures the sliding-window retry budget.
type RetryBudgetConfig struct {
	Window             time.Duration
	MaxRetryPercentage float64
}

// DeadlineConfig configures request-deadline propagation.
type DeadlineConfig struct {
	Enabled bool
}

// CacheConfig configures the cache engine.
type CacheConfig struct {
	Provider             string
	CompressionThreshold int
	DefaultTTL           time.Duration
	L1MaxEntries         int
	RedisAddr            string
}

// Config aggregates all control-plane configuration.
type Config struct {
	ServiceName string
	HTTPAddr    string
	DatabaseURL string
	RedisAddr   string

	Heartbeat   HeartbeatConfig
	RetryBudget RetryBudgetConfig
	Deadline    DeadlineConfig
	Cache       CacheConfig

	LoadBalancerPolicy string
	ExpiryWindow       time.Duration
}

// Load resolves the full configuration from the environment.
func Load() Config {
	return Config{
		ServiceName: Get("app.name", "fleet-control"),
		HTTPAddr:    Get("app.http.addr", ":8080"),
		DatabaseURL: Get("app.database.url", ""),
		RedisAddr:   Get("app.redis.addr", ""),

		Heartbeat: HeartbeatConfig{
			AsyncEnabled: GetBool("app.heartbeat.async-enabled", true),
			Topic:        Get("app.heartbeat.kafka.topic", "heartbeat-queue"),
			DLQTopic:     Get("app.heartbeat.kafka.dlq-topic", "heartbeat-queue-dlq"),
			Partitions:   GetInt("app.heartbeat.kafka.partitions", 8),
			DirectURL:    Get("app.heartbeat.direct-url", ""),
			Consumer: ConsumerConfig{
				Concurrency:    GetInt("app.heartbeat.kafka.consumer.concurrency", 10),
				MaxPollRecords: GetInt("app.heartbeat.kafka.consumer.max-poll-records", 100),
				FetchMinBytes:  GetInt("app.heartbeat.kafka.consumer.fetch-min-bytes", 1024),
				FetchMaxWait:   GetDuration("app.heartbeat.kafka.consumer.fetch-max-wait-ms", 500*time.Millisecond),
				MaxRetries:     GetInt("app.heartbeat.kafka.consumer.max-retries", 3),
			},
			MissThreshold:       GetDuration("app.heartbeat.miss-threshold", 90*time.Second),
			RetirementThreshold: GetDuration("app.heartbeat.retirement-threshold", 24*time.Hour),
			SweepSchedule:       Get("app.heartbeat.sweep-schedule", "@every 30s"),
		},

		RetryBudget: RetryBudgetConfig{
			Window:             GetDuration("resilience.retry-budget.window", 10*time.Second),
			MaxRetryPercentage: GetFloat("resilience.retry-budget.max-retry-percentage", 20),
		},

		Deadline: DeadlineConfig{
			Enabled: GetBool("resilience.deadline-propagation.enabled", true),
		},

		Cache: CacheConfig{
			Provider:             Get("cache.provider", "TIERED"),
			CompressionThreshold: GetInt("cache.compression.threshold", 1024),
			DefaultTTL:           GetDuration("cache.default-ttl", 5*time.Minute),
			L1MaxEntries:         GetInt("cache.l1.max-entries", 10000),
			RedisAddr:            Get("cache.redis.addr", Get("app.redis.addr", "localhost:6379")),
		},

		LoadBalancerPolicy: Get("loadbalancer.policy", "ROUND_ROBIN"),
		ExpiryWindow:       GetDuration("app.approval.expiry-window", 72*time.Hour),
	}
}
