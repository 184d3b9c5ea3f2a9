package config

import (
	"testing"
	"time"
)

func TestEnvName(t *testing.T) {
	cases := map[string]string{
		"app.heartbeat.async-enabled":                "APP_HEARTBEAT_ASYNC_ENABLED",
		"app.heartbeat.kafka.dlq-topic":              "APP_HEARTBEAT_KAFKA_DLQ_TOPIC",
		"app.heartbeat.kafka.consumer.max-retries":   "APP_HEARTBEAT_KAFKA_CONSUMER_MAX_RETRIES",
		"resilience.retry-budget.max-retry-percentage": "RESILIENCE_RETRY_BUDGET_MAX_RETRY_PERCENTAGE",
		"cache.provider":                             "CACHE_PROVIDER",
		"loadbalancer.policy":                        "LOADBALANCER_POLICY",
	}
	for key, want := range cases {
		if got := EnvName(key); got != want {
			t.Errorf("EnvName(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestGetBool(t *testing.T) {
	t.Setenv("APP_HEARTBEAT_ASYNC_ENABLED", "yes")
	if !GetBool("app.heartbeat.async-enabled", false) {
		t.Error("expected true for yes")
	}
	t.Setenv("APP_HEARTBEAT_ASYNC_ENABLED", "0")
	if GetBool("app.heartbeat.async-enabled", true) {
		t.Error("expected false for 0")
	}
}

func TestGetDuration(t *testing.T) {
	t.Setenv("APP_HEARTBEAT_KAFKA_CONSUMER_FETCH_MAX_WAIT_MS", "500")
	if got := GetDuration("app.heartbeat.kafka.consumer.fetch-max-wait-ms", 0); got != 500*time.Millisecond {
		t.Errorf("bare integer should parse as milliseconds, got %v", got)
	}
	t.Setenv("APP_HEARTBEAT_KAFKA_CONSUMER_FETCH_MAX_WAIT_MS", "2s")
	if got := GetDuration("app.heartbeat.kafka.consumer.fetch-max-wait-ms", 0); got != 2*time.Second {
		t.Errorf("duration string should parse, got %v", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	if cfg.Heartbeat.Topic != "heartbeat-queue" {
		t.Errorf("unexpected default topic %q", cfg.Heartbeat.Topic)
	}
	if cfg.Heartbeat.DLQTopic != "heartbeat-queue-dlq" {
		t.Errorf("unexpected default DLQ topic %q", cfg.Heartbeat.DLQTopic)
	}
	if cfg.Heartbeat.Consumer.Concurrency != 10 {
		t.Errorf("unexpected default concurrency %d", cfg.Heartbeat.Consumer.Concurrency)
	}
	if cfg.Heartbeat.Consumer.MaxRetries != 3 {
		t.Errorf("unexpected default max retries %d", cfg.Heartbeat.Consumer.MaxRetries)
	}
	if cfg.RetryBudget.MaxRetryPercentage != 20 {
		t.Errorf("unexpected default budget %v", cfg.RetryBudget.MaxRetryPercentage)
	}
	if cfg.Cache.Provider != "TIERED" {
		t.Errorf("unexpected default cache provider %q", cfg.Cache.Provider)
	}
	if cfg.LoadBalancerPolicy != "ROUND_ROBIN" {
		t.Errorf("unexpected default policy %q", cfg.LoadBalancerPolicy)
	}
}

func TestGetCSV(t *testing.T) {
	t.Setenv("APP_APPROVAL_SYS_ADMINS", "alice, bob ,carol")
	got := GetCSV("app.approval.sys-admins")
	if len(got) != 3 || got[0] != "alice" || got[1] != "bob" || got[2] != "carol" {
		t.Errorf("unexpected CSV parse: %v", got)
	}
}
