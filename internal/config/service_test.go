package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadServiceSpec_ResolvesKafkaConfigAndDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "kafka.yml", "schema_version: v1\nbrokers: [\"k1:9092\"]\n")
	path := writeFile(t, dir, "service.yml", `schema_version: v1
role: transactions
kafka:
  config: kafka.yml
handlers: [transfer-request, transaction-fraud-validation]
responders: [transactions-create]
saga:
  hold_timeout: 10m
`)

	cfg, err := LoadServiceSpec(path)
	if err != nil {
		t.Fatalf("LoadServiceSpec: %v", err)
	}
	if !filepath.IsAbs(cfg.Kafka.Config) {
		t.Fatalf("want absolute kafka config path, got %q", cfg.Kafka.Config)
	}
	if cfg.Kafka.Driver != "sarama" || cfg.Ledger.Kind != "memory" || cfg.Store.Kind != "memory" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Saga.HoldTimeout != 10*time.Minute {
		t.Fatalf("hold_timeout: got %s", cfg.Saga.HoldTimeout)
	}

	kc, err := LoadKafkaConfig(cfg)
	if err != nil {
		t.Fatalf("LoadKafkaConfig: %v", err)
	}
	if len(kc.Brokers) != 1 || kc.Brokers[0] != "k1:9092" {
		t.Fatalf("brokers: got %v", kc.Brokers)
	}
}

func TestLoadServiceSpec_InvalidSchema(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "service.yml", "schema_version: v999\nrole: x\nhandlers: [transfer-request]\n")
	if _, err := LoadServiceSpec(path); err == nil {
		t.Fatal("expected error for invalid schema_version")
	}
}

func TestLoadServiceSpec_UnknownTopicIsStartupError(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "service.yml", `role: x
handlers: [transfer-request, transfer-requests]
responders: [nope]
store: { kind: postgres }
`)
	_, err := LoadServiceSpec(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"transfer-requests", "nope", "store.dsn"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestLoadServiceSpec_SampleConfigs(t *testing.T) {
	for _, name := range []string{"saga.yml", "projector.yml"} {
		f, err := LoadServiceSpec(filepath.Join("..", "..", "configs", name))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if _, err := LoadKafkaConfig(f); err != nil {
			t.Fatalf("%s kafka config: %v", name, err)
		}
	}
}
