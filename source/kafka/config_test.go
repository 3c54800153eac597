package kafka

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/IBM/sarama"
)

func TestLoadConfig_FileEnvAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kafka.yml")
	yml := `schema_version: v1
brokers: ["k1:9092", "k2:9092"]
version: "3.6.0"
batch:
  max_size: 100
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LEDGERFLOW_KAFKA__BATCH__LINGER", "25ms")
	t.Setenv("LEDGERFLOW_KAFKA__CLIENT_ID", "saga-1")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Brokers) != 2 || cfg.Brokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.Brokers)
	}
	if cfg.Batch.MaxSize != 100 || cfg.Batch.Linger != 25*time.Millisecond {
		t.Fatalf("batch = %+v", cfg.Batch)
	}
	if cfg.ClientID != "saga-1" {
		t.Fatalf("client_id = %q", cfg.ClientID)
	}
	if cfg.StartFrom != "oldest" || cfg.Checkpoint.CommitInt != 5*time.Second {
		t.Fatalf("defaults not applied: %+v", cfg)
	}

	sc, err := cfg.Sarama()
	if err != nil {
		t.Fatal(err)
	}
	if sc.Consumer.Offsets.AutoCommit.Enable {
		t.Fatal("auto-commit must be disabled")
	}
	if sc.Consumer.Offsets.Initial != sarama.OffsetOldest {
		t.Fatal("want oldest initial offset")
	}
}

func TestLoadConfig_RejectsUnknownSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kafka.yml")
	if err := os.WriteFile(path, []byte("schema_version: v9\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected schema_version error")
	}
}

func TestLoadConfig_RejectsHeartbeatAboveSession(t *testing.T) {
	t.Setenv("LEDGERFLOW_KAFKA__SESSION_TIMEOUT", "1s")
	t.Setenv("LEDGERFLOW_KAFKA__HEARTBEAT_INTERVAL", "2s")
	if _, err := LoadConfig(""); err == nil {
		t.Fatal("expected heartbeat/session validation error")
	}
}

func TestEnvKey(t *testing.T) {
	if got := envKey("LEDGERFLOW_KAFKA__BACKPRESSURE__IN_FLIGHT"); got != "backpressure.in_flight" {
		t.Fatalf("envKey = %q", got)
	}
}
