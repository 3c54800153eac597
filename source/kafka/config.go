package kafka

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/IBM/sarama"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type BatchCfg struct {
	MaxSize int           `koanf:"max_size"` // records per handler call
	Linger  time.Duration `koanf:"linger"`   // wait for a batch to fill
}

type BackPressureCfg struct {
	Capacity int64 `koanf:"capacity"` // max unresolved records per claim
	InFlight int64 `koanf:"in_flight"` // max batches handled at once
}

type CheckpointCfg struct {
	CommitInt time.Duration `koanf:"commit_interval"` // flush cadence
}

type Config struct {
	Brokers   []string `koanf:"brokers"`
	ClientID  string   `koanf:"client_id"`
	Topics    []string `koanf:"topics"`
	GroupID   string   `koanf:"group_id"`
	StartFrom string   `koanf:"start_from"` // oldest|newest (default oldest)
	Version   string   `koanf:"version"`
	TLSEn     bool     `koanf:"tls_enabled"`
	SASLUser  string   `koanf:"sasl_user"`
	SASLPass  string   `koanf:"sasl_pass"`

	SessionTimeout    time.Duration `koanf:"session_timeout"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	Batch        BatchCfg        `koanf:"batch"`
	BackPressure BackPressureCfg `koanf:"backpressure"`
	Checkpoint   CheckpointCfg   `koanf:"checkpoint"`
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// LoadConfig merges YAML (if present) with env-vars
// (prefix `LEDGERFLOW_KAFKA__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	// schema version check (only when YAML is present)
	sv := k.String("schema_version")
	if sv != "" && sv != "v1" {
		return Config{}, fmt.Errorf("kafka schema_version %q not supported (want v1)", sv)
	}

	if err := k.Load(env.Provider("LEDGERFLOW_KAFKA__", ".", envKey), nil); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, cfg.validate()
}

// envKey maps LEDGERFLOW_KAFKA__BATCH__MAX_SIZE to batch.max_size.
func envKey(s string) string {
	s = s[len("LEDGERFLOW_KAFKA__"):]
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch {
		case i+1 < len(s) && s[i] == '_' && s[i+1] == '_':
			out = append(out, '.')
			i++
		case s[i] >= 'A' && s[i] <= 'Z':
			out = append(out, s[i]+('a'-'A'))
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

func applyDefaults(c *Config) {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	if c.ClientID == "" {
		c.ClientID = "ledgerflow"
	}
	if c.Version == "" {
		c.Version = "3.6.0"
	}
	if c.StartFrom == "" {
		c.StartFrom = "oldest"
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 3 * time.Second
	}
	if c.Batch.MaxSize <= 0 {
		c.Batch.MaxSize = 500
	}
	if c.Batch.Linger == 0 {
		c.Batch.Linger = 50 * time.Millisecond
	}
	if c.BackPressure.Capacity == 0 {
		c.BackPressure.Capacity = 30_000
	}
	if c.BackPressure.InFlight == 0 {
		c.BackPressure.InFlight = 8
	}
	if c.Checkpoint.CommitInt == 0 {
		c.Checkpoint.CommitInt = 5 * time.Second
	}
}

func (c Config) validate() error {
	if c.HeartbeatInterval >= c.SessionTimeout {
		return fmt.Errorf("kafka: heartbeat_interval %s must be below session_timeout %s",
			c.HeartbeatInterval, c.SessionTimeout)
	}
	if int64(c.Batch.MaxSize) > c.BackPressure.Capacity {
		return fmt.Errorf("kafka: batch.max_size %d exceeds backpressure.capacity %d",
			c.Batch.MaxSize, c.BackPressure.Capacity)
	}
	switch c.StartFrom {
	case "oldest", "newest":
	default:
		return fmt.Errorf("kafka: start_from %q (want oldest|newest)", c.StartFrom)
	}
	return nil
}

// Sarama builds the client config shared by consumers and producers.
// Offsets are never auto-committed; drivers mark and commit explicitly.
func (c Config) Sarama() (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = c.ClientID
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.AutoCommit.Enable = false
	sc.Consumer.Group.Session.Timeout = c.SessionTimeout
	sc.Consumer.Group.Heartbeat.Interval = c.HeartbeatInterval
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	if c.TLSEn {
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if c.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = c.SASLUser, c.SASLPass
	}
	switch c.StartFrom {
	case "newest":
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	return sc, nil
}
