// Package spec is the service topology file: which handlers a process runs
// and what they are wired to.
package spec

import "time"

type kafkaSection struct {
	Driver string `yaml:"driver"` // consumer driver, default sarama
	Config string `yaml:"config"` // kafka config file, relative to this file
	// DryRun prints published records instead of producing them.
	DryRun bool `yaml:"dry_run"`
}

type LedgerSection struct {
	Kind      string   `yaml:"kind"` // memory | tigerbeetle
	ClusterID uint64   `yaml:"cluster_id"`
	Addresses []string `yaml:"addresses"`
}

type StoreSection struct {
	Kind     string `yaml:"kind"` // memory | postgres
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
	// Migrate applies the embedded migrations on startup.
	Migrate bool `yaml:"migrate"`
}

type SagaSection struct {
	Scale        int32         `yaml:"scale"`
	HoldTimeout  time.Duration `yaml:"hold_timeout"`
	AccountFlags []string      `yaml:"account_flags"`
	Namespace    string        `yaml:"namespace"`
	// RetryPolicy bounds how often a batch of saga events is sent.
	RetryPolicy struct {
		Attempts  int `yaml:"attempts"`
		BackoffMS int `yaml:"backoff_ms"`
	} `yaml:"retry_policy"`
}

type FraudSection struct {
	Threshold string `yaml:"threshold"`
}

// TelemetrySection ports default to 9100 and 7070. A negative metrics port
// disables the HTTP endpoint; a negative grpc port picks a free one.
type TelemetrySection struct {
	MetricsPort int `yaml:"metrics_port"`
	GRPCPort    int `yaml:"grpc_port"`
}

type LogSection struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`

	// Role names the service; consumer groups are scoped by it.
	Role string `yaml:"role"`

	Kafka kafkaSection `yaml:"kafka"`

	// Handlers lists the topics this process consumes.
	Handlers []string `yaml:"handlers"`
	// Responders lists the rpcs this process answers.
	Responders []string `yaml:"responders"`

	Ledger    LedgerSection    `yaml:"ledger"`
	Store     StoreSection     `yaml:"store"`
	Saga      SagaSection      `yaml:"saga"`
	Fraud     FraudSection     `yaml:"fraud"`
	Telemetry TelemetrySection `yaml:"telemetry"`
	Log       LogSection       `yaml:"log"`
}
