package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"ledgerflow/internal/events"
	"ledgerflow/internal/spec"
)

const SupportedSchema = "v1"

// LoadServiceSpec parses a service YAML, validates schema_version and the
// handler and responder names, applies defaults and makes the kafka config
// path absolute.
func LoadServiceSpec(path string) (spec.File, error) {
	var cfg spec.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, fmt.Errorf("service schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}
	if p := cfg.Kafka.Config; p != "" && !filepath.IsAbs(p) {
		cfg.Kafka.Config = filepath.Join(filepath.Dir(path), p)
	}
	applyDefaults(&cfg)
	return cfg, validate(cfg)
}

func applyDefaults(f *spec.File) {
	if f.Kafka.Driver == "" {
		f.Kafka.Driver = "sarama"
	}
	if f.Ledger.Kind == "" {
		f.Ledger.Kind = "memory"
	}
	if f.Store.Kind == "" {
		f.Store.Kind = "memory"
	}
	if f.Fraud.Threshold == "" {
		f.Fraud.Threshold = "1000.00"
	}
	if f.Telemetry.MetricsPort == 0 {
		f.Telemetry.MetricsPort = 9100
	}
	if f.Telemetry.GRPCPort == 0 {
		f.Telemetry.GRPCPort = 7070
	}
}

func validate(f spec.File) error {
	var errs []error
	if f.Role == "" {
		errs = append(errs, errors.New("role is required"))
	}
	if len(f.Handlers) == 0 && len(f.Responders) == 0 {
		errs = append(errs, errors.New("at least one handler or responder is required"))
	}
	for _, h := range f.Handlers {
		if _, err := events.ParseTopic(h); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range f.Responders {
		if _, err := events.ParseRPC(r); err != nil {
			errs = append(errs, err)
		}
	}
	switch f.Ledger.Kind {
	case "memory":
	case "tigerbeetle":
		if len(f.Ledger.Addresses) == 0 {
			errs = append(errs, errors.New("ledger.addresses is required for tigerbeetle"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger kind %q", f.Ledger.Kind))
	}
	switch f.Store.Kind {
	case "memory":
	case "postgres":
		if f.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store kind %q", f.Store.Kind))
	}
	return errors.Join(errs...)
}
