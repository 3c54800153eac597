package config

import (
	"ledgerflow/internal/spec"
	kcfg "ledgerflow/source/kafka"
)

// LoadKafkaConfig loads the kafka config a service spec points at. An empty
// path still yields defaults plus LEDGERFLOW_KAFKA__ overrides.
func LoadKafkaConfig(f spec.File) (kcfg.Config, error) {
	return kcfg.LoadConfig(f.Kafka.Config)
}
