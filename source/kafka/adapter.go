// Package kafka consumes topic partitions in batches through a consumer
// group. Offsets are committed only up to the highest contiguous offset the
// batch handler resolved.
package kafka

import "ledgerflow/internal/batch"

type Adapter interface {
	Configure(Config) error
	batch.Consumer
}
