// Package sink holds the publishers records are written to. Drivers register
// themselves by name from init().
package sink

import (
	"fmt"

	"ledgerflow/internal/batch"
)

// Adapter is the common behaviour every sink exposes.
type Adapter interface {
	Configure(any) error // driver-specific config ⇒ struct
	batch.Publisher      // Publish is one produce request; Close is idempotent
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}
