// Package stdout is a dry-run sink: records are printed instead of produced.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"ledgerflow/internal/codec"
	"ledgerflow/sink"
)

/* ────────── public config ────────── */
type Config struct {
	PrintCounter bool      `yaml:"print_counter"` // prepend seq#
	Out          io.Writer `yaml:"-"`             // defaults to os.Stdout
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config

	mu     sync.Mutex // serialises writes
	closed bool
}

var seq uint64

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}
	d.cfg = c
	return nil
}

func (d *driver) Publish(ctx context.Context, msgs ...codec.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("stdout-sink: closed")
	}
	for _, m := range msgs {
		prefix := ""
		if d.cfg.PrintCounter {
			prefix = fmt.Sprintf("[sink %06d] ", atomic.AddUint64(&seq, 1))
		}
		if _, err := fmt.Fprintf(d.cfg.Out, "%s%s key=%s%s %s\n",
			prefix, m.Topic, m.Key, formatHeaders(m.Headers), m.Value); err != nil {
			return err
		}
	}
	return nil
}

func (d *driver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func formatHeaders(h map[string]string) string {
	if len(h) == 0 {
		return ""
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, h[k])
	}
	return b.String()
}

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
