package broker

import (
	"testing"

	"ledgerflow/internal/broker/memlog"
	"ledgerflow/source/kafka"
)

var (
	_ Transport = (*Conn)(nil)
	_ Transport = (*memlog.Log)(nil)
)

func TestConn_DryRunPublisher(t *testing.T) {
	c := New(kafka.Config{}, WithDryRun(true))
	p, err := c.NewPublisher()
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestConn_UnknownDriver(t *testing.T) {
	c := New(kafka.Config{}, WithDriver("nope"))
	if _, err := c.NewConsumer("g", "transfer-request"); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func TestConn_ConsumerNeedsTopics(t *testing.T) {
	c := New(kafka.Config{})
	if _, err := c.NewConsumer("g"); err == nil {
		t.Fatal("expected missing topics error")
	}
}

func TestGroupName(t *testing.T) {
	if got := GroupName("saga", "transfer-request"); got != "saga.transfer-request" {
		t.Fatalf("GroupName = %q", got)
	}
}
