// Package broker hands out consumers and publishers for one log cluster.
// A Conn is built once per process and passed to every component that needs
// the log.
package broker

import (
	"fmt"

	"ledgerflow/internal/batch"
	"ledgerflow/sink"
	_ "ledgerflow/sink/kafka"
	"ledgerflow/sink/stdout"
	"ledgerflow/source/kafka"
)

// Transport is implemented by Conn and by memlog.Log.
type Transport interface {
	NewConsumer(group string, topics ...string) (batch.Consumer, error)
	NewPublisher() (batch.Publisher, error)
}

type Conn struct {
	cfg    kafka.Config
	driver string
	dryRun bool
}

type Option func(*Conn)

// WithDriver selects the consumer driver registered under name.
func WithDriver(name string) Option { return func(c *Conn) { c.driver = name } }

// WithDryRun prints published records instead of producing them.
func WithDryRun(on bool) Option { return func(c *Conn) { c.dryRun = on } }

func New(cfg kafka.Config, opts ...Option) *Conn {
	c := &Conn{cfg: cfg, driver: "sarama"}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Conn) NewConsumer(group string, topics ...string) (batch.Consumer, error) {
	a, err := kafka.NewAdapter(c.driver)
	if err != nil {
		return nil, err
	}
	cfg := c.cfg
	cfg.GroupID = group
	cfg.Topics = append([]string(nil), topics...)
	if err := a.Configure(cfg); err != nil {
		return nil, fmt.Errorf("broker: consumer %s: %w", group, err)
	}
	return a, nil
}

func (c *Conn) NewPublisher() (batch.Publisher, error) {
	name, cfg := "kafka", any(c.cfg)
	if c.dryRun {
		name, cfg = "stdout", stdout.Config{}
	}
	a, err := sink.NewAdapter(name)
	if err != nil {
		return nil, err
	}
	if err := a.Configure(cfg); err != nil {
		return nil, fmt.Errorf("broker: publisher: %w", err)
	}
	return a, nil
}

// GroupName scopes a consumer group to a service role and a topic.
func GroupName(role, topic string) string { return role + "." + topic }
