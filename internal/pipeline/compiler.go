package pipeline

import (
	"errors"
	"fmt"

	"ledgerflow/internal/batch"
	"ledgerflow/internal/broker"
	"ledgerflow/internal/events"
	"ledgerflow/internal/projector"
	"ledgerflow/internal/rpc"
	"ledgerflow/internal/saga"
	"ledgerflow/internal/spec"
)

// Deps are the components handlers are compiled against. Saga is needed by
// saga topics and responders, Projector by read-model topics.
type Deps struct {
	Transport broker.Transport
	Publisher batch.Publisher
	Saga      *saga.Saga
	Projector *projector.Projector
}

// Compile maps the handlers and responders named in f onto implementations.
// Unknown names and missing dependencies are startup errors.
func Compile(f spec.File, d Deps) (*Runner, error) {
	if d.Transport == nil {
		return nil, errors.New("pipeline: transport is required")
	}
	r := NewRunner(d.Transport)
	for _, name := range f.Handlers {
		topic, err := events.ParseTopic(name)
		if err != nil {
			return nil, err
		}
		h, err := topicHandler(topic, d)
		if err != nil {
			return nil, fmt.Errorf("pipeline: handler %s: %w", topic, err)
		}
		r.Add(Subscription{
			Group:   broker.GroupName(f.Role, topic.String()),
			Topic:   topic.String(),
			Handler: h,
		})
	}
	for _, name := range f.Responders {
		call, err := events.ParseRPC(name)
		if err != nil {
			return nil, err
		}
		h, err := responder(call, d)
		if err != nil {
			return nil, fmt.Errorf("pipeline: responder %s: %w", call, err)
		}
		topic := events.RequestTopic(call)
		r.Add(Subscription{
			Group:   broker.GroupName(f.Role, topic),
			Topic:   topic,
			Handler: h,
		})
	}
	return r, nil
}

var (
	errNoSaga      = errors.New("saga is not configured")
	errNoProjector = errors.New("projector is not configured")
)

func topicHandler(t events.Topic, d Deps) (batch.Handler, error) {
	switch t {
	case events.TopicTransactionCreated:
		if d.Projector == nil {
			return nil, errNoProjector
		}
		return d.Projector.Created(), nil
	case events.TopicTransactionUpdate:
		if d.Projector == nil {
			return nil, errNoProjector
		}
		return d.Projector.Updated(), nil
	case events.TopicAccountCreated:
		if d.Projector == nil {
			return nil, errNoProjector
		}
		return d.Projector.Accounts(), nil
	}

	if d.Saga == nil {
		return nil, errNoSaga
	}
	switch t {
	case events.TopicTransferRequest:
		return d.Saga.Holds(), nil
	case events.TopicTransactionValidate:
		fc, err := d.Saga.FraudCheck()
		if err != nil {
			return nil, err
		}
		return fc, nil
	case events.TopicFraudValidation:
		return d.Saga.Settlement(), nil
	case events.TopicAccountCreate:
		return d.Saga.Provisioner(), nil
	}
	return nil, fmt.Errorf("no handler for topic %s", t)
}

func responder(call events.RPC, d Deps) (batch.Handler, error) {
	if d.Saga == nil {
		return nil, errNoSaga
	}
	if d.Publisher == nil {
		return nil, errors.New("publisher is not configured")
	}
	switch call {
	case events.RPCTransactionsCreate:
		return rpc.NewResponder[events.TransferRequest, events.TransactionCreated](call, d.Publisher, d.Saga.Holds().Reply), nil
	case events.RPCAccountsCreate:
		return rpc.NewResponder[events.AccountCreate, events.AccountCreated](call, d.Publisher, d.Saga.Provisioner().Reply), nil
	}
	return nil, fmt.Errorf("no responder for rpc %s", call)
}
