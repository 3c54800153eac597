// Package events holds the topic contracts exchanged by the saga participants.
package events

import "fmt"

// Topic is the closed set of log topics this system consumes or produces.
type Topic string

const (
	TopicTransferRequest     Topic = "transfer-request"
	TopicTransactionCreated  Topic = "transaction-created"
	TopicTransactionValidate Topic = "transaction-validate"
	TopicFraudValidation     Topic = "transaction-fraud-validation"
	TopicTransactionUpdate   Topic = "transaction-update"
	TopicAccountCreate       Topic = "account-create"
	TopicAccountCreated      Topic = "account-created"
)

var topics = []Topic{
	TopicTransferRequest,
	TopicTransactionCreated,
	TopicTransactionValidate,
	TopicFraudValidation,
	TopicTransactionUpdate,
	TopicAccountCreate,
	TopicAccountCreated,
}

func Topics() []Topic { return append([]Topic(nil), topics...) }

func ParseTopic(s string) (Topic, error) {
	for _, t := range topics {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("events: unknown topic %q", s)
}

func (t Topic) String() string { return string(t) }

// RPC names a request/reply pair carried over two topics.
type RPC string

const (
	RPCTransactionsCreate RPC = "transactions-create"
	RPCAccountsCreate     RPC = "accounts-create"
)

func ParseRPC(s string) (RPC, error) {
	switch RPC(s) {
	case RPCTransactionsCreate, RPCAccountsCreate:
		return RPC(s), nil
	}
	return "", fmt.Errorf("events: unknown rpc %q", s)
}

func (r RPC) String() string { return string(r) }

// RequestTopic is where callers of r publish requests.
func RequestTopic(r RPC) string { return string(r) + "-requests" }

// ReplyTopic is where responders of r publish replies.
func ReplyTopic(r RPC) string { return string(r) + "-replies" }
